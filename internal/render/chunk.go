// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package render

// DataChunk is one placed byte fragment inside a SignatureRender's canvas.
// Chunks in a canvas are ordered by Index ascending and may not overlap,
// except the deliberate repeated-chunk case under the repetition strategy
// (spec.md §3).
type DataChunk struct {
	Index int
	Bytes []byte
}

func (c DataChunk) end() int {
	return c.Index + len(c.Bytes)
}
