// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package render implements the per-buffer signature canvas (spec.md §3,
// §4.3, component C3): it accepts options in order and materializes a byte
// string honoring their position/length predicates.
package render

import (
	"math/rand"
	"sort"

	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/rule"
)

// Strategy selects which placement rules a SignatureRender enforces for
// content options (spec.md §4.3 strategy-specific variants).
type Strategy int

const (
	StrategyPassThrough Strategy = iota
	StrategyBlend
	StrategyRepeat
	StrategyObfuscate
)

// Unbounded is the sentinel max_length value meaning "no upper bound".
const Unbounded = -1

// SignatureRender is a per-(buffer, protocol) mutable builder. It is
// constructed empty, fed options in order, rendered once, and then
// discarded — see spec.md §3 "SignatureRender" lifecycle.
type SignatureRender struct {
	chunks   []DataChunk
	minLen   int
	maxLen   int
	alphabet *alphabet
	cursor   int

	// GlobalPcreData holds concrete byte strings produced from non-R pcres,
	// reserved for future strategies per spec.md §3.
	GlobalPcreData [][]byte

	strategy Strategy
	rng      *rand.Rand
	logger   *logging.Logger

	// unsatisfiable latches true once a push has failed; once set, further
	// pushes are rejected (the mutator discards the whole batch anyway,
	// but this keeps the type's state consistent under misuse).
	unsatisfiable bool
}

// New constructs an empty SignatureRender. binary selects the padding
// alphabet (printable text vs full byte range); strategy selects content
// placement semantics; rng drives padding and length-bound sampling.
func New(binary bool, strategy Strategy, rng *rand.Rand, logger *logging.Logger) *SignatureRender {
	if logger == nil {
		logger = logging.Default()
	}
	var a *alphabet
	if binary {
		a = newBinaryAlphabet()
	} else {
		a = newTextAlphabet()
	}
	return &SignatureRender{
		maxLen:   Unbounded,
		alphabet: a,
		strategy: strategy,
		rng:      rng,
		logger:   logger.WithComponent("render"),
	}
}

// MinLength and MaxLength expose the current length bounds, mostly for
// tests; MaxLength returns Unbounded when there is no upper bound.
func (s *SignatureRender) MinLength() int { return s.minLen }
func (s *SignatureRender) MaxLength() int { return s.maxLen }
func (s *SignatureRender) Cursor() int    { return s.cursor }
func (s *SignatureRender) Chunks() []DataChunk {
	out := make([]DataChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// PushContent places a content option's bytes, or (if negated) removes its
// bytes from the padding alphabet. Returns false if the buffer is
// unsatisfiable as a result.
func (s *SignatureRender) PushContent(c *rule.Content) bool {
	if s.unsatisfiable {
		return false
	}
	if c.Negated {
		for _, b := range c.MatchBytes {
			s.alphabet.remove(b)
		}
		return true
	}

	if s.strategy == StrategyBlend && len(s.chunks) > 0 {
		return s.pushContentBlend(c)
	}
	return s.pushContentOrdered(c)
}

func (s *SignatureRender) pushContentOrdered(c *rule.Content) bool {
	n := len(c.MatchBytes)
	var index int

	switch {
	case len(s.chunks) == 0 && c.HasOffset:
		index = c.Offset
	case !c.HasOffset && !c.HasDepth && !c.HasDistance && !c.HasWithin:
		index = s.cursor
	case c.HasDistance || c.HasWithin:
		dist := 0
		if c.HasDistance {
			dist = c.Distance
		}
		index = s.cursor + dist
		if c.HasWithin && n > c.Within {
			return s.fail()
		}
	default: // offset and/or depth
		offset := 0
		if c.HasOffset {
			offset = c.Offset
		}
		if offset < s.cursor {
			if s.strategy == StrategyRepeat {
				// Interpret the offset as a skip over already-emitted
				// repetitions (spec.md §4.3 repetition variant).
				index = s.cursor + offset
			} else {
				return s.fail()
			}
		} else {
			index = offset
		}
		if c.HasDepth && n > c.Depth {
			return s.fail()
		}
	}

	if s.strategy != StrategyRepeat && s.overlaps(index, n) {
		return s.fail()
	}

	s.commit(index, c.MatchBytes)
	return true
}

// pushContentBlend places content by finding a gap between already-placed
// chunks that satisfies both the absolute (offset/depth) and relative
// (distance/within) constraints intersected, permitting multiple rules'
// options to coexist in one buffer (spec.md §4.3 blending variant).
func (s *SignatureRender) pushContentBlend(c *rule.Content) bool {
	n := len(c.MatchBytes)

	absLo, absHi := 0, -1
	if c.HasOffset {
		absLo = c.Offset
	}
	if c.HasDepth {
		absHi = absLo + c.Depth
	}

	relLo, relHi := 0, -1
	if c.HasDistance || c.HasWithin {
		dist := 0
		if c.HasDistance {
			dist = c.Distance
		}
		relLo = s.cursor + dist
		if c.HasWithin {
			relHi = relLo + c.Within
		}
	} else {
		relLo = absLo
		relHi = absHi
	}

	lo := maxInt(absLo, relLo)
	hi := minBound(absHi, relHi)
	if hi != -1 && lo+n > hi {
		return s.fail()
	}

	for _, gap := range s.gaps() {
		start := maxInt(gap.start, lo)
		end := start + n
		if end > gap.end {
			continue
		}
		if hi != -1 && end > hi {
			continue
		}
		s.commit(start, c.MatchBytes)
		return true
	}
	return s.fail()
}

type gapRange struct{ start, end int }

// gaps returns the open intervals between placed chunks, plus an unbounded
// interval after the last chunk.
func (s *SignatureRender) gaps() []gapRange {
	var gaps []gapRange
	cursor := 0
	for _, c := range s.chunks {
		if c.Index > cursor {
			gaps = append(gaps, gapRange{cursor, c.Index})
		}
		if c.end() > cursor {
			cursor = c.end()
		}
	}
	gaps = append(gaps, gapRange{cursor, 1 << 30})
	return gaps
}

// PushPcre draws one concrete sample from the regex and places it at the
// cursor. Negated pcre is accepted without producing bytes.
func (s *SignatureRender) PushPcre(p *rule.Pcre) bool {
	if s.unsatisfiable {
		return false
	}
	if p.Negated {
		return true
	}
	sample, ok := sampleRegex(p)
	if !ok {
		return s.fail()
	}
	index := s.cursor
	s.commit(index, sample)
	if !p.Relative {
		s.GlobalPcreData = append(s.GlobalPcreData, sample)
	}
	return true
}

// PushIsdataat tightens min_length or max_length per spec.md §4.3.
func (s *SignatureRender) PushIsdataat(id *rule.Isdataat) bool {
	if s.unsatisfiable {
		return false
	}
	anchor := 0
	if id.Relative {
		anchor = s.cursor
	}
	if id.Negated {
		tentativeMax := id.Location + anchor
		if s.minLen > tentativeMax {
			return s.fail()
		}
		s.maxLen = tentativeMax
		return true
	}
	tentativeMin := 1 + id.Location + anchor
	if s.maxLen != Unbounded && tentativeMin > s.maxLen {
		return s.fail()
	}
	s.minLen = tentativeMin
	return true
}

// PushByteTest raises min_length to cover the tested bytes; it never
// lowers max_length, and (per spec.md Open Questions) does not otherwise
// enforce byte_test's comparison semantics on generated bytes.
func (s *SignatureRender) PushByteTest(bt *rule.ByteTest) bool {
	if s.unsatisfiable {
		return false
	}
	anchor := 0
	if bt.Relative {
		anchor = s.cursor
	}
	candidate := anchor + bt.Offset + bt.Count
	if candidate <= s.minLen {
		return true
	}
	if s.maxLen != Unbounded && candidate > s.maxLen {
		return s.fail()
	}
	s.minLen = candidate
	return true
}

// Render walks the committed chunks, fills gaps with random padding from
// the alphabet, and pads to the length bounds.
func (s *SignatureRender) Render() []byte {
	var out []byte
	for _, c := range s.chunks {
		for len(out) < c.Index {
			out = append(out, s.alphabet.random(s.rng))
		}
		out = append(out, c.Bytes...)
	}
	if len(out) < s.minLen {
		target := s.minLen
		if s.maxLen != Unbounded && s.maxLen > s.minLen {
			target = s.minLen + s.rng.Intn(s.maxLen-s.minLen+1)
		}
		for len(out) < target {
			out = append(out, s.alphabet.random(s.rng))
		}
	}
	if s.maxLen != Unbounded && len(out) > s.maxLen {
		s.logger.Warn("rendered buffer exceeds max_length", "len", len(out), "max_length", s.maxLen)
	}
	return out
}

func (s *SignatureRender) overlaps(index, n int) bool {
	newEnd := index + n
	for _, c := range s.chunks {
		if index < c.end() && c.Index < newEnd {
			return true
		}
	}
	return false
}

func (s *SignatureRender) commit(index int, data []byte) {
	s.chunks = append(s.chunks, DataChunk{Index: index, Bytes: append([]byte(nil), data...)})
	sort.Slice(s.chunks, func(i, j int) bool { return s.chunks[i].Index < s.chunks[j].Index })
	end := index + len(data)
	if end > s.cursor {
		s.cursor = end
	}
}

func (s *SignatureRender) fail() bool {
	s.unsatisfiable = true
	return false
}

// Unsatisfiable reports whether any push has failed.
func (s *SignatureRender) Unsatisfiable() bool { return s.unsatisfiable }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// minBound treats -1 as "unbounded" and returns the finite bound, or -1 if
// both are unbounded.
func minBound(a, b int) int {
	if a == -1 {
		return b
	}
	if b == -1 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
