// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package template

// newFallback returns the single-field template used for protocols with no
// registered grammar: the request side is the raw pkt_data buffer, and the
// response side has no fields at all (generate(Response) yields nothing
// unless a future protocol-specific template defines one).
func newFallback() *Template {
	return &Template{
		name: "fallback",
		requestDefaults: []field{
			{name: "pkt_data", data: nil},
		},
		responseDefaults: nil,
	}
}
