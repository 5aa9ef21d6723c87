// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package template implements the wire-layout grammars (spec.md §4.4,
// component C4) that splice rendered per-buffer data into full protocol
// request/response byte strings.
package template

import "sort"

// Direction selects which side of a grammar's field list to populate or
// generate.
type Direction int

const (
	Request Direction = iota
	Response
)

// field is one named, ordered wire-layout slot. Separator fields (spaces,
// CRLFs) carry names no sticky buffer ever matches, so they keep their
// default bytes for the life of a Template.
type field struct {
	name string
	data []byte
}

func cloneFields(src []field) []field {
	out := make([]field, len(src))
	for i, f := range src {
		out[i] = field{name: f.name, data: append([]byte(nil), f.data...)}
	}
	return out
}

// Populated holds one grammar's request and response field lists after
// Populate has applied buffer overrides and protocol finalization.
type Populated struct {
	request  []field
	response []field
}

// Generate returns the concatenation of the named direction's field bytes,
// in template order.
func (p *Populated) Generate(dir Direction) []byte {
	fields := p.request
	if dir == Response {
		fields = p.response
	}
	var out []byte
	for _, f := range fields {
		out = append(out, f.data...)
	}
	return out
}

func fieldByName(fields []field, name string) int {
	for i, f := range fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

// Template owns one protocol's default request/response field layout and
// an optional finalize hook for protocol-specific bookkeeping (e.g. a
// Content-Length header).
type Template struct {
	name            string
	requestDefaults []field
	responseDefaults []field
	finalize        func(*Populated)
}

// Populate overrides default field bytes with values whose key matches a
// field name (independently in the request and response field lists, so a
// buffer name present in both lists — e.g. "http_header" — overrides both
// sides). Every value whose key matches no field name is concatenated onto
// the last field of both sides; map iteration order is unspecified, so
// unmatched keys are applied in sorted order for determinism.
func (t *Template) Populate(values map[string][]byte) *Populated {
	req, reqLeftover := applyOverrides(cloneFields(t.requestDefaults), values)
	resp, respLeftover := applyOverrides(cloneFields(t.responseDefaults), values)
	appendToLastField(req, reqLeftover)
	appendToLastField(resp, respLeftover)

	p := &Populated{request: req, response: resp}
	if t.finalize != nil {
		t.finalize(p)
	}
	return p
}

func applyOverrides(fields []field, values map[string][]byte) ([]field, [][]byte) {
	used := make(map[string]bool, len(values))
	for i := range fields {
		if v, ok := values[fields[i].name]; ok {
			fields[i].data = append([]byte(nil), v...)
			used[fields[i].name] = true
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if !used[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	leftover := make([][]byte, 0, len(keys))
	for _, k := range keys {
		leftover = append(leftover, values[k])
	}
	return fields, leftover
}

func appendToLastField(fields []field, leftover [][]byte) {
	if len(fields) == 0 || len(leftover) == 0 {
		return
	}
	last := &fields[len(fields)-1]
	for _, v := range leftover {
		last.data = append(last.data, v...)
	}
}

func ensureTrailingCRLF(fields []field, name string) {
	i := fieldByName(fields, name)
	if i < 0 {
		return
	}
	data := fields[i].data
	if len(data) == 0 || !hasSuffixCRLF(data) {
		fields[i].data = append(data, '\r', '\n')
	}
}

func hasSuffixCRLF(b []byte) bool {
	return len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n'
}
