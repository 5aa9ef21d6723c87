// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

// OptionKind tags which concrete payload-relevant option an Option carries.
// Per the design notes this is a sum type consumed by the renderer via
// exhaustive case analysis, rather than a polymorphic option hierarchy.
type OptionKind int

const (
	OptionContent OptionKind = iota
	OptionPcre
	OptionIsdataat
	OptionByteTest
	// OptionOther covers every option preserved verbatim for idempotent
	// re-serialization (flow, msg, metadata, classtype, and any option the
	// parser does not otherwise recognize). flowbits, service, sid, rev and
	// gid are parsed into Rule fields instead.
	OptionOther
)

// Option is one parsed rule-body option, already routed to its sticky
// buffer by the parser. Exactly one of the typed fields is meaningful,
// selected by Kind.
type Option struct {
	Kind StickyBuffer `json:"-"` // sticky buffer active when Parse read this option

	OptionKind OptionKind

	Content   *Content
	Pcre      *Pcre
	Isdataat  *Isdataat
	ByteTest  *ByteTest
	OtherName string
	OtherRaw  string
}

// Content is a decoded content match plus its placement modifiers. Offset
// and Depth are absolute (measured from buffer start); Distance and Within
// are relative (measured from the renderer's cursor).
type Content struct {
	// MatchBytes is the decoded byte pattern: mixed ASCII and |hex hex|
	// segments collapsed into concrete bytes.
	MatchBytes []byte

	HasOffset bool
	Offset    int
	HasDepth  bool
	Depth     int

	HasDistance bool
	Distance    int
	HasWithin   bool
	Within      int

	Nocase      bool
	FastPattern bool
	Negated     bool
}

// Pcre is a regex-based content match.
type Pcre struct {
	// Pattern is the regex source, without the enclosing slashes.
	Pattern string
	// Flags is the raw flag string as written in the rule (e.g. "im").
	Flags string

	// Decoded flags.
	CaseInsensitive bool // i
	DotAll          bool // s
	Multiline       bool // m
	ExtendedFmt     bool // x
	Anchored        bool // A
	// Relative indicates the 'R' flag: match relative to the DOE cursor
	// instead of globally in the buffer.
	Relative bool
	// Global ('G') and 'O' / 'E' are accepted and preserved but do not
	// change renderer behavior; see spec.md §3.
	Global bool
	OOpt   bool
	EOpt   bool

	Negated bool
}

// Isdataat asserts a minimum or maximum buffer length at a location.
type Isdataat struct {
	Location int
	Relative bool
	Negated  bool
}

// ByteTest contributes only a minimum-length constraint to the renderer;
// its comparison semantics are not enforced on generated bytes (spec.md
// Open Questions).
type ByteTest struct {
	Count    int
	Operator string
	Compare  int
	Offset   int
	Relative bool
	Endian   string
	Bitmask  uint64
}
