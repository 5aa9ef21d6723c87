// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// String re-serializes a Rule. For any rule Parse accepted, Parse(r.String())
// produces an equivalent Rule: same identity, same option sequence, same
// sticky-buffer groupings (spec.md §8 invariant 1).
func (r *Rule) String() string {
	var b strings.Builder
	if !r.Activated {
		b.WriteString("# ")
	}
	if r.Protocol == "" && r.Source.Nets == nil {
		b.WriteString(r.Action)
	} else {
		dir := "->"
		if r.Bidirectional {
			dir = "<>"
		}
		fmt.Fprintf(&b, "%s %s %s %s %s", r.Action, r.Protocol, netString(r.Source), dir, netString(r.Destination))
	}
	b.WriteString(" (")

	current := PktData
	first := true
	writeSep := func() {
		if !first {
			b.WriteString(" ")
		}
		first = false
	}
	for _, opt := range r.Options {
		if opt.Kind != current {
			current = opt.Kind
			writeSep()
			fmt.Fprintf(&b, "%s;", current)
		}
		writeSep()
		b.WriteString(opt.String())
	}
	if r.Service != "" {
		writeSep()
		fmt.Fprintf(&b, "service:%s;", r.Service)
	}
	for _, fb := range r.Flowbits {
		writeSep()
		if fb.Name != "" {
			fmt.Fprintf(&b, "flowbits:%s,%s;", fb.Action, fb.Name)
		} else {
			fmt.Fprintf(&b, "flowbits:%s;", fb.Action)
		}
	}
	writeSep()
	fmt.Fprintf(&b, "gid:%d; sid:%d; rev:%d;", r.GID, r.SID, r.Revision)
	b.WriteString(")")
	return b.String()
}

func netString(n Network) string {
	return fmt.Sprintf("%s %s", listString(n.Nets), listString(n.Ports))
}

func listString(parts []string) string {
	if len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// String re-serializes one Option in rule-body syntax.
func (o *Option) String() string {
	switch o.OptionKind {
	case OptionContent:
		return o.Content.String()
	case OptionPcre:
		return o.Pcre.String()
	case OptionIsdataat:
		return o.Isdataat.String()
	case OptionByteTest:
		return o.ByteTest.String()
	default:
		if o.OtherRaw == "" {
			return fmt.Sprintf("%s;", o.OtherName)
		}
		return fmt.Sprintf("%s:%s;", o.OtherName, o.OtherRaw)
	}
}

// String re-serializes a Content option, including its modifiers in
// lexical order (depth, distance, fast_pattern, nocase, offset, within —
// alphabetical by modifier name) so serialization is deterministic.
func (c *Content) String() string {
	var b strings.Builder
	b.WriteString("content:")
	if c.Negated {
		b.WriteString("!")
	}
	b.WriteByte('"')
	b.WriteString(encodeContentPattern(c.MatchBytes))
	b.WriteByte('"')

	type mod struct {
		name string
		val  string
	}
	var mods []mod
	if c.HasDepth {
		mods = append(mods, mod{"depth", strconv.Itoa(c.Depth)})
	}
	if c.HasDistance {
		mods = append(mods, mod{"distance", strconv.Itoa(c.Distance)})
	}
	if c.FastPattern {
		mods = append(mods, mod{"fast_pattern", ""})
	}
	if c.Nocase {
		mods = append(mods, mod{"nocase", ""})
	}
	if c.HasOffset {
		mods = append(mods, mod{"offset", strconv.Itoa(c.Offset)})
	}
	if c.HasWithin {
		mods = append(mods, mod{"within", strconv.Itoa(c.Within)})
	}
	for _, m := range mods {
		if m.val == "" {
			fmt.Fprintf(&b, ",%s", m.name)
		} else {
			fmt.Fprintf(&b, ",%s %s", m.name, m.val)
		}
	}
	b.WriteString(";")
	return b.String()
}

// encodeContentPattern is the inverse of decodeMixedHex: printable ASCII
// bytes are written literally (escaping '"', '\\' and ';' the way
// unescapeOption expects), and any byte that is not printable ASCII, or
// is itself a literal '|', is written as a |hex hex| group so it round-trips
// through Parse unchanged.
func encodeContentPattern(data []byte) string {
	type run struct {
		hex   bool
		bytes []byte
	}
	var runs []run
	for _, by := range data {
		isHex := by == '|' || by < 0x20 || by > 0x7e
		if len(runs) > 0 && runs[len(runs)-1].hex == isHex {
			runs[len(runs)-1].bytes = append(runs[len(runs)-1].bytes, by)
		} else {
			runs = append(runs, run{hex: isHex, bytes: []byte{by}})
		}
	}

	var b strings.Builder
	for _, r := range runs {
		if r.hex {
			b.WriteByte('|')
			for i, by := range r.bytes {
				if i > 0 {
					b.WriteByte(' ')
				}
				fmt.Fprintf(&b, "%02X", by)
			}
			b.WriteByte('|')
			continue
		}
		for _, by := range r.bytes {
			switch by {
			case '"', '\\', ';':
				b.WriteByte('\\')
			}
			b.WriteByte(by)
		}
	}
	return b.String()
}

func (p *Pcre) String() string {
	var b strings.Builder
	b.WriteString("pcre:")
	if p.Negated {
		b.WriteString("!")
	}
	fmt.Fprintf(&b, "\"/%s/%s\";", p.Pattern, p.Flags)
	return b.String()
}

func (i *Isdataat) String() string {
	var b strings.Builder
	b.WriteString("isdataat:")
	if i.Negated {
		b.WriteString("!")
	}
	b.WriteString(strconv.Itoa(i.Location))
	if i.Relative {
		b.WriteString(",relative")
	}
	b.WriteString(";")
	return b.String()
}

func (bt *ByteTest) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "byte_test:%d,%s,%d,%d", bt.Count, bt.Operator, bt.Compare, bt.Offset)
	if bt.Relative {
		b.WriteString(",relative")
	}
	if bt.Endian != "" {
		fmt.Fprintf(&b, ",%s", bt.Endian)
	}
	b.WriteString(";")
	return b.String()
}
