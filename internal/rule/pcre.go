// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// parsePcre parses a pcre option's value, e.g. `"/news_id=[^0-9]+/i"` or
// `!"/foo/R"`.
func parsePcre(value string) (*Pcre, error) {
	value = strings.TrimSpace(value)
	negated := false
	if strings.HasPrefix(value, "!") {
		negated = true
		value = strings.TrimSpace(value[1:])
	}

	inner, _, err := takeQuoted(value)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(inner, "/") {
		return nil, fmt.Errorf("pcre value must start with '/': %q", inner)
	}

	pattern, flags, err := splitPcreSlashes(inner)
	if err != nil {
		return nil, err
	}

	p := &Pcre{Pattern: pattern, Flags: flags, Negated: negated}
	for _, f := range flags {
		switch f {
		case 'i':
			p.CaseInsensitive = true
		case 's':
			p.DotAll = true
		case 'm':
			p.Multiline = true
		case 'x':
			p.ExtendedFmt = true
		case 'A':
			p.Anchored = true
		case 'R':
			p.Relative = true
		case 'G':
			p.Global = true
		case 'O':
			p.OOpt = true
		case 'E':
			p.EOpt = true
		}
	}
	return p, nil
}

// splitPcreSlashes splits "/pattern/flags" on the last unescaped '/'.
func splitPcreSlashes(s string) (pattern, flags string, err error) {
	escaped := false
	last := -1
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '/':
			last = i
		}
	}
	if last < 0 {
		return "", "", fmt.Errorf("pcre value missing closing '/': %q", s)
	}
	return s[1:last], s[last+1:], nil
}

// parseIsdataat parses "30" / "!30" / "30,relative" / "!30,relative".
func parseIsdataat(value string) (*Isdataat, error) {
	value = strings.TrimSpace(value)
	negated := false
	if strings.HasPrefix(value, "!") {
		negated = true
		value = strings.TrimSpace(value[1:])
	}
	parts := strings.Split(value, ",")
	loc, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("isdataat location: %w", err)
	}
	id := &Isdataat{Location: loc, Negated: negated}
	for _, p := range parts[1:] {
		if strings.TrimSpace(p) == "relative" {
			id.Relative = true
		}
	}
	return id, nil
}

// parseByteTest parses "count,operator,compare,offset[,relative][,endian]".
func parseByteTest(value string) (*ByteTest, error) {
	parts := strings.Split(value, ",")
	if len(parts) < 4 {
		return nil, fmt.Errorf("byte_test requires count,operator,compare,offset, got %q", value)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("byte_test count: %w", err)
	}
	compare, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, fmt.Errorf("byte_test compare: %w", err)
	}
	offset, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return nil, fmt.Errorf("byte_test offset: %w", err)
	}
	bt := &ByteTest{
		Count:    count,
		Operator: strings.TrimSpace(parts[1]),
		Compare:  compare,
		Offset:   offset,
	}
	for _, p := range parts[4:] {
		p = strings.TrimSpace(p)
		switch p {
		case "relative":
			bt.Relative = true
		case "little", "big", "dce":
			bt.Endian = p
		}
	}
	return bt, nil
}
