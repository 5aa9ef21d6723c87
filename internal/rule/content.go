// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// parseContent parses a content option's value: an optionally-negated
// quoted pattern (mixed ASCII / |hex hex| syntax) followed by comma
// separated modifiers, e.g.:
//
//	!"authorized_keys"
//	"world!",distance 1,within 7
//	"|00 01|foo",offset 4,depth 20,nocase,fast_pattern
func parseContent(value string) (*Content, error) {
	value = strings.TrimSpace(value)
	negated := false
	if strings.HasPrefix(value, "!") {
		negated = true
		value = strings.TrimSpace(value[1:])
	}

	pattern, rest, err := takeQuoted(value)
	if err != nil {
		return nil, err
	}

	decoded, err := decodeMixedHex(unescapeOption(pattern))
	if err != nil {
		return nil, err
	}

	c := &Content{MatchBytes: decoded, Negated: negated}

	for _, mod := range splitModifiers(rest) {
		mod = strings.TrimSpace(mod)
		if mod == "" {
			continue
		}
		name, val, _ := strings.Cut(mod, " ")
		name = strings.TrimSpace(name)
		val = strings.TrimSpace(val)
		switch name {
		case "nocase":
			c.Nocase = true
		case "fast_pattern":
			c.FastPattern = true
		case "offset":
			n, perr := strconv.Atoi(val)
			if perr != nil {
				return nil, fmt.Errorf("content offset: %w", perr)
			}
			c.HasOffset, c.Offset = true, n
		case "depth":
			n, perr := strconv.Atoi(val)
			if perr != nil {
				return nil, fmt.Errorf("content depth: %w", perr)
			}
			c.HasDepth, c.Depth = true, n
		case "distance":
			n, perr := strconv.Atoi(val)
			if perr != nil {
				return nil, fmt.Errorf("content distance: %w", perr)
			}
			c.HasDistance, c.Distance = true, n
		case "within":
			n, perr := strconv.Atoi(val)
			if perr != nil {
				return nil, fmt.Errorf("content within: %w", perr)
			}
			c.HasWithin, c.Within = true, n
		}
	}
	return c, nil
}

// takeQuoted extracts a "..." prefix from s, returning its inner text and
// whatever follows the closing quote.
func takeQuoted(s string) (inner, rest string, err error) {
	if !strings.HasPrefix(s, `"`) {
		return "", "", fmt.Errorf("expected quoted value, got %q", s)
	}
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			return s[1:i], strings.TrimPrefix(strings.TrimSpace(s[i+1:]), ","), nil
		}
	}
	return "", "", fmt.Errorf("unterminated quoted value in %q", s)
}

// splitModifiers splits a comma-separated modifier list, respecting commas
// that sit inside the already-extracted quoted value (none should remain
// here, since takeQuoted consumed it) — kept simple since modifiers never
// themselves contain commas.
func splitModifiers(rest string) []string {
	if rest == "" {
		return nil
	}
	return strings.Split(rest, ",")
}

// unescapeOption turns \; \\ \" into their literal characters.
func unescapeOption(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case ';', '\\', '"':
				b.WriteByte(s[i+1])
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// decodeMixedHex decodes content pattern syntax: even-indexed segments
// (split on '|') are ASCII/latin-1, odd-indexed segments are
// whitespace-separated hex byte pairs.
func decodeMixedHex(pattern string) ([]byte, error) {
	segments := strings.Split(pattern, "|")
	var out []byte
	for i, seg := range segments {
		if i%2 == 0 {
			out = append(out, []byte(seg)...)
			continue
		}
		fields := strings.Fields(seg)
		for _, f := range fields {
			if len(f)%2 != 0 {
				return nil, fmt.Errorf("odd-length hex group %q in content pattern", f)
			}
			for j := 0; j < len(f); j += 2 {
				b, err := strconv.ParseUint(f[j:j+2], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("invalid hex byte %q: %w", f[j:j+2], err)
				}
				out = append(out, byte(b))
			}
		}
	}
	return out, nil
}
