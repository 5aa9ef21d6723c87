// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package render

import (
	"regexp/syntax"
	"strings"
	"unicode"

	"grimm.is/nidsfuzz/internal/rule"
)

// sampleRegex draws one concrete byte string matching p. No dedicated
// regex-to-string generator appears anywhere in the retrieval corpus, so
// this walks the standard library's regexp/syntax parse tree directly
// (the "leftmost single match instance" reference behavior spec.md §4.3
// allows) rather than adopting an unrelated out-of-corpus dependency. See
// DESIGN.md for the stdlib-usage justification this requires.
func sampleRegex(p *rule.Pcre) ([]byte, bool) {
	pattern := p.Pattern
	flags := syntax.Perl
	if p.CaseInsensitive {
		flags |= syntax.FoldCase
	}
	if p.DotAll {
		flags |= syntax.DotNL
	}
	if p.ExtendedFmt {
		pattern = stripExtendedWhitespace(pattern)
	}

	re, err := syntax.Parse(pattern, flags)
	if err != nil {
		return nil, false
	}
	re = re.Simplify()

	var out []rune
	if !generate(re, &out, 0) {
		return nil, false
	}
	return []byte(string(out)), true
}

// stripExtendedWhitespace approximates PCRE's 'x' flag: unescaped
// whitespace and '#'-to-end-of-line comments are removed before parsing.
func stripExtendedWhitespace(pattern string) string {
	var b strings.Builder
	inClass := false
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			b.WriteByte(c)
			escaped = true
		case c == '[':
			inClass = true
			b.WriteByte(c)
		case c == ']':
			inClass = false
			b.WriteByte(c)
		case !inClass && (c == ' ' || c == '\t' || c == '\n'):
			// drop
		case !inClass && c == '#':
			for i < len(pattern) && pattern[i] != '\n' {
				i++
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// maxGenDepth bounds recursion on pathological regexes (deeply nested
// groups); the generator degrades to a failed sample rather than
// stack-overflowing the fuzz loop.
const maxGenDepth = 64

// generate appends a sample for re onto out, depth-limited.
func generate(re *syntax.Regexp, out *[]rune, depth int) bool {
	if depth > maxGenDepth {
		return false
	}
	switch re.Op {
	case syntax.OpLiteral:
		if re.Flags&syntax.FoldCase != 0 {
			// The parser stores case-folded literals in their smallest fold
			// form (upper case for ASCII); emit the lower-case form instead.
			for _, r := range re.Rune {
				*out = append(*out, unicode.ToLower(r))
			}
			return true
		}
		*out = append(*out, re.Rune...)
		return true
	case syntax.OpCharClass:
		r := pickRune(re.Rune)
		*out = append(*out, r)
		return true
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		*out = append(*out, 'a')
		return true
	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpEmptyMatch:
		return true
	case syntax.OpCapture:
		if len(re.Sub) != 1 {
			return true
		}
		return generate(re.Sub[0], out, depth+1)
	case syntax.OpStar:
		return repeat(re.Sub[0], 0, out, depth)
	case syntax.OpPlus:
		return repeat(re.Sub[0], 1, out, depth)
	case syntax.OpQuest:
		return true // sample the "not present" branch
	case syntax.OpRepeat:
		n := re.Min
		return repeat(re.Sub[0], n, out, depth)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !generate(sub, out, depth+1) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		if len(re.Sub) == 0 {
			return true
		}
		return generate(re.Sub[0], out, depth+1)
	default:
		return true
	}
}

func repeat(sub *syntax.Regexp, n int, out *[]rune, depth int) bool {
	for i := 0; i < n; i++ {
		if !generate(sub, out, depth+1) {
			return false
		}
	}
	return true
}

// pickRune returns a rune drawn from the class's first allowed range,
// preferring printable ASCII for realism when the range spans it.
func pickRune(ranges []rune) rune {
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		printLo, printHi := rune(0x20), rune(0x7e)
		if lo <= printHi && hi >= printLo {
			if lo < printLo {
				lo = printLo
			}
			return lo
		}
	}
	if len(ranges) >= 2 {
		return ranges[0]
	}
	return 'a'
}
