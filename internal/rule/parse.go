// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rule

import (
	"strconv"
	"strings"
)

// Parse parses one rule line into a Rule. Unknown option names are not
// errors: they are preserved verbatim as OptionOther so re-serialization
// stays idempotent (spec.md §4.1).
func Parse(line string) (*Rule, error) {
	raw := line
	trimmed := strings.TrimSpace(line)

	activated := true
	if strings.HasPrefix(trimmed, "#") {
		activated = false
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	}

	open := strings.IndexByte(trimmed, '(')
	if open < 0 {
		return nil, &ParseError{RuleLine: raw, Offset: 0, Reason: "missing option block '('"}
	}
	header := strings.TrimSpace(trimmed[:open])

	close := strings.LastIndexByte(trimmed, ')')
	if close < open {
		return nil, &ParseError{RuleLine: raw, Offset: len(trimmed), Reason: "missing closing ')'"}
	}
	body := trimmed[open+1 : close]

	r := &Rule{Activated: activated, Raw: raw}
	if err := parseHeader(r, header, raw); err != nil {
		return nil, err
	}

	opts, err := splitOptions(body)
	if err != nil {
		return nil, &ParseError{RuleLine: raw, Offset: open, Reason: err.Error()}
	}

	current := PktData
	for _, optText := range opts {
		optText = strings.TrimSpace(optText)
		if optText == "" {
			continue
		}
		name, value, _ := strings.Cut(optText, ":")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if sb, ok := LookupStickyBuffer(name); ok {
			current = sb
			continue
		}

		switch name {
		case "sid":
			r.SID, _ = strconv.Atoi(value)
		case "rev":
			r.Revision, _ = strconv.Atoi(value)
		case "gid":
			r.GID, _ = strconv.Atoi(value)
		case "service":
			r.Service = value
		case "flow":
			r.FlowDirection = flowDirection(value)
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionOther, OtherName: name, OtherRaw: value})
		case "flowbits":
			action, fbName, _ := strings.Cut(value, ",")
			r.Flowbits = append(r.Flowbits, Flowbit{Action: strings.TrimSpace(action), Name: strings.TrimSpace(fbName)})
		case "content":
			c, err := parseContent(value)
			if err != nil {
				return nil, &ParseError{RuleLine: raw, Offset: open, Reason: err.Error()}
			}
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionContent, Content: c})
		case "pcre":
			p, err := parsePcre(value)
			if err != nil {
				return nil, &ParseError{RuleLine: raw, Offset: open, Reason: err.Error()}
			}
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionPcre, Pcre: p})
		case "isdataat":
			id, err := parseIsdataat(value)
			if err != nil {
				return nil, &ParseError{RuleLine: raw, Offset: open, Reason: err.Error()}
			}
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionIsdataat, Isdataat: id})
		case "byte_test":
			bt, err := parseByteTest(value)
			if err != nil {
				return nil, &ParseError{RuleLine: raw, Offset: open, Reason: err.Error()}
			}
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionByteTest, ByteTest: bt})
		default:
			r.Options = append(r.Options, &Option{Kind: current, OptionKind: OptionOther, OtherName: name, OtherRaw: value})
		}
	}

	return r, nil
}

// flowDirection extracts the to_client/to_server/from_client/from_server
// token from a flow option's value, used by RuleSet.Group's port matching.
func flowDirection(value string) string {
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "to_client", "to_server", "from_client", "from_server":
			return tok
		}
	}
	return ""
}

// parseHeader parses "action proto src_ip src_port direction dst_ip dst_port".
// A single-token header is a decoder rule: only Action is populated.
func parseHeader(r *Rule, header, raw string) error {
	tokens, err := tokenizeHeader(header)
	if err != nil {
		return &ParseError{RuleLine: raw, Offset: 0, Reason: err.Error()}
	}
	if len(tokens) == 0 {
		return &ParseError{RuleLine: raw, Offset: 0, Reason: "empty rule header"}
	}
	if len(tokens) == 1 {
		r.Action = tokens[0]
		return nil
	}
	if len(tokens) != 7 {
		return &ParseError{RuleLine: raw, Offset: 0, Reason: "rule header must have 1 or 7 tokens"}
	}

	r.Action = tokens[0]
	r.Protocol = tokens[1]
	r.Source = Network{Nets: bracketList(tokens[2]), Ports: bracketList(tokens[3])}
	switch tokens[4] {
	case "->":
		r.Bidirectional = false
	case "<>":
		r.Bidirectional = true
	default:
		return &ParseError{RuleLine: raw, Offset: 0, Reason: "unknown direction token " + tokens[4]}
	}
	r.Destination = Network{Nets: bracketList(tokens[5]), Ports: bracketList(tokens[6])}
	return nil
}

// tokenizeHeader splits on whitespace outside of "[...]" groups.
func tokenizeHeader(header string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, ch := range header {
		switch {
		case ch == '[':
			depth++
			cur.WriteRune(ch)
		case ch == ']':
			depth--
			if depth < 0 {
				return nil, errUnbalancedBrackets
			}
			cur.WriteRune(ch)
		case (ch == ' ' || ch == '\t') && depth == 0:
			flush()
		default:
			cur.WriteRune(ch)
		}
	}
	if depth != 0 {
		return nil, errUnbalancedBrackets
	}
	flush()
	return tokens, nil
}

// bracketList turns "[a,b,c]" or "a" into its element list.
func bracketList(tok string) []string {
	tok = strings.TrimSpace(tok)
	if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
		inner := tok[1 : len(tok)-1]
		parts := strings.Split(inner, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return []string{tok}
}

// splitOptions splits a rule body into its ';'-terminated options,
// respecting escaped '\;', '\\', '\"' and quoted strings (the end-of-option
// is the first *unescaped* ';' per spec.md §4.1).
func splitOptions(body string) ([]string, error) {
	var opts []string
	var cur strings.Builder
	inQuotes := false
	escaped := false

	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case escaped:
			cur.WriteByte(ch)
			escaped = false
		case ch == '\\':
			escaped = true
			cur.WriteByte(ch)
		case ch == '"':
			inQuotes = !inQuotes
			cur.WriteByte(ch)
		case ch == ';' && !inQuotes:
			opts = append(opts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		opts = append(opts, cur.String())
	}
	if inQuotes {
		return nil, errUnterminatedQuote
	}
	return opts, nil
}

var (
	errUnbalancedBrackets = &staticErr{"unbalanced '[' ']' in rule header"}
	errUnterminatedQuote  = &staticErr{"unterminated quoted string in rule body"}
)

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }
