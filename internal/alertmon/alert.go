// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package alertmon tails NIDS log files and turns each matching line into
// a queued Alert, one FIFO per monitored file (spec.md §4.8, C8).
package alertmon

import (
	"regexp"
	"strconv"

	"grimm.is/nidsfuzz/internal/errors"
)

// Alert is one parsed NIDS log line.
type Alert struct {
	RuleID  string
	SrcIP   string
	SrcPort int
	DstIP   string
	DstPort int
}

// DefaultPattern is the reference Snort/Suricata alert line regex from
// spec.md §6, shared by every platform the original log_file_reader.py
// monitors (it uses the identical pattern for snort2, snort3 and
// suricata rather than one regex per platform).
const DefaultPattern = `.*\[\*\*\] \[(?P<rule_id>\d+:\d+:\d+)\] .*\{.*\} (?P<src_ip>[\d.]+):(?P<src_port>\d+) -> (?P<dst_ip>[\d.]+):(?P<dst_port>\d+)`

// compiledPattern wraps a regexp.Regexp plus the index of each named
// group it needs, so Parse can fetch submatches without re-deriving the
// group names on every line.
type compiledPattern struct {
	re         *regexp.Regexp
	ruleIDIdx  int
	srcIPIdx   int
	srcPortIdx int
	dstIPIdx   int
	dstPortIdx int
}

func compilePattern(pattern string) (*compiledPattern, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindParse, "compile alert pattern %q", pattern)
	}
	names := re.SubexpNames()
	cp := &compiledPattern{re: re, ruleIDIdx: -1, srcIPIdx: -1, srcPortIdx: -1, dstIPIdx: -1, dstPortIdx: -1}
	for i, name := range names {
		switch name {
		case "rule_id":
			cp.ruleIDIdx = i
		case "src_ip":
			cp.srcIPIdx = i
		case "src_port":
			cp.srcPortIdx = i
		case "dst_ip":
			cp.dstIPIdx = i
		case "dst_port":
			cp.dstPortIdx = i
		}
	}
	if cp.ruleIDIdx < 0 || cp.srcIPIdx < 0 || cp.srcPortIdx < 0 || cp.dstIPIdx < 0 || cp.dstPortIdx < 0 {
		return nil, errors.Errorf(errors.KindParse, "alert pattern %q is missing one of the required named groups", pattern)
	}
	return cp, nil
}

// parse matches line against the compiled pattern, returning ok=false
// (never an error) when the line doesn't match, since spec.md §4.8 says
// unmatched lines are dropped silently.
func (cp *compiledPattern) parse(line string) (Alert, bool) {
	m := cp.re.FindStringSubmatch(line)
	if m == nil {
		return Alert{}, false
	}
	srcPort, err := strconv.Atoi(m[cp.srcPortIdx])
	if err != nil {
		return Alert{}, false
	}
	dstPort, err := strconv.Atoi(m[cp.dstPortIdx])
	if err != nil {
		return Alert{}, false
	}
	return Alert{
		RuleID:  m[cp.ruleIDIdx],
		SrcIP:   m[cp.srcIPIdx],
		SrcPort: srcPort,
		DstIP:   m[cp.dstIPIdx],
		DstPort: dstPort,
	}, true
}
