// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ruleset aggregates parsed rules, tracks activation state, and
// resolves the cross-rule flowbit setter/checker graph (spec.md §4.2, C2).
package ruleset

import (
	"bufio"
	"os"
	"strings"

	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/rule"
)

// RuleSet is a multiset of rules partitioned into activated and commented.
type RuleSet struct {
	Activated []*rule.Rule
	Commented []*rule.Rule

	// Setters maps a flowbit name to every rule that sets it.
	Setters map[string][]*rule.Rule
	// Checkers maps a flowbit name to every rule that requires it.
	Checkers map[string][]*rule.Rule

	logger *logging.Logger
}

// New returns an empty RuleSet.
func New(logger *logging.Logger) *RuleSet {
	if logger == nil {
		logger = logging.Default()
	}
	return &RuleSet{
		Setters: make(map[string][]*rule.Rule),
		Checkers: make(map[string][]*rule.Rule),
		logger:  logger.WithComponent("ruleset"),
	}
}

// FromFiles concatenates rules parsed from every path, preserving
// activation flags. Lines that are not rules (blank lines, comments that
// are not themselves commented-out rules) are ignored rather than erroring,
// matching spec.md §4.2.
func FromFiles(logger *logging.Logger, paths ...string) (*RuleSet, error) {
	rs := New(logger)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindFatal, "open rule file %s", path)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#")) == "" {
				continue
			}
			if !looksLikeRule(line) {
				continue
			}
			r, perr := rule.Parse(line)
			if perr != nil {
				rs.logger.Warn("skipping unparseable rule line", "file", path, "error", perr)
				continue
			}
			rs.Add(r)
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, errors.KindFatal, "scan rule file %s", path)
		}
		f.Close()
	}
	rs.ResolveFlowbits()
	return rs, nil
}

// looksLikeRule filters out lines that are not rules at all (as opposed to
// commented-out rules, which still parse).
func looksLikeRule(line string) bool {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "#"))
	return strings.Contains(trimmed, "(") && strings.Contains(trimmed, ")")
}

// Add inserts r into the activated or commented set.
func (rs *RuleSet) Add(r *rule.Rule) {
	if r.Activated {
		rs.Activated = append(rs.Activated, r)
	} else {
		rs.Commented = append(rs.Commented, r)
	}
}

// All returns every activated rule (the set the mutator selects from).
func (rs *RuleSet) All() []*rule.Rule {
	return rs.Activated
}

// FindRule performs a linear scan by gid:sid:rev.
func (rs *RuleSet) FindRule(id string) *rule.Rule {
	for _, r := range rs.Activated {
		if r.ID() == id {
			return r
		}
	}
	for _, r := range rs.Commented {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// ResolveFlowbits walks every activated rule and rebuilds Setters/Checkers.
// After this call, the union of Setters and Checkers keys equals the set of
// flowbit names referenced by any rule in the set (spec.md §4.2 invariant).
func (rs *RuleSet) ResolveFlowbits() {
	rs.Setters = make(map[string][]*rule.Rule)
	rs.Checkers = make(map[string][]*rule.Rule)
	for _, r := range rs.Activated {
		for _, name := range r.Setters() {
			rs.Setters[name] = append(rs.Setters[name], r)
		}
		for _, name := range r.Checkers() {
			rs.Checkers[name] = append(rs.Checkers[name], r)
		}
	}
}

// Group returns a new RuleSet containing only rules matching the given
// filters (case-insensitive substring match). An empty filter matches
// everything. For port, the matched rule's flow direction decides whether
// the match is against the source or destination port: to_client/
// from_server rules match on src_port, everything else matches on
// dst_port (spec.md §4.2).
func (rs *RuleSet) Group(service, protocol, port string) *RuleSet {
	grouped := New(rs.logger)
	for _, r := range rs.Activated {
		if service != "" && !containsFold(r.Service, service) {
			continue
		}
		if protocol != "" && !containsFold(r.Protocol, protocol) {
			continue
		}
		if port != "" && !matchesPort(r, port) {
			continue
		}
		grouped.Add(r)
	}
	grouped.ResolveFlowbits()
	return grouped
}

func matchesPort(r *rule.Rule, port string) bool {
	ports := r.Destination.Ports
	switch r.FlowDirection {
	case "to_client", "from_server":
		ports = r.Source.Ports
	}
	for _, p := range ports {
		if containsFold(p, port) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
