// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package align

// OracleFunc judges one aligned bundle's rule sets and reports whether
// the bundle looks conformant (true) or has found a discrepancy
// (false). inputRules is the bundle's seed rule IDs; outputRules holds
// one slice of fired rule IDs per monitored platform.
type OracleFunc func(inputRules []string, outputRules [][]string) bool

type namedOracle struct {
	name string
	fn   OracleFunc
}

// OracleSet runs a registered list of oracles and reports which ones
// failed, mirroring the register/run pattern the original test oracle
// used so new oracles can be added without touching the alignment
// algorithm.
type OracleSet struct {
	oracles []namedOracle
}

// NewOracleSet returns an OracleSet with the two oracles spec.md §4.9
// requires: rule orthogonality and cross-platform consistency.
func NewOracleSet() *OracleSet {
	s := &OracleSet{}
	s.Register("rule_orthogonality", RuleOrthogonality)
	s.Register("cross_platform_consistency", CrossPlatformConsistency)
	return s
}

// Register adds another named oracle to the set.
func (s *OracleSet) Register(name string, fn OracleFunc) {
	s.oracles = append(s.oracles, namedOracle{name: name, fn: fn})
}

// Run evaluates every registered oracle, returning whether all passed
// and, for each oracle, whether it passed.
func (s *OracleSet) Run(inputRules []string, outputRules [][]string) (bool, map[string]bool) {
	details := make(map[string]bool, len(s.oracles))
	allPassed := true
	for _, o := range s.oracles {
		passed := o.fn(inputRules, outputRules)
		details[o.name] = passed
		if !passed {
			allPassed = false
		}
	}
	return allPassed, details
}

// RuleOrthogonality holds when every alert a platform fired names a
// rule that was actually in the bundle's seed rules — a packet derived
// from one set of rules should never trigger an unrelated rule.
func RuleOrthogonality(inputRules []string, outputRules [][]string) bool {
	allowed := make(map[string]struct{}, len(inputRules))
	for _, r := range inputRules {
		allowed[r] = struct{}{}
	}
	for _, platformRules := range outputRules {
		for _, r := range platformRules {
			if _, ok := allowed[r]; !ok {
				return false
			}
		}
	}
	return true
}

// CrossPlatformConsistency holds when every platform fired the exact
// same multiset of rule IDs for the bundle.
func CrossPlatformConsistency(inputRules []string, outputRules [][]string) bool {
	if len(outputRules) <= 1 {
		return true
	}
	first := countRules(outputRules[0])
	for _, platformRules := range outputRules[1:] {
		if !countsEqual(first, countRules(platformRules)) {
			return false
		}
	}
	return true
}

func countRules(ids []string) map[string]int {
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		counts[id]++
	}
	return counts
}

func countsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
