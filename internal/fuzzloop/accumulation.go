// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fuzzloop

import "sync"

// AccumulationAnalyzer counts how many times each rule ID has come up
// in a discrepancy and reports it as "bursting" once it crosses
// threshold, resetting its count so the rule can burst again later
// rather than being permanently suppressed (spec.md §4.10 step 5,
// grounded on commons/AccumulationAnalyzer.py's decaying counter).
type AccumulationAnalyzer struct {
	mu        sync.Mutex
	counts    map[string]int
	threshold int
}

// NewAccumulationAnalyzer returns an analyzer that reports a rule ID as
// bursting once it has been updated threshold times since its last
// burst.
func NewAccumulationAnalyzer(threshold int) *AccumulationAnalyzer {
	if threshold < 1 {
		threshold = 1
	}
	return &AccumulationAnalyzer{counts: make(map[string]int), threshold: threshold}
}

// Update records one occurrence of each given rule ID and returns
// whichever of them just crossed the threshold.
func (a *AccumulationAnalyzer) Update(ruleIDs ...string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var bursting []string
	for _, id := range ruleIDs {
		a.counts[id]++
		if a.counts[id] >= a.threshold {
			bursting = append(bursting, id)
			a.counts[id] = 0
		}
	}
	return bursting
}
