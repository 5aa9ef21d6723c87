// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package align implements the alignment and oracle stage (spec.md
// §4.9, C9): it matches each NIDS's alert stream back to the in-flight
// test bundle that produced it, then runs the conformance oracles once
// a bundle has aged out of the reorder window.
package align

import "grimm.is/nidsfuzz/internal/alertmon"

// Endpoint is one side of a bilateral test exchange.
type Endpoint struct {
	IP   string
	Port int
}

// TestBundle is one unit of injected traffic: the rules it was
// generated from, the two endpoints involved, and the request/response
// pairs actually exchanged (spec.md §4.6).
type TestBundle struct {
	SeedRules []string
	Initiator Endpoint
	Responder Endpoint
	Requests  [][]byte
	Responses [][]byte
}

// AlignedBundle pairs one TestBundle with the alerts each monitored
// NIDS produced for it, keyed by platform (monitored log path).
type AlignedBundle struct {
	Bundle TestBundle
	Alerts map[string][]alertmon.Alert
}

func newAlignedBundle(b TestBundle, platforms []string) *AlignedBundle {
	alerts := make(map[string][]alertmon.Alert, len(platforms))
	for _, p := range platforms {
		alerts[p] = nil
	}
	return &AlignedBundle{Bundle: b, Alerts: alerts}
}

// Port is the initiator's tuned-channel local port, used as the
// correlation key when a delayed alert needs to be routed back to an
// earlier bundle still in the alignment window.
func (a *AlignedBundle) Port() int {
	return a.Bundle.Initiator.Port
}

// InputRules is the set of rule IDs the bundle's traffic was generated
// from, i.e. what the rule orthogonality oracle checks alerts against.
func (a *AlignedBundle) InputRules() []string {
	return a.Bundle.SeedRules
}

// OutputRules is, per platform, the list of rule IDs its alerts named,
// in the order each platform's map iteration happens to yield (the
// oracles below only look at multiset membership so order is
// irrelevant to their result).
func (a *AlignedBundle) OutputRules() [][]string {
	out := make([][]string, 0, len(a.Alerts))
	for _, alerts := range a.Alerts {
		ids := make([]string, len(alerts))
		for i, al := range alerts {
			ids[i] = al.RuleID
		}
		out = append(out, ids)
	}
	return out
}

func (a *AlignedBundle) addAlert(platform string, alert alertmon.Alert) {
	a.Alerts[platform] = append(a.Alerts[platform], alert)
}
