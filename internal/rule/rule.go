// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rule parses signature-based detection rules into an immutable
// Rule model: a header plus an ordered, sticky-buffer-grouped list of
// options. See spec.md §3 and §4.1.
package rule

import "fmt"

// Network describes the IP addresses and port numbers used in a rule side.
// Entries are kept as strings because they may be rule-file variables
// (e.g. $HOME_NET, $HTTP_PORTS) rather than concrete literals.
type Network struct {
	Nets  []string
	Ports []string
}

// Flowbit is one flowbits option occurrence: an action (set, unset, toggle,
// isset, isnotset, noalert) plus the flag name it names (empty for
// noalert).
type Flowbit struct {
	Action string
	Name   string
}

// IsSetter reports whether this flowbit occurrence sets a flag.
func (f Flowbit) IsSetter() bool {
	switch f.Action {
	case "set", "toggle":
		return true
	default:
		return false
	}
}

// IsChecker reports whether this flowbit occurrence checks a flag.
func (f Flowbit) IsChecker() bool {
	switch f.Action {
	case "isset", "isnotset":
		return true
	default:
		return false
	}
}

// Rule is an immutable parsed rule. It is created once by Parse and shared
// by reference across selector, renderer, and persistence; nothing in this
// package mutates a Rule after construction.
type Rule struct {
	Activated bool
	Action    string
	Protocol  string

	Source      Network
	Destination Network
	// Bidirectional is true for "<>" rules; false (the common case) means
	// "->".
	Bidirectional bool

	GID      int
	SID      int
	Revision int

	// Service is the declared application-protocol hint (service:http;).
	Service string
	// FlowDirection carries the relevant token from the flow option
	// ("to_server", "to_client", "from_server", "from_client"), used by
	// RuleSet.Group to decide whether a port group match is against the
	// source or destination port.
	FlowDirection string

	Flowbits []Flowbit

	// Options preserves the rule body's option order, each tagged with the
	// sticky buffer active when it was parsed. Re-serializing this slice in
	// order reproduces the original sticky-buffer groupings (spec.md §8
	// invariant 1).
	Options []*Option

	// Raw is the original rule line, kept for error reporting and
	// idempotent re-serialization.
	Raw string
}

// ID returns the rule's gid:sid:rev identity string.
func (r *Rule) ID() string {
	return fmt.Sprintf("%d:%d:%d", r.GID, r.SID, r.Revision)
}

// Signature groups the rule's options by sticky buffer, preserving the
// insertion order within each buffer. This is the view the mutation engine
// feeds to the renderer.
func (r *Rule) Signature() map[StickyBuffer][]*Option {
	sig := make(map[StickyBuffer][]*Option)
	for _, opt := range r.Options {
		sig[opt.Kind] = append(sig[opt.Kind], opt)
	}
	return sig
}

// Setters returns the flowbit names this rule sets.
func (r *Rule) Setters() []string {
	var names []string
	for _, fb := range r.Flowbits {
		if fb.IsSetter() && fb.Name != "" {
			names = append(names, fb.Name)
		}
	}
	return names
}

// Checkers returns the flowbit names this rule requires.
func (r *Rule) Checkers() []string {
	var names []string
	for _, fb := range r.Flowbits {
		if fb.IsChecker() && fb.Name != "" {
			names = append(names, fb.Name)
		}
	}
	return names
}

// ParseError reports a malformed rule line.
type ParseError struct {
	RuleLine string
	Offset   int
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse rule at offset %d: %s", e.Offset, e.Reason)
}
