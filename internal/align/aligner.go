// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package align

import (
	"grimm.is/nidsfuzz/internal/alertmon"
	"grimm.is/nidsfuzz/internal/logging"
)

// PortWindow reports whether a port is still within the fuzzer's
// recently-allocated reorder window (internal/portalloc.Allocator
// satisfies this).
type PortWindow interface {
	Contains(port int) bool
}

// Finding is one confirmed discrepancy: a bundle whose per-platform
// alerts failed at least one oracle.
type Finding struct {
	Bundle   AlignedBundle
	Failures map[string]bool
}

// Aligner runs the alignment and oracle algorithm of spec.md §4.9: it
// owns the in-flight TestBundle queue, reads (but does not own) the
// per-NIDS alert FIFOs, and emits a Finding whenever a bundle that ages
// out of the reorder window fails an oracle.
type Aligner struct {
	inFlight   []TestBundle
	fifos      map[string]*alertmon.FIFO
	platforms  []string
	window     []*AlignedBundle
	windowSize int
	lagSize    int
	portWindow PortWindow
	oracles    *OracleSet
	logger     *logging.Logger
}

// New constructs an Aligner. fifos is the set of per-NIDS alert queues
// (alertmon.Monitor.FIFOs()); portWindow is the reorder window the
// port allocator maintains; windowSize should match the port
// allocator's ring capacity and lagSize is how far Drain empties the
// in-flight queue (spec.md's LAG_SIZE, typically 5).
func New(fifos map[string]*alertmon.FIFO, portWindow PortWindow, windowSize, lagSize int, logger *logging.Logger) *Aligner {
	if logger == nil {
		logger = logging.Default()
	}
	platforms := make([]string, 0, len(fifos))
	for p := range fifos {
		platforms = append(platforms, p)
	}
	return &Aligner{
		fifos:      fifos,
		platforms:  platforms,
		windowSize: windowSize,
		lagSize:    lagSize,
		portWindow: portWindow,
		oracles:    NewOracleSet(),
		logger:     logger.WithComponent("align"),
	}
}

// Enqueue adds a freshly injected TestBundle to the in-flight queue.
func (a *Aligner) Enqueue(b TestBundle) {
	a.inFlight = append(a.inFlight, b)
}

// InFlightLen reports how many TestBundles are waiting to be aligned.
func (a *Aligner) InFlightLen() int {
	return len(a.inFlight)
}

// Drain aligns in-flight bundles until the queue has shrunk to at most
// lagSize, sanitizing the alignment window as it fills (spec.md §4.9
// step 3, invoked from the fuzz loop's sanitization phase).
func (a *Aligner) Drain() []Finding {
	var findings []Finding
	for len(a.inFlight) > a.lagSize {
		findings = append(findings, a.step()...)
	}
	return findings
}

// Finalize drains every remaining in-flight bundle, then empties the
// alignment window entirely, leaving both the in-flight queue and
// every NIDS FIFO empty (spec.md §4.9 finalization).
func (a *Aligner) Finalize() []Finding {
	var findings []Finding
	for len(a.inFlight) > 0 {
		findings = append(findings, a.step()...)
	}
	for len(a.window) > 0 {
		if f, ok := a.sanitizeOldest(); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// step pops one in-flight bundle, aligns it, and sanitizes the window
// if it has grown to capacity.
func (a *Aligner) step() []Finding {
	bundle := a.inFlight[0]
	a.inFlight = a.inFlight[1:]
	a.align(bundle)

	if len(a.window) >= a.windowSize {
		if f, ok := a.sanitizeOldest(); ok {
			return []Finding{f}
		}
	}
	return nil
}

// align matches each NIDS FIFO's head alerts against the new bundle or
// reroutes them to an earlier bundle still in the window, per the
// exact/delayed/stale/future classification of spec.md §4.9 step 2.
func (a *Aligner) align(bundle TestBundle) {
	ab := newAlignedBundle(bundle, a.platforms)

	for _, platform := range a.platforms {
		fifo := a.fifos[platform]
		for {
			alert, ok := fifo.Peek()
			if !ok {
				break
			}

			if endpointsMatch(alert, bundle.Initiator, bundle.Responder) {
				fifo.Pop()
				ab.addAlert(platform, alert)
				continue
			}

			clientPort := otherPort(alert, bundle.Responder)
			if earlier := a.locate(clientPort); earlier != nil {
				fifo.Pop()
				earlier.addAlert(platform, alert)
				continue
			}

			if a.portWindow == nil || !a.portWindow.Contains(clientPort) {
				fifo.Pop()
				a.logger.Debug("discarding stale alert", "platform", platform, "rule_id", alert.RuleID, "client_port", clientPort)
				continue
			}

			break
		}
	}

	a.window = append(a.window, ab)
}

// locate finds an AlignedBundle already in the window whose initiator
// port matches clientPort, for routing a delayed alert to the earlier
// test it actually belongs to.
func (a *Aligner) locate(clientPort int) *AlignedBundle {
	for _, ab := range a.window {
		if ab.Port() == clientPort {
			return ab
		}
	}
	return nil
}

// sanitizeOldest pops the oldest aligned bundle from the window and
// runs the oracle set against it, returning a Finding if any oracle
// failed.
func (a *Aligner) sanitizeOldest() (Finding, bool) {
	ab := a.window[0]
	a.window = a.window[1:]

	allPassed, details := a.oracles.Run(ab.InputRules(), ab.OutputRules())
	if allPassed {
		return Finding{}, false
	}
	a.logger.Warn("oracle violation", "input_rules", ab.InputRules(), "failures", details)
	return Finding{Bundle: *ab, Failures: details}, true
}

// endpointsMatch reports whether alert's (src, dst) pair is the same
// unordered pair as {initiator, responder}, regardless of direction.
func endpointsMatch(alert alertmon.Alert, initiator, responder Endpoint) bool {
	src := Endpoint{IP: alert.SrcIP, Port: alert.SrcPort}
	dst := Endpoint{IP: alert.DstIP, Port: alert.DstPort}
	return (src == initiator && dst == responder) || (src == responder && dst == initiator)
}

// otherPort returns the port of whichever side of alert's (src, dst)
// pair is not the responder, i.e. the client port that should
// correlate with some bundle's initiator port. If neither side matches
// the responder (an alert for a connection this aligner never saw),
// it falls back to the source port, mirroring the reference
// implementation's arbitrary-but-deterministic tiebreak.
func otherPort(alert alertmon.Alert, responder Endpoint) int {
	src := Endpoint{IP: alert.SrcIP, Port: alert.SrcPort}
	if src == responder {
		return alert.DstPort
	}
	dst := Endpoint{IP: alert.DstIP, Port: alert.DstPort}
	if dst == responder {
		return alert.SrcPort
	}
	return alert.SrcPort
}
