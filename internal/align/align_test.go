// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nidsfuzz/internal/alertmon"
)

type fakePortWindow struct {
	ports map[int]bool
}

func (f fakePortWindow) Contains(port int) bool { return f.ports[port] }

func alertOf(ruleID, srcIP string, srcPort int, dstIP string, dstPort int) alertmon.Alert {
	return alertmon.Alert{RuleID: ruleID, SrcIP: srcIP, SrcPort: srcPort, DstIP: dstIP, DstPort: dstPort}
}

// TestAlignmentReordersAlertsToEarlierBundle matches spec.md §8 S5: two
// in-flight bundles, a FIFO whose head alerts arrive out of submission
// order, and the expectation that each bundle's alert ends up attached
// to the bundle it actually belongs to rather than the one aligned
// first.
func TestAlignmentReordersAlertsToEarlierBundle(t *testing.T) {
	responder := Endpoint{IP: "192.168.0.10", Port: 21}
	t1 := TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{IP: "127.0.0.1", Port: 40001}, Responder: responder}
	t2 := TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{IP: "127.0.0.1", Port: 40002}, Responder: responder}

	fifo := alertmon.NewFIFO()
	fifo.Push(alertOf("1:1:1", "127.0.0.1", 40002, "192.168.0.10", 21))
	fifo.Push(alertOf("1:1:1", "127.0.0.1", 40001, "192.168.0.10", 21))

	pw := fakePortWindow{ports: map[int]bool{40001: true, 40002: true}}
	a := New(map[string]*alertmon.FIFO{"P": fifo}, pw, 10, 0, nil)
	a.Enqueue(t1)
	a.Enqueue(t2)
	a.Drain()

	require.Len(t, a.window, 2)
	t1Aligned, t2Aligned := a.window[0], a.window[1]
	require.Len(t, t1Aligned.Alerts["P"], 1)
	assert.Equal(t, 40001, t1Aligned.Alerts["P"][0].SrcPort)
	require.Len(t, t2Aligned.Alerts["P"], 1)
	assert.Equal(t, 40002, t2Aligned.Alerts["P"][0].SrcPort)
	assert.Equal(t, 0, fifo.Len())
}

func TestAlignmentDiscardsStaleAlerts(t *testing.T) {
	responder := Endpoint{IP: "192.168.0.10", Port: 21}
	t1 := TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{IP: "127.0.0.1", Port: 40001}, Responder: responder}

	fifo := alertmon.NewFIFO()
	fifo.Push(alertOf("1:1:1", "127.0.0.1", 59999, "192.168.0.10", 21))
	fifo.Push(alertOf("1:1:1", "127.0.0.1", 40001, "192.168.0.10", 21))

	pw := fakePortWindow{ports: map[int]bool{40001: true}}
	a := New(map[string]*alertmon.FIFO{"P": fifo}, pw, 10, 0, nil)
	a.Enqueue(t1)
	a.Drain()

	require.Len(t, a.window, 1)
	assert.Len(t, a.window[0].Alerts["P"], 1)
	assert.Equal(t, 0, fifo.Len(), "the unmatched stale alert should have been discarded too")
}

func TestAlignmentStopsAtFutureAlert(t *testing.T) {
	responder := Endpoint{IP: "192.168.0.10", Port: 21}
	t1 := TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{IP: "127.0.0.1", Port: 40001}, Responder: responder}

	fifo := alertmon.NewFIFO()
	fifo.Push(alertOf("1:1:1", "127.0.0.1", 40002, "192.168.0.10", 21))

	pw := fakePortWindow{ports: map[int]bool{40001: true, 40002: true}}
	a := New(map[string]*alertmon.FIFO{"P": fifo}, pw, 10, 0, nil)
	a.Enqueue(t1)
	a.Drain()

	assert.Empty(t, a.window[0].Alerts["P"])
	assert.Equal(t, 1, fifo.Len(), "the alert for a future bundle must stay queued")
}

func TestSanitizeRunsWhenWindowFills(t *testing.T) {
	responder := Endpoint{IP: "192.168.0.10", Port: 21}
	fifo := alertmon.NewFIFO()
	pw := fakePortWindow{ports: map[int]bool{}}

	a := New(map[string]*alertmon.FIFO{"P": fifo}, pw, 1, 0, nil)
	a.Enqueue(TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{Port: 1}, Responder: responder})
	a.Enqueue(TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{Port: 2}, Responder: responder})
	findings := a.Drain()

	assert.Empty(t, a.window, "windowSize of 1 means every align immediately triggers a sanitize")
	assert.Empty(t, findings, "no alerts at all means both oracles trivially pass")
}

func TestFinalizeEmptiesQueueAndWindow(t *testing.T) {
	responder := Endpoint{IP: "192.168.0.10", Port: 21}
	fifo := alertmon.NewFIFO()
	pw := fakePortWindow{ports: map[int]bool{}}

	a := New(map[string]*alertmon.FIFO{"P": fifo}, pw, 2, 5, nil)
	a.Enqueue(TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{Port: 1}, Responder: responder})
	a.Enqueue(TestBundle{SeedRules: []string{"1:1:1"}, Initiator: Endpoint{Port: 2}, Responder: responder})
	a.Finalize()

	assert.Equal(t, 0, a.InFlightLen())
	assert.Empty(t, a.window)
	assert.Equal(t, 0, fifo.Len())
}

// TestRuleOrthogonalityViolation matches spec.md §8 S6.
func TestRuleOrthogonalityViolation(t *testing.T) {
	input := []string{"1:1927:8"}
	output := [][]string{{"1:1927:8", "1:9999:1"}, {"1:1927:8"}}
	assert.False(t, RuleOrthogonality(input, output))
}

func TestRuleOrthogonalityPassesWhenSubset(t *testing.T) {
	input := []string{"1:1927:8"}
	output := [][]string{{"1:1927:8"}, {"1:1927:8"}}
	assert.True(t, RuleOrthogonality(input, output))
}

// TestCrossPlatformConsistencyViolation matches spec.md §8 S7.
func TestCrossPlatformConsistencyViolation(t *testing.T) {
	output := [][]string{{"1:1927:8"}, {}}
	assert.False(t, CrossPlatformConsistency(nil, output))
}

func TestCrossPlatformConsistencyPassesWhenIdentical(t *testing.T) {
	output := [][]string{{"1:1927:8", "1:1927:8"}, {"1:1927:8", "1:1927:8"}}
	assert.True(t, CrossPlatformConsistency(nil, output))
}

func TestOracleSetReportsPerOracleDetail(t *testing.T) {
	set := NewOracleSet()
	allPassed, details := set.Run([]string{"1:1927:8"}, [][]string{{"1:1927:8", "1:9999:1"}, {"1:1927:8"}})
	assert.False(t, allPassed)
	assert.False(t, details["rule_orthogonality"])
	assert.False(t, details["cross_platform_consistency"])
}
