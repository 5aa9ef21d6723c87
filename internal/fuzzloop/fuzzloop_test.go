// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fuzzloop

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nidsfuzz/internal/align"
	"grimm.is/nidsfuzz/internal/alertmon"
	"grimm.is/nidsfuzz/internal/rule"
)

func ruleFor(gid, sid int, service string) *rule.Rule {
	return &rule.Rule{Activated: true, GID: gid, SID: sid, Revision: 1, Service: service}
}

func httpRules(n int) []*rule.Rule {
	rules := make([]*rule.Rule, n)
	for i := 0; i < n; i++ {
		rules[i] = ruleFor(1, 1000+i, "http")
	}
	return rules
}

func TestPoolsDropsServicesSmallerThanBatchSize(t *testing.T) {
	rules := append(httpRules(3), ruleFor(1, 2000, "dns"))
	p, err := pools(rules, 2)
	require.NoError(t, err)
	assert.Len(t, p["http"], 3)
	_, ok := p["dns"]
	assert.False(t, ok, "dns pool has only one rule, smaller than batch size 2")
}

func TestPoolsSplitsMultiServiceRules(t *testing.T) {
	rules := []*rule.Rule{
		ruleFor(1, 1, "http,dns"),
		ruleFor(1, 2, "http"),
		ruleFor(1, 3, "dns"),
	}
	p, err := pools(rules, 2)
	require.NoError(t, err)
	assert.Len(t, p["http"], 2)
	assert.Len(t, p["dns"], 2)
}

func TestPoolsErrorsWhenNoServiceSatisfiesBatchSize(t *testing.T) {
	_, err := pools(httpRules(1), 2)
	assert.Error(t, err)
}

func TestRandomSelectorProducesBatchNumBatchesThenStops(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sel, err := NewRandomSelector(httpRules(10), 2, 3, "http", rng)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		batch, ok := sel.Next()
		require.True(t, ok)
		assert.Equal(t, "http", batch.Proto)
		assert.Len(t, batch.Rules, 2)
	}
	_, ok := sel.Next()
	assert.False(t, ok, "selector exhausts after batch_num batches")
	assert.Equal(t, 3, sel.Count())
}

func TestRandomSelectorFilterRemovesRuleFromPool(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rules := httpRules(2)
	sel, err := NewRandomSelector(rules, 2, 5, "http", rng)
	require.NoError(t, err)

	sel.Filter(rules[0])
	assert.Len(t, sel.current, 1)
	assert.Contains(t, sel.filtered["http"], rules[0])
}

func TestSequentialSelectorWalksPoolFrontToBack(t *testing.T) {
	rules := httpRules(4)
	sel, err := NewSequentialSelector(rules, 2, 10, "http")
	require.NoError(t, err)

	first, ok := sel.Next()
	require.True(t, ok)
	assert.Equal(t, []*rule.Rule{rules[0], rules[1]}, first.Rules)

	second, ok := sel.Next()
	require.True(t, ok)
	assert.Equal(t, []*rule.Rule{rules[2], rules[3]}, second.Rules)
}

func TestSequentialSelectorFilterIsNoOp(t *testing.T) {
	rules := httpRules(2)
	sel, err := NewSequentialSelector(rules, 2, 10, "http")
	require.NoError(t, err)
	sel.Filter(rules[0])
	assert.Len(t, sel.current, 2, "sequential selection never revisits a rule so filtering has nothing to do")
}

func TestCombinationSelectorRequiresBatchSizeAtLeastTwo(t *testing.T) {
	_, err := NewCombinationSelector(httpRules(4), 1, 10, "http")
	assert.Error(t, err)
}

func TestCombinationSelectorEnumeratesCartesianProduct(t *testing.T) {
	rules := httpRules(2)
	sel, err := NewCombinationSelector(rules, 2, 10, "http")
	require.NoError(t, err)

	var seen [][]*rule.Rule
	for {
		batch, ok := sel.Next()
		if !ok {
			break
		}
		seen = append(seen, batch.Rules)
	}
	assert.Len(t, seen, 4, "two rules to the power of two combination slots")
}

func TestCombinationSelectorSkipsCombinationsContainingFilteredRule(t *testing.T) {
	rules := httpRules(2)
	sel, err := NewCombinationSelector(rules, 2, 10, "http")
	require.NoError(t, err)
	sel.Filter(rules[0])

	var seen [][]*rule.Rule
	for {
		batch, ok := sel.Next()
		if !ok {
			break
		}
		seen = append(seen, batch.Rules)
	}
	assert.Len(t, seen, 1, "only the all-rules[1] combination survives filtering rules[0]")
	assert.Equal(t, []*rule.Rule{rules[1], rules[1]}, seen[0])
}

func TestNewSelectorRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewSelector("bogus", httpRules(4), 2, 5, "http", nil)
	assert.Error(t, err)
}

func TestAccumulationAnalyzerReportsBurstAtThresholdAndResets(t *testing.T) {
	a := NewAccumulationAnalyzer(3)

	assert.Empty(t, a.Update("1:1000:1"))
	assert.Empty(t, a.Update("1:1000:1"))
	assert.Equal(t, []string{"1:1000:1"}, a.Update("1:1000:1"))

	assert.Empty(t, a.Update("1:1000:1"), "count reset to 0 after reporting a burst")
}

func TestAccumulationAnalyzerTracksRuleIDsIndependently(t *testing.T) {
	a := NewAccumulationAnalyzer(2)
	assert.Empty(t, a.Update("1:1:1"))
	assert.Equal(t, []string{"1:2:1"}, a.Update("1:2:1", "1:2:1"))
}

func TestAccumulationAnalyzerClampsNonPositiveThreshold(t *testing.T) {
	a := NewAccumulationAnalyzer(0)
	assert.Equal(t, []string{"1:1:1"}, a.Update("1:1:1"))
}

func sampleFinding() align.Finding {
	bundle := align.TestBundle{
		SeedRules: []string{"1:1000:1", "1:1001:1"},
		Initiator: align.Endpoint{IP: "10.0.0.1", Port: 40000},
		Responder: align.Endpoint{IP: "10.0.0.2", Port: 9999},
		Requests:  [][]byte{[]byte("GET / HTTP/1.1\r\n\r\n")},
		Responses: [][]byte{[]byte("HTTP/1.1 200 OK\r\n\r\n")},
	}
	return align.Finding{
		Bundle: align.AlignedBundle{
			Bundle: bundle,
			Alerts: map[string][]alertmon.Alert{"snort": {{RuleID: "1:1000:1"}}},
		},
		Failures: map[string]bool{"rule_orthogonality": true},
	}
}

func TestStoreSaveAndLoadDiscrepanciesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	finding := sampleFinding()
	require.NoError(t, store.Save(finding))
	require.NoError(t, store.Save(finding))

	records, err := LoadDiscrepancies(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1:1000:1", "1:1001:1"}, records[0].SeedRules)
	assert.Equal(t, []string{"1:1000:1"}, records[0].PlatformAlerts["snort"])
}

func TestStoreSaveAndLoadPacketsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	finding := sampleFinding()
	require.NoError(t, store.Save(finding))
	require.NoError(t, store.Save(finding))

	records, err := LoadPackets(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, finding.Bundle.Bundle.Requests, records[0].Requests)
	assert.Equal(t, finding.Bundle.Bundle.Responses, records[0].Responses)
}

func TestLoadDiscrepanciesErrorsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleFinding()))

	_, err = LoadDiscrepancies(dir + "/missing")
	assert.Error(t, err)
}
