// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mutate

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nidsfuzz/internal/config"
	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/rule"
	"grimm.is/nidsfuzz/internal/ruleset"
)

func testRules(t *testing.T, lines ...string) *ruleset.RuleSet {
	t.Helper()
	rs := ruleset.New(nil)
	for _, line := range lines {
		r, err := rule.Parse(line)
		require.NoError(t, err)
		rs.Add(r)
	}
	rs.ResolveFlowbits()
	return rs
}

func newMutator(t *testing.T, kind Kind, rs *ruleset.RuleSet) *Mutator {
	t.Helper()
	cfg := config.Default().Mutate
	return New(kind, rs, cfg, rand.New(rand.NewSource(7)), logging.Default())
}

// S1 — simple content, pass-through.
func TestPassThroughSimpleContent(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any 21 ( content:"authorized_keys",nocase; service:ftp; sid:1927;rev:8; )`)
	m := newMutator(t, KindPassThrough, rs)

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "ftp")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Contains(t, string(pairs[0].Request), "authorized_keys")
	assert.Empty(t, pairs[0].Response)
}

// S2 — content with offset/within.
func TestPassThroughOffsetWithin(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( content:"hello"; content:"world!",distance 1,within 7; sid:1;rev:1; )`)
	m := newMutator(t, KindPassThrough, rs)

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "unknown-proto")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	req := string(pairs[0].Request)
	assert.True(t, strings.HasPrefix(req, "hello"))
	assert.Equal(t, "world!", req[6:12])
}

// S3 — HTTP rule with file_data.
func TestPassThroughHTTPFileData(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( service:http; file_data; content:"/msadc/msadc.dll",nocase; pcre:"/news_id=[^0-9]+/i"; sid:1;rev:1; )`)
	m := newMutator(t, KindPassThrough, rs)

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "http")
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	resp := string(pairs[0].Response)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "Content-Length: ")
	headerEnd := strings.Index(resp, "\r\n\r\n")
	require.GreaterOrEqual(t, headerEnd, 0)
	body := resp[headerEnd+4:]
	assert.Contains(t, body, "/msadc/msadc.dll")
	assert.Contains(t, body, "news_id=")
}

func TestBlendingRequiresArityAtLeastTwo(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( content:"a"; sid:1;rev:1; )`)
	m := newMutator(t, KindBlending, rs)

	_, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "unknown")
	assert.Error(t, err)
}

func TestBlendingCombinesTwoRules(t *testing.T) {
	rs := testRules(t,
		`alert tcp any any -> any any ( content:"AAAA",offset 0; sid:1;rev:1; )`,
		`alert tcp any any -> any any ( content:"BB",offset 10; sid:2;rev:1; )`,
	)
	m := newMutator(t, KindBlending, rs)

	pairs, err := m.Generate(rs.Activated, "unknown")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	req := string(pairs[0].Request)
	assert.Contains(t, req, "AAAA")
	assert.Contains(t, req, "BB")
}

func TestNonTextProtocolRejectsObfuscation(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( content:"/a/b"; sid:1;rev:1; )`)
	m := newMutator(t, KindObfuscation, rs)

	_, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "dns")
	assert.Error(t, err)
}

func TestObfuscationRequestHasNoNULBytes(t *testing.T) {
	// Default obfuscation settings; the content holds no '|', so the pipe
	// escaper has nothing to rewrite. This test only checks that the
	// obfuscated request carries no NUL byte.
	rs := testRules(t, `alert tcp any any -> any any ( content:"/a /b"; sid:1;rev:1; )`)
	m := newMutator(t, KindObfuscation, rs)

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "http")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.NotContains(t, string(pairs[0].Request), "\x00")
}

func TestRepetitionBlockWiseDuplicatesOptionList(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( content:"X"; sid:1;rev:1; )`)
	cfg := config.Default().Mutate
	cfg.RepeatMode = "block-wise"
	cfg.MinRepeatTimes, cfg.MaxRepeatTimes, cfg.RepeatTimes = 5, 5, 5
	m := New(KindRepetition, rs, cfg, rand.New(rand.NewSource(1)), logging.Default())

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "unknown")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, strings.Repeat("X", 5), string(pairs[0].Request))
}

func TestRepetitionSkipsIsdataatConstraints(t *testing.T) {
	// A negated isdataat:!5 tightens max_length to 5; a later isdataat:10
	// would need min_length 11 and abort the render under any other
	// strategy. Repetition must skip both pushes instead (spec.md §4.5),
	// since block-wise duplicating this list is the whole point of the
	// test: it exists to prove the repeat run still succeeds.
	rs := testRules(t, `alert tcp any any -> any any ( isdataat:!5; isdataat:10; content:"X"; sid:1;rev:1; )`)
	cfg := config.Default().Mutate
	cfg.RepeatMode = "block-wise"
	cfg.MinRepeatTimes, cfg.MaxRepeatTimes, cfg.RepeatTimes = 2, 2, 2
	m := New(KindRepetition, rs, cfg, rand.New(rand.NewSource(1)), logging.Default())

	pairs, err := m.Generate([]*rule.Rule{rs.Activated[0]}, "unknown")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, strings.Repeat("X", 2), string(pairs[0].Request))
}

func TestFlowbitPrerequisiteEmittedBeforeBatch(t *testing.T) {
	rs := testRules(t,
		`alert tcp any any -> any any ( content:"SETUP"; flowbits:set,logged_in; sid:1;rev:1; )`,
		`alert tcp any any -> any any ( content:"EXPLOIT"; flowbits:isset,logged_in; sid:2;rev:1; )`,
	)
	m := newMutator(t, KindPassThrough, rs)

	target := rs.FindRule("0:2:1")
	require.NotNil(t, target)
	pairs, err := m.Generate([]*rule.Rule{target}, "unknown")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Contains(t, string(pairs[0].Request), "SETUP")
	assert.Contains(t, string(pairs[1].Request), "EXPLOIT")
}

func TestEliminateRedundantContentBeforeGlobalPcre(t *testing.T) {
	rs := testRules(t, `alert tcp any any -> any any ( content:"foo"; pcre:"/foobar/"; sid:1;rev:1; )`)
	opts := rs.Activated[0].Signature()[ruleBufferOf(t, rs.Activated[0])]
	reduced := eliminateRedundant(opts)
	require.Len(t, reduced, 1)
	assert.Equal(t, rule.OptionPcre, reduced[0].OptionKind)
}

func ruleBufferOf(t *testing.T, r *rule.Rule) rule.StickyBuffer {
	t.Helper()
	for buf := range r.Signature() {
		return buf
	}
	t.Fatal("rule has no options")
	return 0
}
