// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mutate implements the rule-batch mutators (spec.md §4.5,
// component C5): each strategy turns a batch of rules into ordered
// (request, response) byte pairs, resolving flowbit prerequisites and
// driving the renderer (internal/render) and grammar templates
// (internal/template).
package mutate

import (
	"bytes"
	"math"
	"math/rand"

	"grimm.is/nidsfuzz/internal/config"
	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/render"
	"grimm.is/nidsfuzz/internal/rule"
	"grimm.is/nidsfuzz/internal/ruleset"
	"grimm.is/nidsfuzz/internal/template"
)

// Kind selects which mutation strategy a Mutator runs.
type Kind int

const (
	KindPassThrough Kind = iota
	KindBlending
	KindRepetition
	KindObfuscation
)

// PacketPair is one generated (request, response) byte pair, either the
// batch's own output or a prerequisite flowbit-setting packet emitted
// ahead of it.
type PacketPair struct {
	Request  []byte
	Response []byte
}

// Mutator generates packet pairs from rule batches for one strategy.
type Mutator struct {
	kind     Kind
	rules    *ruleset.RuleSet
	registry *template.Registry
	cfg      config.Mutate
	rng      *rand.Rand
	logger   *logging.Logger
}

// New constructs a Mutator. rules is the pool flowbit prerequisites are
// resolved against (normally the full active ruleset, not just the batch).
func New(kind Kind, rules *ruleset.RuleSet, cfg config.Mutate, rng *rand.Rand, logger *logging.Logger) *Mutator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mutator{
		kind:     kind,
		rules:    rules,
		registry: template.NewRegistry(),
		cfg:      cfg,
		rng:      rng,
		logger:   logger.WithComponent("mutate"),
	}
}

// Generate produces the batch's packet pairs, with any flowbit-prerequisite
// pairs prepended. It returns an error only for a malformed request (wrong
// arity, unsatisfiable flowbit, unsupported protocol for the strategy); an
// unsatisfiable renderer push is not an error — it yields no pairs for that
// batch, per spec.md §4.3 failure semantics.
func (m *Mutator) Generate(rules []*rule.Rule, proto string) ([]PacketPair, error) {
	if err := m.validateArity(rules); err != nil {
		return nil, err
	}
	if m.kind == KindObfuscation && LookupProto(proto).Type != ProtoText {
		return nil, errors.Errorf(errors.KindRenderInfeasible, "obfuscation strategy only supports text protocols, got %q", proto)
	}

	prereqs, err := m.resolvePrerequisites(rules, proto)
	if err != nil {
		return nil, err
	}

	pair, ok, err := m.generateBatch(rules, proto)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.logger.Debug("batch unsatisfiable, yielding only prerequisites", "rules", ruleIDs(rules))
		return prereqs, nil
	}
	return append(prereqs, pair), nil
}

func (m *Mutator) validateArity(rules []*rule.Rule) error {
	switch m.kind {
	case KindBlending:
		if len(rules) < 2 {
			return errors.Errorf(errors.KindRenderInfeasible, "blending strategy requires at least 2 rules, got %d", len(rules))
		}
	default:
		if len(rules) != 1 {
			return errors.Errorf(errors.KindRenderInfeasible, "strategy requires exactly 1 rule, got %d", len(rules))
		}
	}
	return nil
}

// resolvePrerequisites collects checker-flowbit names the batch references
// but does not set itself, and recursively emits one setter rule's
// pass-through pair for each (spec.md §4.5 step 2).
func (m *Mutator) resolvePrerequisites(rules []*rule.Rule, proto string) ([]PacketPair, error) {
	setInBatch := make(map[string]bool)
	var needed []string
	seen := make(map[string]bool)
	for _, r := range rules {
		for _, name := range r.Setters() {
			setInBatch[name] = true
		}
	}
	for _, r := range rules {
		for _, name := range r.Checkers() {
			if !setInBatch[name] && !seen[name] {
				seen[name] = true
				needed = append(needed, name)
			}
		}
	}

	var out []PacketPair
	for _, name := range needed {
		setters := m.rules.Setters[name]
		if len(setters) == 0 {
			return nil, errors.Errorf(errors.KindRenderInfeasible, "no setter rule available for required flowbit %q", name)
		}
		prereq := New(KindPassThrough, m.rules, m.cfg, m.rng, m.logger)
		pairs, err := prereq.Generate([]*rule.Rule{setters[0]}, proto)
		if err != nil {
			return nil, err
		}
		out = append(out, pairs...)
	}
	return out, nil
}

// generateBatch runs the common prelude (spec.md §4.5 steps 3-5) and the
// current strategy's renderer. ok is false when any push made the batch
// unsatisfiable.
func (m *Mutator) generateBatch(rules []*rule.Rule, proto string) (PacketPair, bool, error) {
	buffers := m.mergeSignatures(rules)
	binary := LookupProto(proto).Type == ProtoBinary

	bufferValues := make(map[string][]byte, len(buffers))
	for buf, opts := range buffers {
		r := render.New(binary, m.renderStrategy(), m.rng, m.logger)
		if !m.pushAll(r, opts) {
			return PacketPair{}, false, nil
		}
		bufferValues[buf.String()] = r.Render()
	}

	tmpl := m.registry.Lookup(proto)
	populated := tmpl.Populate(bufferValues)
	return PacketPair{
		Request:  populated.Generate(template.Request),
		Response: populated.Generate(template.Response),
	}, true, nil
}

func (m *Mutator) renderStrategy() render.Strategy {
	switch m.kind {
	case KindBlending:
		return render.StrategyBlend
	case KindRepetition:
		return render.StrategyRepeat
	default:
		return render.StrategyPassThrough
	}
}

// mergeSignatures merges every rule's per-buffer option lists (in rule
// order), eliminates redundant content-before-pcre options, and — for the
// repetition strategy — duplicates the single rule's option lists
// block-wise or element-wise.
func (m *Mutator) mergeSignatures(rules []*rule.Rule) map[rule.StickyBuffer][]*rule.Option {
	merged := make(map[rule.StickyBuffer][]*rule.Option)
	for _, r := range rules {
		for buf, opts := range r.Signature() {
			merged[buf] = append(merged[buf], eliminateRedundant(opts)...)
		}
	}

	if m.kind == KindRepetition {
		times := m.repeatTimes()
		for buf, opts := range merged {
			merged[buf] = repeatOptions(opts, m.cfg.RepeatMode, times)
		}
	}
	return merged
}

func (m *Mutator) repeatTimes() int {
	return triangular(m.rng, m.cfg.MinRepeatTimes, m.cfg.MaxRepeatTimes, m.cfg.RepeatTimes)
}

func repeatOptions(opts []*rule.Option, mode string, times int) []*rule.Option {
	var out []*rule.Option
	switch mode {
	case "element-wise":
		for _, opt := range opts {
			for i := 0; i < times; i++ {
				out = append(out, opt)
			}
		}
	default: // block-wise
		for i := 0; i < times; i++ {
			out = append(out, opts...)
		}
	}
	return out
}

// eliminateRedundant drops a content option immediately followed by a
// non-relative, non-negated pcre whose pattern already contains the
// content's bytes (spec.md §4.5 step 3).
func eliminateRedundant(opts []*rule.Option) []*rule.Option {
	var out []*rule.Option
	for _, opt := range opts {
		if opt.OptionKind == rule.OptionPcre && opt.Pcre != nil && !opt.Pcre.Relative && !opt.Pcre.Negated {
			if n := len(out); n > 0 {
				prev := out[n-1]
				if prev.OptionKind == rule.OptionContent && prev.Content != nil &&
					len(prev.Content.MatchBytes) > 0 &&
					bytes.Contains([]byte(opt.Pcre.Pattern), prev.Content.MatchBytes) {
					out = out[:n-1]
				}
			}
		}
		out = append(out, opt)
	}
	return out
}

// pushAll pushes every option onto r in order, applying obfuscation to
// content/pcre options first when the strategy calls for it. It returns
// false the moment any push fails, aborting the whole buffer per spec.md
// §4.3 failure semantics.
func (m *Mutator) pushAll(r *render.SignatureRender, opts []*rule.Option) bool {
	insertTimes := 0
	replaceTimes := 0
	if m.kind == KindObfuscation {
		insertTimes = triangular(m.rng, m.cfg.MinObfuscateTimes, m.cfg.MaxObfuscateTimes, m.cfg.InsertTimes)
		replaceTimes = triangular(m.rng, m.cfg.MinObfuscateTimes, m.cfg.MaxObfuscateTimes, m.cfg.ReplaceTimes)
	}

	for _, opt := range opts {
		var ok bool
		switch opt.OptionKind {
		case rule.OptionContent:
			c := opt.Content
			if m.kind == KindObfuscation && !c.Negated {
				obf := *c
				obf.MatchBytes = obfuscateContentBytes(m.rng, c.MatchBytes, insertTimes, replaceTimes)
				c = &obf
			}
			ok = r.PushContent(c)
		case rule.OptionPcre:
			ok = r.PushPcre(opt.Pcre)
		case rule.OptionIsdataat:
			if m.kind == KindRepetition {
				// Repeated payloads routinely run past an isdataat bound by
				// design (spec.md §4.5); honoring it here would abort
				// batches the repetition strategy is supposed to produce.
				continue
			}
			ok = r.PushIsdataat(opt.Isdataat)
		case rule.OptionByteTest:
			ok = r.PushByteTest(opt.ByteTest)
		default:
			// Other options (flow, flowbits, sid, ...) carry no payload
			// bytes and never constrain the renderer.
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

func ruleIDs(rules []*rule.Rule) string {
	var s string
	for i, r := range rules {
		if i > 0 {
			s += ","
		}
		s += r.ID()
	}
	return s
}

// triangular draws one sample from a triangular distribution over
// [low, high] with the given mode, matching the reference implementation's
// random.triangular use for repeat/obfuscation counts (spec.md §4.5).
func triangular(rng *rand.Rand, low, high, mode int) int {
	if low >= high {
		return low
	}
	u := rng.Float64()
	f := float64(mode-low) / float64(high-low)
	var x float64
	if u < f {
		x = float64(low) + math.Sqrt(u*float64(high-low)*float64(mode-low))
	} else {
		x = float64(high) - math.Sqrt((1-u)*float64(high-low)*float64(high-mode))
	}
	return int(x)
}
