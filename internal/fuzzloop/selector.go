// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fuzzloop ties rule selection, generation, injection and
// sanitization into the six-phase iteration of spec.md §4.10 (C10),
// and persists confirmed discrepancies for later replay.
package fuzzloop

import (
	"math/rand"
	"strings"

	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/rule"
)

// Batch is one unit of work handed from a Selector to the generation
// phase: an application protocol and the rules to mutate together.
type Batch struct {
	Proto string
	Rules []*rule.Rule
}

// Selector iterates rule batches until it has produced batch_num of
// them, then reports exhaustion (spec.md §4.10 step 2). Filter removes
// rules the accumulation analyzer has flagged as bursting so they stop
// being selected (spec.md §4.10 step 6).
type Selector interface {
	Next() (Batch, bool)
	Filter(rules ...*rule.Rule)
	Count() int
	BatchNum() int
}

// pools groups activated rules by declared service, dropping any
// service whose pool is smaller than batchSize, mirroring
// GenericSelector._preprocess.
func pools(rules []*rule.Rule, batchSize int) (map[string][]*rule.Rule, error) {
	result := make(map[string][]*rule.Rule)
	for _, r := range rules {
		for _, svc := range strings.Split(r.Service, ",") {
			svc = strings.ToLower(strings.TrimSpace(svc))
			if svc == "" {
				continue
			}
			result[svc] = append(result[svc], r)
		}
	}
	for svc, rs := range result {
		if len(rs) < batchSize {
			delete(result, svc)
		}
	}
	if len(result) == 0 {
		return nil, errors.Errorf(errors.KindInternal, "ruleset does not satisfy the configured batch size %d for any service", batchSize)
	}
	return result, nil
}

// base carries the bookkeeping every selector implementation shares:
// the per-service rule pools, which service is currently being drawn
// from, how many batches have been handed out, and which rules have
// been filtered out of future selection.
type base struct {
	allRules  []*rule.Rule
	batchSize int
	// batchNum caps how many batches Next will hand out before
	// reporting exhaustion; 0 means unbounded.
	batchNum     int
	fixedProto   string
	rulePools    map[string][]*rule.Rule
	currentProto string
	current      []*rule.Rule
	filtered     map[string][]*rule.Rule
	finished     bool
	count        int
}

func newBase(rules []*rule.Rule, batchSize, batchNum int, proto string) (*base, error) {
	if batchSize < 1 {
		return nil, errors.Errorf(errors.KindInternal, "batch size must be at least 1, got %d", batchSize)
	}
	if batchNum < 0 {
		return nil, errors.Errorf(errors.KindInternal, "batch num must not be negative, got %d", batchNum)
	}
	b := &base{allRules: rules, batchSize: batchSize, batchNum: batchNum, fixedProto: strings.ToLower(proto), filtered: make(map[string][]*rule.Rule)}
	if err := b.reshuffle(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *base) reshuffle() error {
	p, err := pools(b.allRules, b.batchSize)
	if err != nil {
		return err
	}
	b.rulePools = p
	if b.fixedProto != "" {
		if _, ok := p[b.fixedProto]; !ok {
			return errors.Errorf(errors.KindInternal, "no rules available for fixed protocol %q", b.fixedProto)
		}
		b.currentProto = b.fixedProto
	} else {
		for svc := range p {
			b.currentProto = svc
			break
		}
	}
	b.current = p[b.currentProto]
	return nil
}

// switchPool mirrors GenericSelector.switch: a fixed protocol just
// recomputes its own pool (picking up anything un-filtered since the
// last pass); an unfixed selector drops the exhausted service and
// moves to whatever pool remains, rebuilding from scratch once none
// do.
func (b *base) switchPool() error {
	if b.fixedProto != "" {
		p, err := pools(b.allRules, b.batchSize)
		if err != nil {
			return err
		}
		b.rulePools = p
		delete(b.filtered, b.fixedProto)
		b.finished = false
		b.currentProto = b.fixedProto
		b.current = p[b.fixedProto]
		return nil
	}
	if len(b.rulePools) > 1 {
		delete(b.rulePools, b.currentProto)
	} else {
		p, err := pools(b.allRules, b.batchSize)
		if err != nil {
			return err
		}
		b.rulePools = p
	}
	b.finished = false
	for svc := range b.rulePools {
		b.currentProto = svc
		break
	}
	b.current = b.rulePools[b.currentProto]
	return nil
}

func (b *base) filter(rules ...*rule.Rule) {
	for _, r := range rules {
		idx := -1
		for i, cur := range b.current {
			if cur == r {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		b.current = append(b.current[:idx], b.current[idx+1:]...)
		b.filtered[b.currentProto] = append(b.filtered[b.currentProto], r)
	}
}

func (b *base) Count() int    { return b.count }
func (b *base) BatchNum() int { return b.batchNum }

// RandomSelector picks a random service pool, then samples batchSize
// rules from it without replacement per call (selection/RandomSelector.py).
type RandomSelector struct {
	*base
	rng *rand.Rand
}

// NewRandomSelector constructs a RandomSelector over rules' activated
// set. proto pins the selector to one service; empty lets it roam.
func NewRandomSelector(rules []*rule.Rule, batchSize, batchNum int, proto string, rng *rand.Rand) (*RandomSelector, error) {
	b, err := newBase(rules, batchSize, batchNum, proto)
	if err != nil {
		return nil, err
	}
	return &RandomSelector{base: b, rng: rng}, nil
}

func (s *RandomSelector) Next() (Batch, bool) {
	if s.finished || (s.batchNum > 0 && s.count >= s.batchNum) {
		s.finished = true
		return Batch{}, false
	}
	if s.fixedProto == "" {
		services := make([]string, 0, len(s.rulePools))
		for svc := range s.rulePools {
			services = append(services, svc)
		}
		s.currentProto = services[s.rng.Intn(len(services))]
		s.current = s.rulePools[s.currentProto]
	}
	if len(s.current) < s.batchSize {
		if err := s.switchPool(); err != nil {
			s.finished = true
			return Batch{}, false
		}
	}
	picked := samplePool(s.rng, s.current, s.batchSize)
	s.count++
	return Batch{Proto: s.currentProto, Rules: picked}, true
}

func (s *RandomSelector) Filter(rules ...*rule.Rule) { s.base.filter(rules...) }

func samplePool(rng *rand.Rand, pool []*rule.Rule, n int) []*rule.Rule {
	idx := rng.Perm(len(pool))[:n]
	out := make([]*rule.Rule, n)
	for i, p := range idx {
		out[i] = pool[p]
	}
	return out
}

// SequentialSelector walks each service pool front to back, consuming
// batchSize rules per call (selection/SequentialSelector.py). Consumed
// rules are permanently removed from the pool; Filter is a no-op since
// sequential selection never revisits a rule anyway.
type SequentialSelector struct {
	*base
}

func NewSequentialSelector(rules []*rule.Rule, batchSize, batchNum int, proto string) (*SequentialSelector, error) {
	b, err := newBase(rules, batchSize, batchNum, proto)
	if err != nil {
		return nil, err
	}
	return &SequentialSelector{base: b}, nil
}

func (s *SequentialSelector) Next() (Batch, bool) {
	if s.finished || (s.batchNum > 0 && s.count >= s.batchNum) {
		s.finished = true
		return Batch{}, false
	}
	if len(s.current) < s.batchSize {
		if err := s.switchPool(); err != nil {
			s.finished = true
			return Batch{}, false
		}
	}
	picked := append([]*rule.Rule(nil), s.current[:s.batchSize]...)
	s.current = s.current[s.batchSize:]
	s.rulePools[s.currentProto] = s.current
	s.count++
	return Batch{Proto: s.currentProto, Rules: picked}, true
}

func (s *SequentialSelector) Filter(rules ...*rule.Rule) {}

// CombinationSelector enumerates the cartesian product of one service
// pool with itself, skipping any combination containing a filtered
// rule (selection/CombinationSelector.py).
type CombinationSelector struct {
	*base
	indices []int
	done    bool
}

func NewCombinationSelector(rules []*rule.Rule, batchSize, batchNum int, proto string) (*CombinationSelector, error) {
	if batchSize < 2 {
		return nil, errors.Errorf(errors.KindInternal, "combination batch size must be at least 2, got %d", batchSize)
	}
	b, err := newBase(rules, batchSize, batchNum, proto)
	if err != nil {
		return nil, err
	}
	c := &CombinationSelector{base: b}
	c.resetProduct()
	return c, nil
}

func (s *CombinationSelector) resetProduct() {
	s.indices = make([]int, s.batchSize)
	s.done = len(s.current) == 0
}

// advance steps indices like an odometer over len(s.current) digits,
// the same enumeration itertools.product(pool, repeat=batchSize) walks.
func (s *CombinationSelector) advance() bool {
	for i := len(s.indices) - 1; i >= 0; i-- {
		s.indices[i]++
		if s.indices[i] < len(s.current) {
			return true
		}
		s.indices[i] = 0
	}
	return false
}

func (s *CombinationSelector) Next() (Batch, bool) {
	if s.finished || (s.batchNum > 0 && s.count >= s.batchNum) {
		s.finished = true
		return Batch{}, false
	}
	for {
		if s.done || len(s.current) == 0 {
			if s.fixedProto != "" {
				s.finished = true
				return Batch{}, false
			}
			if err := s.switchPool(); err != nil {
				s.finished = true
				return Batch{}, false
			}
			s.resetProduct()
			if s.done {
				s.finished = true
				return Batch{}, false
			}
		}

		combo := make([]*rule.Rule, len(s.indices))
		skip := false
		for i, idx := range s.indices {
			r := s.current[idx]
			if s.isFiltered(r) {
				skip = true
			}
			combo[i] = r
		}

		advanced := s.advance()
		if !advanced {
			s.done = true
		}
		if skip {
			continue
		}

		s.count++
		return Batch{Proto: s.currentProto, Rules: combo}, true
	}
}

func (s *CombinationSelector) isFiltered(r *rule.Rule) bool {
	for _, f := range s.filtered[s.currentProto] {
		if f == r {
			return true
		}
	}
	return false
}

func (s *CombinationSelector) Filter(rules ...*rule.Rule) {
	s.filtered[s.currentProto] = append(s.filtered[s.currentProto], rules...)
}

// NewSelector constructs the named selector strategy, matching
// Fuzzer.setup_selection's algorithm switch.
func NewSelector(algorithm string, rules []*rule.Rule, batchSize, batchNum int, proto string, rng *rand.Rand) (Selector, error) {
	switch strings.ToLower(algorithm) {
	case "random":
		return NewRandomSelector(rules, batchSize, batchNum, proto, rng)
	case "sequential":
		return NewSequentialSelector(rules, batchSize, batchNum, proto)
	case "combination":
		return NewCombinationSelector(rules, batchSize, batchNum, proto)
	default:
		return nil, errors.Errorf(errors.KindInternal, "unknown selection algorithm %q", algorithm)
	}
}
