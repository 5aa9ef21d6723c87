// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fuzzloop

import (
	"time"

	"grimm.is/nidsfuzz/internal/align"
	"grimm.is/nidsfuzz/internal/alertmon"
	"grimm.is/nidsfuzz/internal/config"
	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/inject"
	"grimm.is/nidsfuzz/internal/logging"
	"grimm.is/nidsfuzz/internal/mutate"
	"grimm.is/nidsfuzz/internal/portalloc"
	"grimm.is/nidsfuzz/internal/rule"
	"grimm.is/nidsfuzz/internal/ruleset"
	"grimm.is/nidsfuzz/internal/telemetry"
)

// Loop runs the six-phase iteration of spec.md §4.10, wiring together
// every upstream component: a Selector for rule batches, a
// mutate.Mutator for packet generation, a portalloc.Allocator and
// inject.Initiator for the bilateral exchange, and an align.Aligner
// fed by an alertmon.Monitor for sanitization (grounded on Fuzzer.py's
// fuzz_loop/_selection/_generation/_injection/_sanitization/
// _post_fuzzing_run split).
type Loop struct {
	cfg       *config.Config
	rules     *ruleset.RuleSet
	selector  Selector
	mutator   *mutate.Mutator
	ports     *portalloc.Allocator
	initiator *inject.Initiator
	monitor   *alertmon.Monitor
	aligner   *align.Aligner
	analyzer  *AccumulationAnalyzer
	store     *Store
	logger    *logging.Logger
	metrics   *telemetry.Metrics

	initiatorIP string
	responder   align.Endpoint

	flawed []*rule.Rule
}

// New constructs a Loop from its already-wired collaborators. Callers
// build the Selector, Mutator, Aligner and Monitor themselves (their
// constructors need choices, like which algorithm or which log files,
// that don't belong in this package) and hand them here to be driven.
func New(
	cfg *config.Config,
	rules *ruleset.RuleSet,
	selector Selector,
	mutator *mutate.Mutator,
	ports *portalloc.Allocator,
	initiator *inject.Initiator,
	monitor *alertmon.Monitor,
	aligner *align.Aligner,
	store *Store,
	initiatorIP string,
	responder align.Endpoint,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Loop {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loop{
		cfg:         cfg,
		rules:       rules,
		selector:    selector,
		mutator:     mutator,
		ports:       ports,
		initiator:   initiator,
		monitor:     monitor,
		aligner:     aligner,
		analyzer:    NewAccumulationAnalyzer(cfg.Accumulation.Threshold),
		store:       store,
		initiatorIP: initiatorIP,
		responder:   responder,
		logger:      logger.WithComponent("fuzzloop"),
		metrics:     metrics,
	}
}

// Run drives the phase loop to completion: selection exhaustion stops
// it, after which Run drains whatever is still in flight and returns.
func (l *Loop) Run() error {
	l.monitor.Start()
	l.monitor.Resume()

	for {
		stop, err := l.iterate()
		if err != nil {
			return err
		}
		if stop {
			break
		}
	}
	return l.finalize()
}

func (l *Loop) iterate() (bool, error) {
	l.flawed = nil
	if l.metrics != nil {
		l.metrics.IterationsTotal.Inc()
	}

	batch, ok := l.selector.Next()
	if !ok {
		l.logger.Info("selection exhausted, stopping")
		return true, nil
	}
	l.logger.Debug("selection phase finished", "proto", batch.Proto, "rules", ruleIDs(batch.Rules))

	pairs, err := l.mutator.Generate(batch.Rules, batch.Proto)
	if err != nil {
		return false, err
	}
	l.logger.Debug("generation phase finished", "pairs", len(pairs))

	if len(pairs) == 0 {
		l.logger.Info("no packets generated, skipping injection")
		if l.metrics != nil {
			l.metrics.BatchesEmptyTotal.Inc()
		}
		l.postRun()
		return false, nil
	}

	bundle, err := l.inject(batch, pairs)
	if err != nil {
		return false, err
	}
	l.aligner.Enqueue(bundle)
	l.logger.Debug("injection phase finished")

	if err := l.sanitize(); err != nil {
		return false, err
	}

	l.postRun()
	batchNum := l.selector.BatchNum()
	return batchNum > 0 && l.selector.Count() >= batchNum, nil
}

// inject allocates the test's two ephemeral ports (the tuned port
// memorized so the reorder window can recognize it later, the tuning
// port not), exchanges every generated pair, and returns the
// TestBundle the aligner will later match alerts against.
func (l *Loop) inject(batch Batch, pairs []mutate.PacketPair) (align.TestBundle, error) {
	tunedPort, err := l.ports.Allocate(true)
	if err != nil {
		return align.TestBundle{}, errors.Wrap(err, errors.KindInternal, "allocate tuned port")
	}
	if _, err := l.ports.Allocate(false); err != nil {
		return align.TestBundle{}, errors.Wrap(err, errors.KindInternal, "allocate tuning port")
	}

	bundle := align.TestBundle{
		SeedRules: ruleIDs(batch.Rules),
		Initiator: align.Endpoint{IP: l.initiatorIP, Port: tunedPort},
		Responder: l.responder,
	}
	for _, pair := range pairs {
		if _, err := l.initiator.Inject(tunedPort, pair.Request, pair.Response); err != nil {
			return align.TestBundle{}, errors.Wrap(err, errors.KindInjection, "inject packet pair")
		}
		bundle.Requests = append(bundle.Requests, pair.Request)
		bundle.Responses = append(bundle.Responses, pair.Response)
		if l.metrics != nil {
			l.metrics.PacketsInjected.Inc()
		}
	}
	return bundle, nil
}

// sanitize implements spec.md §4.10 step 5: once the in-flight queue
// passes the high-water mark, pause the monitor, drain the aligner
// down to LagSize, resume the monitor, then persist and account for
// every finding the drain produced.
func (l *Loop) sanitize() error {
	inFlight := l.aligner.InFlightLen()
	if l.metrics != nil {
		l.metrics.InFlightQueueDepth.Set(float64(inFlight))
	}
	if inFlight < l.cfg.Fuzz.HighWaterMark {
		l.logger.Info("in-flight queue below high-water mark, sanitization skipped")
		return nil
	}

	l.monitor.Pause()
	findings := l.aligner.Drain()
	aligned := inFlight - l.aligner.InFlightLen()
	l.monitor.Resume()

	if l.metrics != nil {
		l.metrics.AlignedBundles.Add(float64(aligned))
	}
	for _, finding := range findings {
		burst := l.analyzer.Update(finding.Bundle.InputRules()...)
		l.flawed = append(l.flawed, l.lookupRules(burst)...)
		if l.metrics != nil {
			l.metrics.DiscrepanciesTotal.Inc()
			l.metrics.BurstRulesTotal.Add(float64(len(burst)))
		}
		if err := l.store.Save(finding); err != nil {
			return errors.Wrap(err, errors.KindInternal, "persist finding")
		}
	}
	l.logger.Debug("sanitization phase finished", "flawed", ruleIDs(l.flawed))
	return nil
}

func (l *Loop) lookupRules(ids []string) []*rule.Rule {
	var out []*rule.Rule
	for _, id := range ids {
		if r := l.rules.FindRule(id); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// postRun implements spec.md §4.10 step 6: filter bursting rules out
// of the selector and pace the loop so it doesn't overwhelm the NIDSes
// under test.
func (l *Loop) postRun() {
	if len(l.flawed) > 0 {
		l.selector.Filter(l.flawed...)
	}
	time.Sleep(time.Duration(l.cfg.Fuzz.SleepBetweenItersMS) * time.Millisecond)
}

// finalize drains everything still in flight and empties the
// alignment window, matching Fuzzer._finalize's post-loop cleanup.
func (l *Loop) finalize() error {
	inFlight := l.aligner.InFlightLen()
	findings := l.aligner.Finalize()
	if l.metrics != nil {
		l.metrics.AlignedBundles.Add(float64(inFlight - l.aligner.InFlightLen()))
	}
	for _, finding := range findings {
		l.analyzer.Update(finding.Bundle.InputRules()...)
		if l.metrics != nil {
			l.metrics.DiscrepanciesTotal.Inc()
		}
		if err := l.store.Save(finding); err != nil {
			return errors.Wrap(err, errors.KindInternal, "persist finding during finalize")
		}
	}
	l.monitor.Stop()
	return nil
}

func ruleIDs(rules []*rule.Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID()
	}
	return ids
}
