// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetry exposes nidsfuzz's Prometheus counters and gauges. The
// fuzz loop updates them as it runs; RendersTotal, RenderFailedTotal,
// AlertsConsumed and AlertsDiscarded are registered but no package in this
// module increments them.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge nidsfuzz exports.
type Metrics struct {
	IterationsTotal    prometheus.Counter
	BatchesEmptyTotal  prometheus.Counter
	RendersTotal       prometheus.Counter
	RenderFailedTotal  prometheus.Counter
	PacketsInjected    prometheus.Counter
	AlertsConsumed     *prometheus.CounterVec
	AlertsDiscarded    *prometheus.CounterVec
	AlignedBundles     prometheus.Counter
	DiscrepanciesTotal prometheus.Counter
	BurstRulesTotal    prometheus.Counter
	InFlightQueueDepth prometheus.Gauge
}

// NewMetrics builds a fresh Metrics set registered against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_iterations_total",
			Help: "Total number of fuzz loop iterations run.",
		}),
		BatchesEmptyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_batches_empty_total",
			Help: "Total number of selected batches that produced no payload pairs.",
		}),
		RendersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_renders_total",
			Help: "Total number of signature buffers rendered successfully.",
		}),
		RenderFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_render_failed_total",
			Help: "Total number of signature renders that aborted as infeasible.",
		}),
		PacketsInjected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_packets_injected_total",
			Help: "Total number of request/response pairs injected.",
		}),
		AlertsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nidsfuzz_alerts_consumed_total",
			Help: "Total number of alerts consumed from a NIDS FIFO, by platform and outcome.",
		}, []string{"platform", "outcome"}),
		AlertsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nidsfuzz_alerts_discarded_total",
			Help: "Total number of alerts discarded as stale, by platform.",
		}, []string{"platform"}),
		AlignedBundles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_aligned_bundles_total",
			Help: "Total number of test bundles that completed alignment.",
		}),
		DiscrepanciesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_discrepancies_total",
			Help: "Total number of oracle findings persisted.",
		}),
		BurstRulesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nidsfuzz_burst_rules_total",
			Help: "Total number of rules excluded from selection for bursting.",
		}),
		InFlightQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nidsfuzz_in_flight_queue_depth",
			Help: "Current depth of the in-flight test bundle queue.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.IterationsTotal,
			m.BatchesEmptyTotal,
			m.RendersTotal,
			m.RenderFailedTotal,
			m.PacketsInjected,
			m.AlertsConsumed,
			m.AlertsDiscarded,
			m.AlignedBundles,
			m.DiscrepanciesTotal,
			m.BurstRulesTotal,
			m.InFlightQueueDepth,
		)
	}
	return m
}
