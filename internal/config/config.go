// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides HCL configuration handling for the tunables that
// govern the fuzz loop, injection protocol, port allocator, and alignment
// window.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/nidsfuzz/internal/errors"
)

// Fuzz holds the phase-loop tunables from spec.md §4.10.
type Fuzz struct {
	// BatchNum caps the number of batches the selector will emit before the
	// loop requests a stop. 0 means unbounded.
	// @default: 0
	BatchNum int `hcl:"batch_num,optional"`
	// HighWaterMark is the in-flight queue size that triggers sanitization.
	// @default: 50
	HighWaterMark int `hcl:"high_water_mark,optional"`
	// LagSize is how far sanitization drains the in-flight queue down to.
	// @default: 5
	LagSize int `hcl:"lag_size,optional"`
	// SleepBetweenItersMS is the post-run pacing sleep, in milliseconds.
	// @default: 100
	SleepBetweenItersMS int `hcl:"sleep_between_iters_ms,optional"`
}

// Injection holds the tunable bilateral injection protocol's timeouts.
type Injection struct {
	// TuningPort is the responder's control-channel listen port.
	// @default: 9999
	TuningPort int `hcl:"tuning_port,optional"`
	// ConnectRetries is the number of connect attempts before giving up.
	// @default: 5
	ConnectRetries int `hcl:"connect_retries,optional"`
	// ConnectBackoffMS is the delay between connect attempts.
	// @default: 1000
	ConnectBackoffMS int `hcl:"connect_backoff_ms,optional"`
	// ReadTimeoutMS is the socket-level read deadline on tuning/tuned channels.
	// @default: 3000
	ReadTimeoutMS int `hcl:"read_timeout_ms,optional"`
	// BrokerTimeoutMS is the broker publish/consume deadline.
	// @default: 1000
	BrokerTimeoutMS int `hcl:"broker_timeout_ms,optional"`
}

// PortAllocator holds the reorder-window ring buffer size.
type PortAllocator struct {
	// WindowSize is the number of recently allocated ports remembered.
	// @default: 1000
	WindowSize int `hcl:"window_size,optional"`
}

// Mutate holds the strategy-specific knobs for the repetition and
// obfuscation mutators (spec.md §4.5).
type Mutate struct {
	// RepeatMode selects block-wise (whole option list repeated) or
	// element-wise (each option repeated in place) duplication.
	// @default: block-wise
	RepeatMode string `hcl:"repeat_mode,optional"`
	// RepeatTimes is the triangular distribution's mode parameter.
	// @default: 100
	RepeatTimes int `hcl:"repeat_times,optional"`
	// MinRepeatTimes and MaxRepeatTimes bound the triangular distribution.
	// @default: 10
	MinRepeatTimes int `hcl:"min_repeat_times,optional"`
	// @default: 1000
	MaxRepeatTimes int `hcl:"max_repeat_times,optional"`

	// ReplaceTimes and InsertTimes are the obfuscation mutator's
	// triangular-distribution mode parameters.
	// @default: 10
	ReplaceTimes int `hcl:"replace_times,optional"`
	// @default: 3
	InsertTimes int `hcl:"insert_times,optional"`
	// MinObfuscateTimes and MaxObfuscateTimes bound both distributions.
	// @default: 1
	MinObfuscateTimes int `hcl:"min_obfuscate_times,optional"`
	// @default: 50
	MaxObfuscateTimes int `hcl:"max_obfuscate_times,optional"`
}

// Accumulation holds the burst-rule suppression threshold.
type Accumulation struct {
	// Threshold is the per-rule discrepancy hit count that marks a rule as
	// bursting and excludes it from further selection.
	// @default: 10
	Threshold int `hcl:"threshold,optional"`
}

// Config is the top-level tunables block for a nidsfuzz run.
type Config struct {
	Fuzz          Fuzz          `hcl:"fuzz,block"`
	Injection     Injection     `hcl:"injection,block"`
	PortAllocator PortAllocator `hcl:"port_allocator,block"`
	Mutate        Mutate        `hcl:"mutate,block"`
	Accumulation  Accumulation  `hcl:"accumulation,block"`
	// LogDir names an optional directory for logs and persisted findings.
	// It is decoded here only; no package in this module reads it.
	// @default: ""
	LogDir string `hcl:"log_dir,optional"`
}

// Default returns the documented defaults for every tunable.
func Default() *Config {
	return &Config{
		Fuzz: Fuzz{
			BatchNum:            0,
			HighWaterMark:       50,
			LagSize:             5,
			SleepBetweenItersMS: 100,
		},
		Injection: Injection{
			TuningPort:       9999,
			ConnectRetries:   5,
			ConnectBackoffMS: 1000,
			ReadTimeoutMS:    3000,
			BrokerTimeoutMS:  1000,
		},
		PortAllocator: PortAllocator{WindowSize: 1000},
		Mutate: Mutate{
			RepeatMode:        "block-wise",
			RepeatTimes:       100,
			MinRepeatTimes:    10,
			MaxRepeatTimes:    1000,
			ReplaceTimes:      10,
			InsertTimes:       3,
			MinObfuscateTimes: 1,
			MaxObfuscateTimes: 50,
		},
		Accumulation: Accumulation{Threshold: 10},
	}
}

// applyDefaults fills in zero-valued fields left unset by HCL decoding.
func applyDefaults(c *Config) {
	d := Default()
	if c.Fuzz.HighWaterMark == 0 {
		c.Fuzz.HighWaterMark = d.Fuzz.HighWaterMark
	}
	if c.Fuzz.LagSize == 0 {
		c.Fuzz.LagSize = d.Fuzz.LagSize
	}
	if c.Fuzz.SleepBetweenItersMS == 0 {
		c.Fuzz.SleepBetweenItersMS = d.Fuzz.SleepBetweenItersMS
	}
	if c.Injection.TuningPort == 0 {
		c.Injection.TuningPort = d.Injection.TuningPort
	}
	if c.Injection.ConnectRetries == 0 {
		c.Injection.ConnectRetries = d.Injection.ConnectRetries
	}
	if c.Injection.ConnectBackoffMS == 0 {
		c.Injection.ConnectBackoffMS = d.Injection.ConnectBackoffMS
	}
	if c.Injection.ReadTimeoutMS == 0 {
		c.Injection.ReadTimeoutMS = d.Injection.ReadTimeoutMS
	}
	if c.Injection.BrokerTimeoutMS == 0 {
		c.Injection.BrokerTimeoutMS = d.Injection.BrokerTimeoutMS
	}
	if c.PortAllocator.WindowSize == 0 {
		c.PortAllocator.WindowSize = d.PortAllocator.WindowSize
	}
	if c.Mutate.RepeatMode == "" {
		c.Mutate.RepeatMode = d.Mutate.RepeatMode
	}
	if c.Mutate.RepeatTimes == 0 {
		c.Mutate.RepeatTimes = d.Mutate.RepeatTimes
	}
	if c.Mutate.MinRepeatTimes == 0 {
		c.Mutate.MinRepeatTimes = d.Mutate.MinRepeatTimes
	}
	if c.Mutate.MaxRepeatTimes == 0 {
		c.Mutate.MaxRepeatTimes = d.Mutate.MaxRepeatTimes
	}
	if c.Mutate.ReplaceTimes == 0 {
		c.Mutate.ReplaceTimes = d.Mutate.ReplaceTimes
	}
	if c.Mutate.InsertTimes == 0 {
		c.Mutate.InsertTimes = d.Mutate.InsertTimes
	}
	if c.Mutate.MinObfuscateTimes == 0 {
		c.Mutate.MinObfuscateTimes = d.Mutate.MinObfuscateTimes
	}
	if c.Mutate.MaxObfuscateTimes == 0 {
		c.Mutate.MaxObfuscateTimes = d.Mutate.MaxObfuscateTimes
	}
	if c.Accumulation.Threshold == 0 {
		c.Accumulation.Threshold = d.Accumulation.Threshold
	}
}

// Load parses an HCL tunables file at path, applying documented defaults to
// any block or field the file leaves unset.
func Load(path string) (*Config, error) {
	var c Config
	if err := hclsimple.DecodeFile(path, nil, &c); err != nil {
		return nil, errors.Wrapf(err, errors.KindFatal, "load config %s", path)
	}
	applyDefaults(&c)
	return &c, nil
}
