// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alertmon

import (
	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/logging"
)

// Monitor runs one tailer per configured NIDS log file and exposes a
// shared pause/resume so the alignment stage can drain every FIFO
// consistently without new alerts racing in mid-drain (spec.md §4.8).
type Monitor struct {
	tailers []*tailer
	fifos   map[string]*FIFO
	logger  *logging.Logger
}

// Source names one NIDS log file and the pattern used to parse it.
// Pattern may be empty, in which case DefaultPattern is used.
type Source struct {
	Path    string
	Pattern string
}

// New constructs a Monitor over the given sources but does not start
// tailing; call Start for that.
func New(sources []Source, logger *logging.Logger) (*Monitor, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("alertmon")

	m := &Monitor{fifos: make(map[string]*FIFO), logger: logger}
	for _, src := range sources {
		pattern := src.Pattern
		if pattern == "" {
			pattern = DefaultPattern
		}
		cp, err := compilePattern(pattern)
		if err != nil {
			return nil, err
		}
		fifo := NewFIFO()
		t, err := newTailer(src.Path, fifo, cp, logger)
		if err != nil {
			m.Stop()
			return nil, errors.Wrapf(err, errors.KindInternal, "start tailer for %q", src.Path)
		}
		m.tailers = append(m.tailers, t)
		m.fifos[src.Path] = fifo
	}
	return m, nil
}

// Start begins tailing every configured source in the background.
func (m *Monitor) Start() {
	for _, t := range m.tailers {
		go t.run()
	}
}

// FIFO returns the alert queue for the given source path, or nil if it
// is not one of this monitor's sources.
func (m *Monitor) FIFO(path string) *FIFO {
	return m.fifos[path]
}

// FIFOs returns every monitored path's queue, keyed by path, for
// callers (the alignment stage) that need to iterate all of them.
func (m *Monitor) FIFOs() map[string]*FIFO {
	return m.fifos
}

// Pause suspends every tailer's FIFO delivery: bytes still accumulate
// but parsed alerts are buffered rather than queued, so a drain in
// progress sees a stable set of FIFOs.
func (m *Monitor) Pause() {
	for _, t := range m.tailers {
		t.pause()
	}
}

// Resume flushes every tailer's buffered alerts into its FIFO and lets
// new alerts flow directly again.
func (m *Monitor) Resume() {
	for _, t := range m.tailers {
		t.resume()
	}
}

// Stop halts every tailer and releases its file handle and watcher.
func (m *Monitor) Stop() {
	for _, t := range m.tailers {
		t.stop()
	}
}
