// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alertmon

import "sync"

// FIFO is the per-NIDS alert queue the alignment stage (internal/align)
// drains from. It supports peeking the head without removing it, which
// the alignment algorithm needs to decide whether to consume, reroute
// to an earlier bundle, discard as stale, or stop (spec.md §4.9).
type FIFO struct {
	mu    sync.Mutex
	items []Alert
}

// NewFIFO returns an empty FIFO.
func NewFIFO() *FIFO {
	return &FIFO{}
}

// Push appends a to the back of the queue.
func (f *FIFO) Push(a Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, a)
}

// Peek returns the head element without removing it.
func (f *FIFO) Peek() (Alert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return Alert{}, false
	}
	return f.items[0], true
}

// Pop removes and returns the head element.
func (f *FIFO) Pop() (Alert, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return Alert{}, false
	}
	a := f.items[0]
	f.items = f.items[1:]
	return a, true
}

// Len reports the current queue length.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
