// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package portalloc allocates ephemeral TCP ports for injected test
// traffic and remembers the most recently handed out ports so the
// alignment window (internal/align) can recognize an alert's port as
// belonging to a recent test even after reordering (spec.md §4.6, C6).
package portalloc

import (
	"container/ring"
	"net"
	"sync"

	"grimm.is/nidsfuzz/internal/errors"
)

// Allocator hands out free TCP ports via bind-to-zero and keeps a
// fixed-size ring of recently allocated ports.
type Allocator struct {
	mu sync.Mutex

	memory    *ring.Ring
	size      int
	allocated int
}

// New returns an Allocator whose memory holds up to windowSize recently
// allocated ports. A non-positive windowSize disables memorization: Allocate
// never treats an in-use port as already seen.
func New(windowSize int) *Allocator {
	a := &Allocator{size: windowSize}
	if windowSize > 0 {
		a.memory = ring.New(windowSize)
	}
	return a
}

// Allocate binds an ephemeral port, releases the socket, and returns the
// port number. It retries until the port is not already present in memory,
// matching the reference allocator's collision-avoidance loop. When
// memorize is true the port is recorded and later reported by Contains.
func (a *Allocator) Allocate(memorize bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		port, err := findFreePort()
		if err != nil {
			return 0, errors.Wrapf(err, errors.KindInternal, "allocate ephemeral port")
		}
		if a.containsLocked(port) {
			continue
		}
		if memorize {
			a.rememberLocked(port)
		}
		return port, nil
	}
}

func findFreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Contains reports whether port is within the remembered window.
func (a *Allocator) Contains(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.containsLocked(port)
}

func (a *Allocator) containsLocked(port int) bool {
	if a.memory == nil {
		return false
	}
	found := false
	a.memory.Do(func(v any) {
		if v != nil && v.(int) == port {
			found = true
		}
	})
	return found
}

func (a *Allocator) rememberLocked(port int) {
	if a.memory == nil {
		return
	}
	a.memory.Value = port
	a.memory = a.memory.Next()
	if a.allocated < a.size {
		a.allocated++
	}
}

// WindowSize returns the configured memory span.
func (a *Allocator) WindowSize() int {
	return a.size
}
