// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alertmon

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"grimm.is/nidsfuzz/internal/errors"
	"grimm.is/nidsfuzz/internal/logging"
)

// tailer follows one NIDS log file, parsing newly appended lines into
// Alerts and pushing them onto a FIFO. It is paused/resumed by the
// Monitor that owns it rather than used standalone.
type tailer struct {
	path    string
	fifo    *FIFO
	pattern *compiledPattern
	logger  *logging.Logger

	mu        sync.Mutex
	paused    bool
	buffered  []Alert
	carry     []byte
	file      *os.File
	offset    int64
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stoppedWg sync.WaitGroup
}

func newTailer(path string, fifo *FIFO, pattern *compiledPattern, logger *logging.Logger) (*tailer, error) {
	t := &tailer{
		path:    path,
		fifo:    fifo,
		pattern: pattern,
		logger:  logger.WithComponent("alertmon.tailer").With("path", path),
		stopCh:  make(chan struct{}),
	}
	if err := t.openAtEOF(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.file.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "create file watcher")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		t.file.Close()
		return nil, errors.Wrapf(err, errors.KindInternal, "watch directory %q", filepath.Dir(path))
	}
	t.watcher = watcher
	return t, nil
}

// openAtEOF opens t.path and seeks to its current end, per spec.md §4.8
// step 1 ("open at current end-of-file").
func (t *tailer) openAtEOF() error {
	f, err := os.Open(t.path)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "open log file %q", t.path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, errors.KindInternal, "stat log file %q", t.path)
	}
	t.file = f
	t.offset = info.Size()
	t.carry = nil
	return nil
}

func (t *tailer) run() {
	t.stoppedWg.Add(1)
	defer t.stoppedWg.Done()
	for {
		select {
		case <-t.stopCh:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("watcher error", "error", err)
		}
	}
}

func (t *tailer) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(t.path) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Rename) != 0:
		t.reopen()
	case event.Op&fsnotify.Write != 0:
		t.drainNewBytes()
	case event.Op&fsnotify.Remove != 0:
		// The file may be recreated shortly (log rotation via unlink +
		// recreate); nothing to read until a Create event arrives.
	}
}

// reopen follows rotation: a new inode now owns this path, so the
// tailer starts reading it from byte zero.
func (t *tailer) reopen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
	}
	f, err := os.Open(t.path)
	if err != nil {
		t.logger.Warn("reopen after rotation failed", "error", err)
		t.file = nil
		return
	}
	t.file = f
	t.offset = 0
	t.carry = nil
	t.drainNewBytesLocked()
}

// drainNewBytes also covers "truncate and re-grow" rotation: if the
// file has shrunk since the last read, the tailer restarts from zero
// rather than seeking past the new end.
func (t *tailer) drainNewBytes() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainNewBytesLocked()
}

func (t *tailer) drainNewBytesLocked() {
	if t.file == nil {
		return
	}
	info, err := t.file.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		t.offset = 0
		t.carry = nil
	}
	if info.Size() == t.offset {
		return
	}

	buf := make([]byte, info.Size()-t.offset)
	n, err := t.file.ReadAt(buf, t.offset)
	if n > 0 {
		t.offset += int64(n)
		t.processChunk(buf[:n])
	}
	if err != nil && n == 0 {
		t.logger.Debug("read error", "error", err)
	}
}

func (t *tailer) processChunk(chunk []byte) {
	data := append(t.carry, chunk...)
	lines, rest := splitLines(data)
	t.carry = rest
	for _, line := range lines {
		alert, ok := t.pattern.parse(string(line))
		if !ok {
			continue
		}
		if t.paused {
			t.buffered = append(t.buffered, alert)
		} else {
			t.fifo.Push(alert)
		}
	}
}

// splitLines splits data on '\n', returning each complete line (with
// any trailing '\r' trimmed) and the trailing partial line still
// awaiting its terminator.
func splitLines(data []byte) (lines [][]byte, rest []byte) {
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return lines, data
		}
		line := data[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		lines = append(lines, line)
		data = data[idx+1:]
	}
}

func (t *tailer) pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// resume flushes whatever accumulated while paused into the FIFO, in
// arrival order, then lets new matches go straight to the FIFO again.
func (t *tailer) resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	for _, a := range t.buffered {
		t.fifo.Push(a)
	}
	t.buffered = nil
}

func (t *tailer) stop() {
	close(t.stopCh)
	t.watcher.Close()
	t.stoppedWg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
	}
}
