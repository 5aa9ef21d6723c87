// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package alertmon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snort3Line = `09/12-21:23:49.803656 [**] [1:8058:11] "BROWSER-FIREFOX Mozilla javascript navigator object access" [**] [Classification: Attempted User Privilege Gain] [Priority: 1] {TCP} 192.168.0.10:80 -> 172.18.0.10:41074`

func TestCompiledPatternParsesReferenceSnortLine(t *testing.T) {
	cp, err := compilePattern(DefaultPattern)
	require.NoError(t, err)

	alert, ok := cp.parse(snort3Line)
	require.True(t, ok)
	assert.Equal(t, "1:8058:11", alert.RuleID)
	assert.Equal(t, "192.168.0.10", alert.SrcIP)
	assert.Equal(t, 80, alert.SrcPort)
	assert.Equal(t, "172.18.0.10", alert.DstIP)
	assert.Equal(t, 41074, alert.DstPort)
}

func TestCompiledPatternDropsUnmatchedLines(t *testing.T) {
	cp, err := compilePattern(DefaultPattern)
	require.NoError(t, err)

	_, ok := cp.parse("this is not an alert line")
	assert.False(t, ok)
}

func TestCompilePatternRejectsMissingGroups(t *testing.T) {
	_, err := compilePattern(`(?P<rule_id>\d+)`)
	assert.Error(t, err)
}

func TestFIFOPushPeekPop(t *testing.T) {
	f := NewFIFO()
	assert.Equal(t, 0, f.Len())

	a1 := Alert{RuleID: "1:1:1"}
	a2 := Alert{RuleID: "1:2:1"}
	f.Push(a1)
	f.Push(a2)
	assert.Equal(t, 2, f.Len())

	head, ok := f.Peek()
	require.True(t, ok)
	assert.Equal(t, a1, head)
	assert.Equal(t, 2, f.Len(), "peek must not remove")

	popped, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, a1, popped)
	assert.Equal(t, 1, f.Len())

	popped, ok = f.Pop()
	require.True(t, ok)
	assert.Equal(t, a2, popped)

	_, ok = f.Pop()
	assert.False(t, ok)
}

func TestSplitLinesKeepsTrailingPartialLine(t *testing.T) {
	lines, rest := splitLines([]byte("one\ntwo\nthr"))
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
	assert.Equal(t, "thr", string(rest))
}

func TestSplitLinesTrimsCarriageReturn(t *testing.T) {
	lines, rest := splitLines([]byte("one\r\ntwo\r\n"))
	require.Len(t, lines, 2)
	assert.Equal(t, "one", string(lines[0]))
	assert.Equal(t, "two", string(lines[1]))
	assert.Empty(t, rest)
}

// waitForFIFO polls until fifo has at least n entries or the deadline
// passes, since the tailer delivers alerts asynchronously off fsnotify
// events.
func waitForFIFO(t *testing.T, f *FIFO, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Len() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("fifo never reached %d entries, got %d", n, f.Len())
}

func TestMonitorTailsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snort3.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := New([]Source{{Path: path}}, nil)
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(snort3Line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fifo := m.FIFO(path)
	require.NotNil(t, fifo)
	waitForFIFO(t, fifo, 1, 2*time.Second)

	alert, ok := fifo.Pop()
	require.True(t, ok)
	assert.Equal(t, "1:8058:11", alert.RuleID)
}

func TestMonitorPauseBuffersWithoutDrainingToFIFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snort3.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := New([]Source{{Path: path}}, nil)
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	m.Pause()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(snort3Line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Give the tailer a chance to read the bytes; they should land in
	// the internal buffer, not the FIFO, while paused.
	time.Sleep(200 * time.Millisecond)
	fifo := m.FIFO(path)
	assert.Equal(t, 0, fifo.Len())

	m.Resume()
	waitForFIFO(t, fifo, 1, 2*time.Second)
}
