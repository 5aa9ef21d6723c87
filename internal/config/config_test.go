// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 50, c.Fuzz.HighWaterMark)
	assert.Equal(t, 5, c.Fuzz.LagSize)
	assert.Equal(t, 9999, c.Injection.TuningPort)
	assert.Equal(t, 1000, c.PortAllocator.WindowSize)
	assert.Equal(t, "block-wise", c.Mutate.RepeatMode)
	assert.Equal(t, 10, c.Accumulation.Threshold)
}

func TestLoadAppliesDefaultsToUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nidsfuzz.hcl")
	contents := `
fuzz {
  high_water_mark = 75
}

injection {
}

port_allocator {
}

mutate {
  repeat_times = 250
}

accumulation {
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75, c.Fuzz.HighWaterMark)
	assert.Equal(t, 5, c.Fuzz.LagSize, "unset field should fall back to default")
	assert.Equal(t, 9999, c.Injection.TuningPort)
	assert.Equal(t, 1000, c.PortAllocator.WindowSize)
	assert.Equal(t, 250, c.Mutate.RepeatTimes)
	assert.Equal(t, "block-wise", c.Mutate.RepeatMode, "unset field should fall back to default")
	assert.Equal(t, 10, c.Accumulation.Threshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}
