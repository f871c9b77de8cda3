package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSimulator(t *testing.T, cfg Config) (Stats, error) {
	sim, err := newSimulator(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, sim.Close()) }()

	return sim.Run()
}

func TestSimulatorRun(t *testing.T) {
	cfg := Config{
		Frames:   64,
		Workers:  4,
		Ops:      2000,
		AllocPct: 45,
		SharePct: 20,
		Seed:     42,
	}

	stats, err := runSimulator(t, cfg)
	require.NoError(t, err)

	assert.Equal(t, uint32(64), stats.TotalFrames)
	assert.Equal(t, stats.TotalFrames, stats.FreeFrames, "all frames should be back on the free list")
	assert.NotZero(t, stats.Allocs)
	assert.NotZero(t, stats.Shares)
	assert.Equal(t, stats.Allocs+stats.Shares, stats.Releases, "every reference should be released exactly once")
}

func TestSimulatorExhaustion(t *testing.T) {
	cfg := Config{
		Frames:   16,
		Workers:  4,
		Ops:      50,
		AllocPct: 100,
		Seed:     7,
	}

	stats, err := runSimulator(t, cfg)
	require.NoError(t, err)

	// Nothing is released until every worker is done allocating
	assert.Equal(t, uint64(16), stats.Allocs, "only as many allocations as frames can succeed")
	assert.Equal(t, uint64(4*50-16), stats.Exhausted)
	assert.Equal(t, uint64(16), stats.Releases)
	assert.Equal(t, uint64(cfg.Workers*cfg.Ops), stats.Allocs+stats.Exhausted)
	assert.Equal(t, stats.TotalFrames, stats.FreeFrames)
}

func TestSimulatorInvalidConfig(t *testing.T) {
	specs := []Config{
		{Frames: 0, Workers: 1, Ops: 1},
		{Frames: 1, Workers: 0, Ops: 1},
		{Frames: 1, Workers: 1, Ops: -1},
		{Frames: 1, Workers: 1, Ops: 1, AllocPct: 80, SharePct: 30},
		{Frames: 1, Workers: 1, Ops: 1, AllocPct: -1},
	}

	for specIndex, cfg := range specs {
		_, err := newSimulator(cfg)
		assert.ErrorIs(t, err, errInvalidConfig, "spec %d", specIndex)
	}
}
