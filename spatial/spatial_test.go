package spatial

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/wifiradar/publish"
)

// fixed always places the full score on one cell.
type fixed struct{ row, col int }

func (f fixed) Place(score float64, _ uint64, _, _ int) []Placement {
	return []Placement{{Row: f.row, Col: f.col, Weight: score}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Rows, cfg.Cols = 6, 8
	return cfg
}

func newAccumulator(t *testing.T, cfg Config, policy Policy) *Accumulator {
	t.Helper()
	a, err := New(cfg, policy, publish.NewPublisher("test"))
	require.NoError(t, err)
	return a
}

func maxOf(cells []float64) float64 {
	m := 0.0
	for _, v := range cells {
		m = math.Max(m, v)
	}
	return m
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		desc   string
		modify func(*Config)
	}{
		{"zero rows", func(c *Config) { c.Rows = 0 }},
		{"negative cols", func(c *Config) { c.Cols = -1 }},
		{"zero decay", func(c *Config) { c.Decay = 0 }},
		{"decay above one", func(c *Config) { c.Decay = 1.01 }},
		{"nan decay", func(c *Config) { c.Decay = math.NaN() }},
		{"threshold of one", func(c *Config) { c.ActivityThreshold = 1 }},
		{"negative history", func(c *Config) { c.HistorySize = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := testConfig()
			tc.modify(&cfg)
			_, err := New(cfg, Gaussian{}, nil)
			assert.Error(t, err)
		})
	}

	_, err := New(testConfig(), nil, nil)
	assert.Error(t, err)
}

func TestStateMachine(t *testing.T) {
	a := newAccumulator(t, testConfig(), Gaussian{Seed: 1})
	assert.Equal(t, Idle, a.State())
	assert.Equal(t, make([]float64, 48), a.Snapshot().Cells())

	a.Cycle(0.9, 3)
	assert.Equal(t, Accumulating, a.State())
	assert.Equal(t, uint64(1), a.Snapshot().Cycle)

	a.Reset()
	assert.Equal(t, Idle, a.State())
	snap := a.Snapshot()
	assert.Zero(t, maxOf(snap.Cells()))
	assert.Zero(t, snap.TotalPackets)
	assert.Empty(t, a.History())
}

func TestDecayOfOneKeepsGrid(t *testing.T) {
	for _, normalize := range []bool{true, false} {
		cfg := testConfig()
		cfg.Decay = 1
		cfg.Normalize = normalize
		a := newAccumulator(t, cfg, Gaussian{Seed: 7})

		a.Cycle(0.8, 1)
		a.Cycle(0.6, 1)
		before := a.Snapshot().Cells()
		for i := 0; i < 50; i++ {
			a.Cycle(0, 0)
		}
		assert.Equal(t, before, a.Snapshot().Cells(), "normalize=%v", normalize)
	}
}

func TestDecayStrictlyShrinksCells(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 0.7
	cfg.Normalize = false
	a := newAccumulator(t, cfg, Gaussian{Seed: 3})

	prev := a.Cycle(1, 1).Cells()
	require.Positive(t, maxOf(prev))
	for i := 0; i < 80; i++ {
		cur := a.Cycle(0, 0).Cells()
		for j := range cur {
			if prev[j] > 0 {
				assert.Less(t, cur[j], prev[j])
			} else {
				assert.Zero(t, cur[j])
			}
		}
		prev = cur
	}
	assert.Zero(t, maxOf(prev), "decayed cells end at exactly zero")
}

func TestAccumulationAddsEnergy(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 1
	cfg.Normalize = false
	cfg.ActivityThreshold = 0
	a := newAccumulator(t, cfg, fixed{row: 2, col: 3})

	a.Cycle(0.3, 1)
	snap := a.Cycle(0.4, 1)
	assert.InDelta(t, 0.7, snap.At(2, 3), 1e-12)

	cfg.Decay = 0.5
	b := newAccumulator(t, cfg, fixed{row: 2, col: 3})
	b.Cycle(0.4, 1)
	snap = b.Cycle(0.4, 1)
	assert.InDelta(t, 0.6, snap.At(2, 3), 1e-12, "decay runs before placement")
}

func TestNormalizationInvariant(t *testing.T) {
	a := newAccumulator(t, testConfig(), Gaussian{Seed: 11})

	zero := a.Cycle(0, 0)
	assert.Zero(t, zero.Max)
	for _, v := range zero.Cells() {
		assert.Zero(t, v)
	}

	for _, score := range []float64{0.2, 0.9, 0.5, 0.05, 0, 1, 0.3} {
		snap := a.Cycle(score, 1)
		assert.InDelta(t, 1.0, snap.Max, 1e-12)
		assert.InDelta(t, 1.0, maxOf(snap.Cells()), 1e-12)
		for _, v := range snap.Cells() {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestPlacementIsDeterministic(t *testing.T) {
	scores := []float64{0.5, 0.9, 0.0, 0.3, 1.0, 0.7, 0.2, 0.8, 0.1, 0.6}
	for _, policy := range []Policy{Gaussian{Seed: 42, Sigma: 1.5}, RoundRobin{Seed: 5}} {
		a := newAccumulator(t, testConfig(), policy)
		b := newAccumulator(t, testConfig(), policy)
		for _, s := range scores {
			a.Cycle(s, 2)
			b.Cycle(s, 2)
		}
		assert.Equal(t, a.Snapshot().Cells(), b.Snapshot().Cells())
	}
}

func TestZeroScoresKeepGridEmpty(t *testing.T) {
	a := newAccumulator(t, testConfig(), Gaussian{Seed: 1})
	for i := 0; i < 100; i++ {
		a.Cycle(0, 0)
	}
	assert.Equal(t, make([]float64, 48), a.Snapshot().Cells())

	cfg := testConfig()
	cfg.Decay = 0.5
	cfg.Normalize = false
	b := newAccumulator(t, cfg, Gaussian{Seed: 1})
	b.Cycle(1, 1)
	for i := 0; i < 100; i++ {
		b.Cycle(0, 0)
	}
	assert.Equal(t, make([]float64, 48), b.Snapshot().Cells())
}

func TestActivityThreshold(t *testing.T) {
	a := newAccumulator(t, testConfig(), Gaussian{Seed: 1})
	snap := a.Cycle(0.1, 4)
	assert.Zero(t, snap.Max, "a score at the threshold places nothing")
	snap = a.Cycle(0.11, 4)
	assert.InDelta(t, 1.0, snap.Max, 1e-12)
}

func TestStats(t *testing.T) {
	cfg := testConfig()
	cfg.Rows, cfg.Cols = 2, 2
	cfg.Normalize = false
	cfg.Decay = 1
	cfg.HistorySize = 3
	a := newAccumulator(t, cfg, RoundRobin{NeighbourWeight: 0.05})

	snap := a.Cycle(0.8, 5)
	// Round robin starts at cell 1 on the first cycle: (0,1) gets 0.8, its
	// neighbours (1,1) and (0,0) get 0.04 each.
	assert.InDelta(t, 0.8, snap.At(0, 1), 1e-12)
	assert.InDelta(t, 0.04, snap.At(0, 0), 1e-12)
	assert.InDelta(t, 0.04, snap.At(1, 1), 1e-12)
	assert.Zero(t, snap.At(1, 0))
	assert.Equal(t, 1, snap.ActiveCells)
	assert.InDelta(t, 0.8, snap.Max, 1e-12)
	assert.InDelta(t, 0.22, snap.Mean, 1e-12)
	assert.Equal(t, 5, snap.Packets)
	assert.Equal(t, uint64(5), snap.TotalPackets)

	for i := 0; i < 4; i++ {
		snap = a.Cycle(0, 2)
	}
	assert.Equal(t, uint64(13), snap.TotalPackets)
	assert.Equal(t, 3, snap.History)
	assert.Equal(t, []float64{0, 0, 0}, a.History())
}

func TestCycleClampsScore(t *testing.T) {
	cfg := testConfig()
	cfg.Normalize = false
	cfg.Decay = 1
	a := newAccumulator(t, cfg, fixed{})
	assert.Equal(t, 1.0, a.Cycle(7, 0).At(0, 0))
	assert.Equal(t, 1.0, a.Cycle(math.NaN(), 0).At(0, 0))
	assert.Equal(t, 1.0, a.Cycle(-3, 0).At(0, 0))
}

func TestSnapshotsNeverMixCycles(t *testing.T) {
	cfg := testConfig()
	cfg.Rows, cfg.Cols = 20, 20
	a := newAccumulator(t, cfg, Gaussian{Seed: 9})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			a.Cycle(float64(i%10)/10, 1)
		}
	}()
	for i := 0; i < 500; i++ {
		snap := a.Snapshot()
		m := maxOf(snap.Cells())
		if m != 0 {
			assert.InDelta(t, 1.0, m, 1e-12)
		}
		assert.Equal(t, snap.Max, m)
	}
	wg.Wait()
}
