package synthetic

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/hb9tf/wifiradar/features"
	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/scoring"
	"github.com/hb9tf/wifiradar/spatial"
)

var origin = link.Addr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func TestGeneratorIsReproducible(t *testing.T) {
	start := time.Unix(0, 0)
	a := NewGenerator(origin, DefaultBaseSignal, 42, nil).Batch(start, 20, time.Millisecond, true)
	b := NewGenerator(origin, DefaultBaseSignal, 42, nil).Batch(start, 20, time.Millisecond, true)
	assert.Equal(t, a, b)

	c := NewGenerator(origin, DefaultBaseSignal, 43, nil).Batch(start, 20, time.Millisecond, true)
	assert.NotEqual(t, a, c)
}

func TestBatch(t *testing.T) {
	start := time.Unix(10, 0)
	batch := NewGenerator(origin, -60, 1, nil).Batch(start, 5, 10*time.Millisecond, false)
	require.Len(t, batch, 5)
	for i, o := range batch {
		assert.Equal(t, start.Add(time.Duration(i)*10*time.Millisecond), o.Timestamp)
		assert.Equal(t, origin, o.Origin)
		p, ok := o.Phase.Get()
		require.True(t, ok)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.Less(t, p, 2*math.Pi)
		assert.InDelta(t, -60, o.Signal, 8)
	}
}

func TestMotionScoresHigher(t *testing.T) {
	start := time.Unix(0, 0)
	still := features.Extract(NewGenerator(origin, DefaultBaseSignal, 7, nil).Batch(start, 200, time.Millisecond, false), nil)
	moving := features.Extract(NewGenerator(origin, DefaultBaseSignal, 7, nil).Batch(start, 200, time.Millisecond, true), nil)

	assert.Greater(t, moving.RSSIVariance, 4*still.RSSIVariance)

	sc := scoring.DefaultConfig()
	sc.Enabled = scoring.Enabled{RSSI: true}
	scorer, err := scoring.New(sc)
	require.NoError(t, err)
	assert.Greater(t, scorer.Score(moving), scorer.Score(still))
}

// scores runs n consecutive batches through the default scorer.
func scores(t *testing.T, motion bool, n int) []float64 {
	t.Helper()
	scorer, err := scoring.New(scoring.DefaultConfig())
	require.NoError(t, err)
	g := NewGenerator(origin, DefaultBaseSignal, 11, link.NewSpectrum(link.DefaultSpectrumWindow))
	start := time.Unix(0, 0)
	var prev *features.FeatureSet
	var out []float64
	for i := range n {
		fs := features.Extract(g.Batch(start.Add(time.Duration(i)*time.Second), 100, 10*time.Millisecond, motion), prev)
		prev = &fs
		out = append(out, scorer.Score(fs))
	}
	return out
}

func TestStaticTrafficStaysBelowActivityThreshold(t *testing.T) {
	threshold := spatial.DefaultConfig().ActivityThreshold
	for i, score := range scores(t, false, 50) {
		assert.LessOrEqual(t, score, threshold, "batch %d", i)
	}
}

func TestMotionTrafficCrossesActivityThreshold(t *testing.T) {
	threshold := spatial.DefaultConfig().ActivityThreshold
	still := scores(t, false, 50)
	moving := scores(t, true, 50)
	assert.Greater(t, stat.Mean(moving, nil), threshold)
	assert.Greater(t, stat.Mean(moving, nil), 2*stat.Mean(still, nil))
}

func TestStaticPhaseIsNarrow(t *testing.T) {
	fs := features.Extract(NewGenerator(origin, DefaultBaseSignal, 5, nil).Batch(time.Unix(0, 0), 200, time.Millisecond, false), nil)
	assert.Less(t, fs.PhaseVariance, 0.05)
	moving := features.Extract(NewGenerator(origin, DefaultBaseSignal, 5, nil).Batch(time.Unix(0, 0), 200, time.Millisecond, true), nil)
	assert.Greater(t, moving.PhaseVariance, 0.5)
}

func TestSpectrumAttached(t *testing.T) {
	g := NewGenerator(origin, DefaultBaseSignal, 3, link.NewSpectrum(4))
	batch := g.Batch(time.Unix(0, 0), 4, time.Millisecond, true)
	assert.False(t, batch[0].Spectrum.Valid)
	assert.True(t, batch[3].Spectrum.Valid)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"static": Static, "Motion": Motion, "": Alternating, "alternating": Alternating} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("dance")
	assert.Error(t, err)
}

func TestAlternatingSchedule(t *testing.T) {
	s := &Source{Mode: Alternating, Period: time.Second}
	assert.True(t, s.moving(0))
	assert.True(t, s.moving(6*time.Second+500*time.Millisecond))
	assert.False(t, s.moving(7*time.Second))
	assert.False(t, s.moving(9*time.Second))
	assert.True(t, s.moving(10*time.Second))

	assert.True(t, (&Source{Mode: Motion}).moving(time.Hour))
	assert.False(t, (&Source{Mode: Static}).moving(0))
}

func TestSourceCount(t *testing.T) {
	s := &Source{
		Generator: NewGenerator(origin, DefaultBaseSignal, 1, nil),
		Mode:      Motion,
		Interval:  time.Millisecond,
		Count:     5,
	}
	assert.Equal(t, "synthetic", s.Name())

	ch := make(chan link.Observation, 10)
	require.NoError(t, s.Capture(context.Background(), ch))
	assert.Len(t, ch, 5)
}

func TestSourceCancel(t *testing.T) {
	s := &Source{Generator: NewGenerator(origin, DefaultBaseSignal, 1, nil), Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan link.Observation)

	done := make(chan error, 1)
	go func() { done <- s.Capture(ctx, ch) }()
	<-ch
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop after cancel")
	}
	assert.Error(t, (&Source{}).Capture(context.Background(), ch))
}
