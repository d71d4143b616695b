// Package pipeline drives the radar: every bin it drains one time window
// from the buffer, extracts features, scores them and runs one
// accumulation cycle.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/wifiradar/buffer"
	"github.com/hb9tf/wifiradar/features"
	"github.com/hb9tf/wifiradar/metrics"
	"github.com/hb9tf/wifiradar/publish"
	"github.com/hb9tf/wifiradar/scoring"
	"github.com/hb9tf/wifiradar/spatial"
)

type Pipeline struct {
	buf    *buffer.Buffer
	scorer *scoring.Scorer
	acc    *spatial.Accumulator
	bin    time.Duration

	mu          sync.Mutex
	windowStart time.Time
	prev        *features.FeatureSet
}

func New(buf *buffer.Buffer, scorer *scoring.Scorer, acc *spatial.Accumulator, bin time.Duration) (*Pipeline, error) {
	if buf == nil || scorer == nil || acc == nil {
		return nil, fmt.Errorf("pipeline needs a buffer, a scorer and an accumulator")
	}
	if bin <= 0 {
		return nil, fmt.Errorf("bin duration must be positive, got %s", bin)
	}
	return &Pipeline{buf: buf, scorer: scorer, acc: acc, bin: bin}, nil
}

// Step closes the window ending at end and runs one cycle on it. The
// window starts where the previous one ended; the first window reaches
// back one bin duration.
func (p *Pipeline) Step(end time.Time) publish.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	began := time.Now()
	start := p.windowStart
	if start.IsZero() {
		start = end.Add(-p.bin)
	}
	batch := p.buf.Drain(start, end)
	p.windowStart = end

	fs := features.Extract(batch, p.prev)
	p.prev = &fs
	if len(batch) == 0 {
		glog.V(2).Infof("empty window [%s, %s)", start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
	score := p.scorer.Score(fs)
	snap := p.acc.Cycle(score, len(batch))

	record(fs, snap)
	metrics.CycleDuration.Observe(time.Since(began).Seconds())
	glog.V(1).Infof("cycle %d: %d observations, score %.3f, max %.3f, active cells %d", snap.Cycle, len(batch), score, snap.Max, snap.ActiveCells)
	return snap
}

func record(fs features.FeatureSet, snap publish.Snapshot) {
	metrics.CyclesTotal.Inc()
	metrics.BatchSize.Set(float64(fs.PacketCount))
	metrics.DisturbanceScore.Set(snap.Score)
	metrics.Features.WithLabelValues(scoring.RSSIVariance.String()).Set(fs.RSSIVariance)
	metrics.Features.WithLabelValues(scoring.PhaseVariance.String()).Set(fs.PhaseVariance)
	metrics.Features.WithLabelValues(scoring.FFTEnergy.String()).Set(fs.FFTEnergy)
	metrics.Features.WithLabelValues(scoring.PhaseDelta.String()).Set(fs.PhaseDelta)
	metrics.GridMax.Set(snap.Max)
	metrics.GridMean.Set(snap.Mean)
	metrics.ActiveCells.Set(float64(snap.ActiveCells))
}

// Run steps once per bin until ctx is done. A cycle in progress always
// completes; cancellation is only looked at between cycles.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.bin)
	defer ticker.Stop()

	glog.Infof("pipeline running with %s bins\n", p.bin)
	for {
		select {
		case <-ctx.Done():
			glog.Infof("pipeline stopped: %s\n", ctx.Err())
			return ctx.Err()
		case now := <-ticker.C:
			p.Step(now)
		}
	}
}

// Reset clears the grid, the adaptive ranges and the phase reference.
// Buffered observations are kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prev = nil
	p.scorer.Reset()
	p.acc.Reset()
	glog.Info("pipeline state reset")
}
