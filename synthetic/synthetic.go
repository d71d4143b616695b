// Package synthetic simulates the traffic of a single access point, with
// or without someone moving nearby. It stands in for a monitor-mode
// interface in demos and tests.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hb9tf/wifiradar/link"
)

const (
	SourceName = "synthetic"

	DefaultBaseSignal = -50
	DefaultInterval   = 10 * time.Millisecond
	DefaultPeriod     = time.Second

	// Signal spread in dB with and without motion.
	motionSigma = 5
	stillSigma  = 1

	// Phase spread in radians around the current mean. Motion also walks
	// the mean by phaseDrift per observation.
	motionPhaseSigma = 1.0
	stillPhaseSigma  = 0.1
	phaseDrift       = 0.05
)

type Mode int

const (
	Static Mode = iota
	Motion
	// Alternating has motion during the first 7 of every 10 periods.
	Alternating
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "static", "still":
		return Static, nil
	case "motion":
		return Motion, nil
	case "", "alternating":
		return Alternating, nil
	}
	return Static, fmt.Errorf("%q is not a supported synthetic mode, pick one of: static, motion, alternating", s)
}

func (m Mode) String() string {
	switch m {
	case Static:
		return "static"
	case Motion:
		return "motion"
	case Alternating:
		return "alternating"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Generator draws observations. Signal readings are normal around the base
// signal. Phases are normal around a mean that holds still without motion
// and drifts with it. The mean stays within [π/2, 3π/2] so a still phase
// never straddles the wrap at 2π. Not safe for concurrent use.
type Generator struct {
	origin    link.Addr
	base      float64
	src       rand.Source
	phaseMean float64
	drift     distuv.Normal
	spectrum  *link.Spectrum
}

// NewGenerator returns a generator for origin. The same seed yields the
// same sequence. A nil spectrum leaves observations without one.
func NewGenerator(origin link.Addr, baseSignal int, seed uint64, spectrum *link.Spectrum) *Generator {
	src := rand.NewPCG(seed, 0x5eed)
	return &Generator{
		origin:    origin,
		base:      float64(baseSignal),
		src:       src,
		phaseMean: math.Pi,
		drift:     distuv.Normal{Mu: 0, Sigma: phaseDrift, Src: src},
		spectrum:  spectrum,
	}
}

// Next draws one observation stamped at ts.
func (g *Generator) Next(ts time.Time, motion bool) link.Observation {
	sigma, phaseSigma := float64(stillSigma), stillPhaseSigma
	if motion {
		sigma, phaseSigma = motionSigma, motionPhaseSigma
		g.phaseMean = reflect(g.phaseMean+g.drift.Rand(), math.Pi/2, 3*math.Pi/2)
	}
	signal := distuv.Normal{Mu: g.base, Sigma: sigma, Src: g.src}
	phase := distuv.Normal{Mu: g.phaseMean, Sigma: phaseSigma, Src: g.src}
	o := link.Observation{
		Timestamp: ts,
		Origin:    g.origin,
		Signal:    int(math.Round(signal.Rand())),
		Phase:     link.Some(wrap(phase.Rand())),
	}
	if g.spectrum != nil {
		o.Spectrum = g.spectrum.Add(g.origin, o.Signal)
	}
	return o
}

func reflect(v, low, high float64) float64 {
	switch {
	case v < low:
		return 2*low - v
	case v > high:
		return 2*high - v
	}
	return v
}

// wrap maps phase to [0, 2π).
func wrap(phase float64) float64 {
	phase = math.Mod(phase, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	if phase >= 2*math.Pi {
		return 0
	}
	return phase
}

// Batch draws n observations spaced interval apart from start.
func (g *Generator) Batch(start time.Time, n int, interval time.Duration, motion bool) []link.Observation {
	out := make([]link.Observation, 0, n)
	for i := range n {
		out = append(out, g.Next(start.Add(time.Duration(i)*interval), motion))
	}
	return out
}

// Source emits one observation per Interval until its context is done or
// Count observations were sent.
type Source struct {
	Generator *Generator
	Mode      Mode
	Interval  time.Duration
	// Period is the length of one motion or stillness phase in Alternating mode.
	Period time.Duration
	// Count stops the source after that many observations; 0 runs forever.
	Count int
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) moving(elapsed time.Duration) bool {
	switch s.Mode {
	case Motion:
		return true
	case Alternating:
		period := s.Period
		if period <= 0 {
			period = DefaultPeriod
		}
		return int64(elapsed/period)%10 < 7
	}
	return false
}

func (s *Source) Capture(ctx context.Context, observations chan<- link.Observation) error {
	if s.Generator == nil {
		return fmt.Errorf("synthetic source has no generator")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	glog.Infof("generating %s traffic every %s\n", s.Mode, interval)
	start := time.Now()
	for sent := 0; s.Count == 0 || sent < s.Count; sent++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			o := s.Generator.Next(now, s.moving(now.Sub(start)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case observations <- o:
			}
		}
	}
	return nil
}
