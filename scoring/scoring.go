// Package scoring combines a feature set into a single disturbance score
// in [0,1].
package scoring

import (
	"fmt"
	"math"
	"sync"

	"github.com/hb9tf/wifiradar/features"
)

// WeightTolerance is how far the weights may sum away from 1.0.
const WeightTolerance = 1e-9

type Feature int

const (
	RSSIVariance Feature = iota
	PhaseVariance
	FFTEnergy
	PhaseDelta
	numFeatures
)

var featureNames = [numFeatures]string{"rssi_variance", "phase_variance", "fft_energy", "phase_delta"}

func (f Feature) String() string {
	if f < 0 || f >= numFeatures {
		return fmt.Sprintf("feature(%d)", int(f))
	}
	return featureNames[f]
}

// Features lists every scored feature in weight order.
func Features() []Feature {
	return []Feature{RSSIVariance, PhaseVariance, FFTEnergy, PhaseDelta}
}

type Weights struct {
	RSSIVariance  float64 `yaml:"rssi_variance" json:"rssi_variance"`
	PhaseVariance float64 `yaml:"phase_variance" json:"phase_variance"`
	FFTEnergy     float64 `yaml:"fft_energy" json:"fft_energy"`
	PhaseDelta    float64 `yaml:"phase_delta" json:"phase_delta"`
}

var DefaultWeights = Weights{
	RSSIVariance:  0.30,
	PhaseVariance: 0.20,
	FFTEnergy:     0.30,
	PhaseDelta:    0.20,
}

func (w Weights) values() [numFeatures]float64 {
	return [numFeatures]float64{w.RSSIVariance, w.PhaseVariance, w.FFTEnergy, w.PhaseDelta}
}

func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w.values() {
		sum += v
	}
	return sum
}

func (w Weights) Validate() error {
	for f, v := range w.values() {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("weight of %s must be a non-negative number, got %v", Feature(f), v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Range maps a raw feature value onto [0,1]. Values at or below Floor
// score 0, values at or above the ceiling score 1. An adaptive range raises
// its ceiling to the largest value seen so far, never below Ceiling.
type Range struct {
	Floor    float64 `yaml:"floor" json:"floor"`
	Ceiling  float64 `yaml:"ceiling" json:"ceiling"`
	Adaptive bool    `yaml:"adaptive" json:"adaptive"`
}

func (r Range) Validate() error {
	if math.IsNaN(r.Floor) || math.IsInf(r.Floor, 0) || math.IsNaN(r.Ceiling) || math.IsInf(r.Ceiling, 0) {
		return fmt.Errorf("range bounds must be finite, got [%v, %v]", r.Floor, r.Ceiling)
	}
	if r.Ceiling <= r.Floor {
		return fmt.Errorf("range ceiling %v must be above floor %v", r.Ceiling, r.Floor)
	}
	return nil
}

type Ranges struct {
	RSSIVariance  Range `yaml:"rssi_variance" json:"rssi_variance"`
	PhaseVariance Range `yaml:"phase_variance" json:"phase_variance"`
	FFTEnergy     Range `yaml:"fft_energy" json:"fft_energy"`
	PhaseDelta    Range `yaml:"phase_delta" json:"phase_delta"`
}

func (r Ranges) values() [numFeatures]Range {
	return [numFeatures]Range{r.RSSIVariance, r.PhaseVariance, r.FFTEnergy, r.PhaseDelta}
}

var DefaultRanges = Ranges{
	// Integer dBm readings jitter by about one unit without any motion.
	RSSIVariance: Range{Floor: 1, Ceiling: 100},
	// Phases spread uniformly over a full turn.
	PhaseVariance: Range{Floor: 0, Ceiling: math.Pi * math.Pi / 3},
	FFTEnergy:     Range{Floor: 0, Ceiling: 1000},
	PhaseDelta:    Range{Floor: 0, Ceiling: math.Pi},
}

// Enabled gates features. Phase covers both phase variance and phase delta.
type Enabled struct {
	RSSI  bool `yaml:"rssi_enabled" json:"rssi_enabled"`
	Phase bool `yaml:"phase_enabled" json:"phase_enabled"`
	FFT   bool `yaml:"fft_enabled" json:"fft_enabled"`
}

func (e Enabled) has(f Feature) bool {
	switch f {
	case RSSIVariance:
		return e.RSSI
	case PhaseVariance, PhaseDelta:
		return e.Phase
	case FFTEnergy:
		return e.FFT
	}
	return false
}

type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`
	Ranges  Ranges  `yaml:"ranges" json:"ranges"`
	Enabled Enabled `yaml:"enabled" json:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights,
		Ranges:  DefaultRanges,
		Enabled: Enabled{RSSI: true, Phase: true, FFT: true},
	}
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	for f, r := range c.Ranges.values() {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", Feature(f), err)
		}
	}
	return nil
}

// EffectiveWeights returns the weights actually applied. The weight of a
// disabled feature is redistributed over the enabled ones in proportion to
// their own weights, so a score of 1.0 stays attainable. With every feature
// disabled all weights are zero.
func (c Config) EffectiveWeights() Weights {
	raw := c.Weights.values()
	var enabled float64
	for f, w := range raw {
		if c.Enabled.has(Feature(f)) {
			enabled += w
		}
	}
	var out [numFeatures]float64
	if enabled > 0 {
		for f, w := range raw {
			if c.Enabled.has(Feature(f)) {
				out[f] = w / enabled
			}
		}
	}
	return Weights{
		RSSIVariance:  out[RSSIVariance],
		PhaseVariance: out[PhaseVariance],
		FFTEnergy:     out[FFTEnergy],
		PhaseDelta:    out[PhaseDelta],
	}
}

// Scorer turns feature sets into disturbance scores. Its only state is the
// running ceiling of each adaptive range, which lives until Reset or
// Reconfigure. Safe for concurrent use.
type Scorer struct {
	mu       sync.Mutex
	cfg      Config
	weights  [numFeatures]float64
	ceilings [numFeatures]float64
}

func New(cfg Config) (*Scorer, error) {
	s := &Scorer{}
	if err := s.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure validates cfg, swaps it in and resets the adaptive ceilings.
// An invalid cfg leaves the scorer unchanged.
func (s *Scorer) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.weights = cfg.EffectiveWeights().values()
	s.reset()
	return nil
}

// Reset forgets the running ceilings of adaptive ranges.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Scorer) reset() {
	for f, r := range s.cfg.Ranges.values() {
		s.ceilings[f] = r.Ceiling
	}
}

// Ceiling returns the ceiling currently used for f.
func (s *Scorer) Ceiling(f Feature) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ceilings[f]
}

// Config returns the active configuration.
func (s *Scorer) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func rawValues(fs features.FeatureSet) [numFeatures]float64 {
	return [numFeatures]float64{fs.RSSIVariance, fs.PhaseVariance, fs.FFTEnergy, fs.PhaseDelta}
}

// Normalized returns the [0,1] value of every feature as Score would weigh
// it, updating adaptive ceilings on the way. Disabled features are 0.
func (s *Scorer) Normalized(fs features.FeatureSet) map[Feature]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	norm := s.normalizeAll(fs)
	out := make(map[Feature]float64, numFeatures)
	for f, v := range norm {
		out[Feature(f)] = v
	}
	return out
}

func (s *Scorer) normalizeAll(fs features.FeatureSet) [numFeatures]float64 {
	var norm [numFeatures]float64
	ranges := s.cfg.Ranges.values()
	for f, v := range rawValues(fs) {
		if !s.cfg.Enabled.has(Feature(f)) {
			continue
		}
		r := ranges[f]
		if r.Adaptive && !math.IsNaN(v) && !math.IsInf(v, 0) && v > s.ceilings[f] {
			s.ceilings[f] = v
		}
		norm[f] = normalize(v, r.Floor, s.ceilings[f])
	}
	return norm
}

// Score returns the weighted disturbance score of fs, always within [0,1].
func (s *Scorer) Score(fs features.FeatureSet) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var score float64
	for f, v := range s.normalizeAll(fs) {
		score += s.weights[f] * v
	}
	return clamp(score, 0, 1)
}

func normalize(v, floor, ceiling float64) float64 {
	switch {
	case math.IsNaN(v), v <= floor:
		return 0
	case v >= ceiling:
		return 1
	}
	return clamp((v-floor)/(ceiling-floor), 0, 1)
}

func clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}
