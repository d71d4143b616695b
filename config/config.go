// Package config holds the radar configuration. Files use the layout of
// config.json (capture, filtering, features, scoring, spatial, buffer,
// visualization) and may be written as JSON or YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hb9tf/wifiradar/buffer"
	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/scoring"
	"github.com/hb9tf/wifiradar/spatial"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Capture       Capture         `yaml:"capture"`
	Filtering     Filtering       `yaml:"filtering"`
	Features      scoring.Enabled `yaml:"features"`
	Scoring       Scoring         `yaml:"scoring"`
	Spatial       Spatial         `yaml:"spatial"`
	Buffer        Buffer          `yaml:"buffer"`
	Visualization Visualization   `yaml:"visualization"`
}

type Capture struct {
	// Source is one of: pcap, live, synthetic, http.
	Source    string `yaml:"source"`
	Interface string `yaml:"interface"`
	// Channel is the channel the interface is expected to be tuned to. It
	// is recorded, not applied.
	Channel        int     `yaml:"channel"`
	FrequencyGHz   float64 `yaml:"frequency_ghz"`
	PcapFile       string  `yaml:"pcap_file"`
	ReplaySpeed    float64 `yaml:"replay_speed"`
	SpectrumWindow int     `yaml:"spectrum_window"`
}

type Filtering struct {
	BSSIDFilter []string `yaml:"bssid_filter"`
	PacketTypes []string `yaml:"packet_types"`
	MinSignal   int      `yaml:"min_signal"`
	MaxSignal   int      `yaml:"max_signal"`
}

type Scoring struct {
	Weights scoring.Weights `yaml:"weights"`
	Ranges  scoring.Ranges  `yaml:"ranges"`
}

type Placement struct {
	Policy string  `yaml:"policy"`
	Seed   uint64  `yaml:"seed"`
	Sigma  float64 `yaml:"sigma"`
}

type Spatial struct {
	GridSize            []int     `yaml:"grid_size"`
	BinMode             string    `yaml:"bin_mode"`
	BinDuration         float64   `yaml:"bin_duration"`
	DecayFactor         float64   `yaml:"decay_factor"`
	Normalization       bool      `yaml:"normalization"`
	ActivityThreshold   float64   `yaml:"activity_threshold"`
	ActiveCellThreshold float64   `yaml:"active_cell_threshold"`
	HistorySize         int       `yaml:"history_size"`
	Placement           Placement `yaml:"placement"`
}

type Buffer struct {
	Capacity int `yaml:"capacity"`
}

type Visualization struct {
	UpdateInterval float64 `yaml:"update_interval"`
	CellSize       int     `yaml:"cell_size"`
	Listen         string  `yaml:"listen"`
}

func Default() Config {
	sc := scoring.DefaultConfig()
	sp := spatial.DefaultConfig()
	return Config{
		Capture: Capture{
			Source:         "pcap",
			Interface:      "wlan0mon",
			Channel:        6,
			FrequencyGHz:   2.4,
			ReplaySpeed:    1,
			SpectrumWindow: link.DefaultSpectrumWindow,
		},
		Filtering: Filtering{
			PacketTypes: []string{"Beacon", "Data"},
			MinSignal:   -100,
			MaxSignal:   -1,
		},
		Features: sc.Enabled,
		Scoring: Scoring{
			Weights: sc.Weights,
			Ranges:  sc.Ranges,
		},
		Spatial: Spatial{
			GridSize:            []int{sp.Rows, sp.Cols},
			BinMode:             "time",
			BinDuration:         1.0,
			DecayFactor:         sp.Decay,
			Normalization:       sp.Normalize,
			ActivityThreshold:   sp.ActivityThreshold,
			ActiveCellThreshold: sp.ActiveCellThreshold,
			HistorySize:         sp.HistorySize,
			Placement:           Placement{Policy: "gaussian", Seed: 1, Sigma: spatial.DefaultSigma},
		},
		Buffer: Buffer{Capacity: buffer.DefaultCapacity},
		Visualization: Visualization{
			UpdateInterval: 0.5,
			CellSize:       48,
			Listen:         ":8080",
		},
	}
}

// Load reads path over the defaults and validates the result. Keys missing
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("unable to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unable to parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// positive rejects NaN and infinities too; neither converts to a duration.
func positive(seconds float64) bool {
	return seconds > 0 && !math.IsInf(seconds, 1)
}

func (c Config) Validate() error {
	if len(c.Spatial.GridSize) != 2 {
		return invalid("spatial.grid_size needs [rows, cols], got %v", c.Spatial.GridSize)
	}
	if !positive(c.Spatial.BinDuration) {
		return invalid("spatial.bin_duration must be a positive number of seconds, got %v", c.Spatial.BinDuration)
	}
	if mode := strings.ToLower(c.Spatial.BinMode); mode != "" && mode != "time" {
		return invalid("spatial.bin_mode %q is not supported, only time windows are", c.Spatial.BinMode)
	}
	if err := c.SpatialConfig().Validate(); err != nil {
		return fmt.Errorf("%w: spatial: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("%w: spatial.placement: %w", ErrInvalidConfig, err)
	}
	if err := c.ScoringConfig().Validate(); err != nil {
		return fmt.Errorf("%w: scoring: %w", ErrInvalidConfig, err)
	}
	if c.Buffer.Capacity <= 0 {
		return invalid("buffer.capacity must be positive, got %d", c.Buffer.Capacity)
	}
	if !positive(c.Visualization.UpdateInterval) {
		return invalid("visualization.update_interval must be a positive number of seconds, got %v", c.Visualization.UpdateInterval)
	}
	for _, a := range c.Filtering.BSSIDFilter {
		if _, err := link.ParseAddr(a); err != nil {
			return fmt.Errorf("%w: filtering.bssid_filter: %w", ErrInvalidConfig, err)
		}
	}
	if c.Filtering.MinSignal > c.Filtering.MaxSignal {
		return invalid("filtering.min_signal %d is above max_signal %d", c.Filtering.MinSignal, c.Filtering.MaxSignal)
	}
	if c.Capture.ReplaySpeed < 0 {
		return invalid("capture.replay_speed must not be negative, got %v", c.Capture.ReplaySpeed)
	}
	return nil
}

func (c Config) ScoringConfig() scoring.Config {
	return scoring.Config{
		Weights: c.Scoring.Weights,
		Ranges:  c.Scoring.Ranges,
		Enabled: c.Features,
	}
}

func (c Config) SpatialConfig() spatial.Config {
	cfg := spatial.Config{
		Decay:               c.Spatial.DecayFactor,
		Normalize:           c.Spatial.Normalization,
		ActivityThreshold:   c.Spatial.ActivityThreshold,
		ActiveCellThreshold: c.Spatial.ActiveCellThreshold,
		HistorySize:         c.Spatial.HistorySize,
	}
	if len(c.Spatial.GridSize) == 2 {
		cfg.Rows, cfg.Cols = c.Spatial.GridSize[0], c.Spatial.GridSize[1]
	}
	return cfg
}

func (c Config) Policy() (spatial.Policy, error) {
	p := c.Spatial.Placement
	return spatial.NewPolicy(p.Policy, p.Seed, p.Sigma)
}

func (c Config) BinDuration() time.Duration {
	return time.Duration(c.Spatial.BinDuration * float64(time.Second))
}

func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.Visualization.UpdateInterval * float64(time.Second))
}
