// Package spatial owns the disturbance grid. Each cycle it decays the grid,
// spreads the cycle's score over it through a placement policy, and
// optionally rescales it so the hottest cell is 1.0.
package spatial

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hb9tf/wifiradar/publish"
)

// minCellEnergy is the level below which a decayed cell is reset to zero.
const minCellEnergy = 1e-9

type Config struct {
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`
	// Decay multiplies every cell before new energy is placed. 1 keeps
	// energy forever.
	Decay     float64 `yaml:"decay_factor" json:"decay_factor"`
	Normalize bool    `yaml:"normalization" json:"normalization"`
	// ActivityThreshold is the score a cycle must exceed to place energy.
	ActivityThreshold float64 `yaml:"activity_threshold" json:"activity_threshold"`
	// ActiveCellThreshold is the energy above which a cell counts as active.
	ActiveCellThreshold float64 `yaml:"active_cell_threshold" json:"active_cell_threshold"`
	// HistorySize bounds the number of per-cycle scores kept.
	HistorySize int `yaml:"history_size" json:"history_size"`
}

func DefaultConfig() Config {
	return Config{
		Rows:                10,
		Cols:                10,
		Decay:               0.95,
		Normalize:           true,
		ActivityThreshold:   0.1,
		ActiveCellThreshold: 0.1,
		HistorySize:         1000,
	}
}

func (c Config) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("grid size must be positive, got %dx%d", c.Rows, c.Cols)
	}
	if math.IsNaN(c.Decay) || c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("decay factor must be in (0,1], got %v", c.Decay)
	}
	if math.IsNaN(c.ActivityThreshold) || c.ActivityThreshold < 0 || c.ActivityThreshold >= 1 {
		return fmt.Errorf("activity threshold must be in [0,1), got %v", c.ActivityThreshold)
	}
	if math.IsNaN(c.ActiveCellThreshold) || c.ActiveCellThreshold < 0 {
		return fmt.Errorf("active cell threshold must not be negative, got %v", c.ActiveCellThreshold)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("history size must not be negative, got %d", c.HistorySize)
	}
	return nil
}

// Sink receives the grid at the end of every cycle, while the accumulator
// still holds its lock, and must copy what it keeps.
type Sink interface {
	Publish(rows, cols int, cells []float64, st publish.Stats) publish.Snapshot
}

type State int

const (
	// Idle means no cycle has run since creation or the last Reset.
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// Accumulator is the single owner of the grid. Every mutation and every
// copy happens under its mutex, so a snapshot never mixes two cycles.
type Accumulator struct {
	mu     sync.Mutex
	cfg    Config
	policy Policy
	sink   Sink

	cells        []float64
	state        State
	cycle        uint64
	totalPackets uint64
	history      []float64
	last         publish.Stats
}

func New(cfg Config, policy Policy, sink Sink) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, fmt.Errorf("placement policy is required")
	}
	return &Accumulator{
		cfg:    cfg,
		policy: policy,
		sink:   sink,
		cells:  make([]float64, cfg.Rows*cfg.Cols),
	}, nil
}

// Cycle runs one decay, place and normalize step for score, which is
// clamped to [0,1], and publishes the result as one atomic unit.
func (a *Accumulator) Cycle(score float64, packets int) publish.Snapshot {
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(1, score))

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = Accumulating
	a.cycle++
	if packets > 0 {
		a.totalPackets += uint64(packets)
	}
	a.record(score)

	a.decay()
	if score > a.cfg.ActivityThreshold {
		a.place(a.policy.Place(score, a.cycle, a.cfg.Rows, a.cfg.Cols))
	}
	if a.cfg.Normalize {
		a.normalize()
	}

	a.last = a.stats(score, packets)
	if a.sink == nil {
		return publish.NewSnapshot("", time.Now(), a.cfg.Rows, a.cfg.Cols, a.cells, a.last)
	}
	return a.sink.Publish(a.cfg.Rows, a.cfg.Cols, a.cells, a.last)
}

func (a *Accumulator) record(score float64) {
	if a.cfg.HistorySize == 0 {
		return
	}
	a.history = append(a.history, score)
	if over := len(a.history) - a.cfg.HistorySize; over > 0 {
		a.history = append(a.history[:0], a.history[over:]...)
	}
}

func (a *Accumulator) decay() {
	if a.cfg.Decay == 1 {
		return
	}
	for i, v := range a.cells {
		v *= a.cfg.Decay
		if v < minCellEnergy {
			v = 0
		}
		a.cells[i] = v
	}
}

func (a *Accumulator) place(placements []Placement) {
	for _, p := range placements {
		if p.Row < 0 || p.Row >= a.cfg.Rows || p.Col < 0 || p.Col >= a.cfg.Cols {
			continue
		}
		if math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) || p.Weight <= 0 {
			continue
		}
		a.cells[p.Row*a.cfg.Cols+p.Col] += p.Weight
	}
}

func (a *Accumulator) normalize() {
	peak := 0.0
	for _, v := range a.cells {
		peak = math.Max(peak, v)
	}
	if peak == 0 {
		return
	}
	for i := range a.cells {
		a.cells[i] /= peak
	}
}

func (a *Accumulator) stats(score float64, packets int) publish.Stats {
	st := publish.Stats{
		Cycle:        a.cycle,
		Score:        score,
		Packets:      packets,
		TotalPackets: a.totalPackets,
		History:      len(a.history),
	}
	var sum float64
	for _, v := range a.cells {
		sum += v
		st.Max = math.Max(st.Max, v)
		if v > a.cfg.ActiveCellThreshold {
			st.ActiveCells++
		}
	}
	st.Mean = sum / float64(len(a.cells))
	return st
}

// Snapshot copies the grid as left by the last cycle without publishing it.
func (a *Accumulator) Snapshot() publish.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	runID := ""
	if r, ok := a.sink.(interface{ RunID() string }); ok {
		runID = r.RunID()
	}
	return publish.NewSnapshot(runID, time.Now(), a.cfg.Rows, a.cfg.Cols, a.cells, a.last)
}

// Reset clears the grid, counters and history and returns to Idle.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.cells)
	a.history = nil
	a.cycle = 0
	a.totalPackets = 0
	a.last = publish.Stats{}
	a.state = Idle
}

func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns the retained per-cycle scores, oldest first.
func (a *Accumulator) History() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.history))
	copy(out, a.history)
	return out
}

func (a *Accumulator) Config() Config {
	return a.cfg
}
