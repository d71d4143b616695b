// Package publish hands grid snapshots from the accumulator to consumers.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hb9tf/wifiradar/metrics"
)

// Stats summarises the grid and the cycle that produced it.
type Stats struct {
	Cycle        uint64  `json:"cycle"`
	Score        float64 `json:"score"`
	Packets      int     `json:"packets"`
	TotalPackets uint64  `json:"totalPackets"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	ActiveCells  int     `json:"activeCells"`
	// History is the number of per-cycle scores the accumulator retains.
	History int `json:"history"`
}

// Snapshot is an immutable copy of the grid taken after one accumulation
// cycle. All cells come from the same cycle.
type Snapshot struct {
	RunID string
	Taken time.Time
	Rows  int
	Cols  int
	Stats

	cells []float64
}

// NewSnapshot copies cells, which must hold rows*cols values in row-major order.
func NewSnapshot(runID string, taken time.Time, rows, cols int, cells []float64, st Stats) Snapshot {
	c := make([]float64, len(cells))
	copy(c, cells)
	return Snapshot{RunID: runID, Taken: taken, Rows: rows, Cols: cols, Stats: st, cells: c}
}

// At returns the energy of the cell at row r, column c.
func (s Snapshot) At(r, c int) float64 {
	return s.cells[r*s.Cols+c]
}

// Cells returns a copy of all cells in row-major order.
func (s Snapshot) Cells() []float64 {
	c := make([]float64, len(s.cells))
	copy(c, s.cells)
	return c
}

// Hottest returns the position of the largest cell, preferring the first
// in row-major order on ties.
func (s Snapshot) Hottest() (row, col int) {
	best := 0
	for i, v := range s.cells {
		if v > s.cells[best] {
			best = i
		}
	}
	if s.Cols == 0 {
		return 0, 0
	}
	return best / s.Cols, best % s.Cols
}

type snapshotJSON struct {
	RunID string      `json:"runId"`
	Taken time.Time   `json:"taken"`
	Rows  int         `json:"rows"`
	Cols  int         `json:"cols"`
	Stats Stats       `json:"stats"`
	Grid  [][]float64 `json:"grid"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	grid := make([][]float64, s.Rows)
	for r := range grid {
		grid[r] = s.cells[r*s.Cols : (r+1)*s.Cols]
	}
	return json.Marshal(snapshotJSON{RunID: s.RunID, Taken: s.Taken, Rows: s.Rows, Cols: s.Cols, Stats: s.Stats, Grid: grid})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var v snapshotJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.Grid) != v.Rows {
		return fmt.Errorf("snapshot has %d grid rows, want %d", len(v.Grid), v.Rows)
	}
	cells := make([]float64, 0, v.Rows*v.Cols)
	for r, row := range v.Grid {
		if len(row) != v.Cols {
			return fmt.Errorf("snapshot row %d has %d cells, want %d", r, len(row), v.Cols)
		}
		cells = append(cells, row...)
	}
	*s = Snapshot{RunID: v.RunID, Taken: v.Taken, Rows: v.Rows, Cols: v.Cols, Stats: v.Stats, cells: cells}
	return nil
}

// Publisher keeps the latest snapshot and fans every new one out to
// subscribers without ever blocking the accumulator. A subscriber that
// falls behind loses its oldest pending snapshot.
type Publisher struct {
	runID  string
	latest atomic.Pointer[Snapshot]

	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

func NewPublisher(runID string) *Publisher {
	return &Publisher{runID: runID, subs: map[int]chan Snapshot{}}
}

func (p *Publisher) RunID() string {
	return p.runID
}

// Publish copies the grid into a new snapshot, makes it the latest one and
// offers it to every subscriber.
func (p *Publisher) Publish(rows, cols int, cells []float64, st Stats) Snapshot {
	snap := NewSnapshot(p.runID, time.Now(), rows, cols, cells, st)
	p.latest.Store(&snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		offer(ch, snap)
	}
	return snap
}

func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
		metrics.SnapshotsSkipped.Inc()
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Latest returns the most recent snapshot, if any was published.
func (p *Publisher) Latest() (Snapshot, bool) {
	s := p.latest.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Subscribe returns a channel receiving every future snapshot, holding at
// most size pending ones, and a function that ends the subscription.
func (p *Publisher) Subscribe(size int) (<-chan Snapshot, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan Snapshot, size)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. The latest snapshot stays readable.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
