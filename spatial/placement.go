package spatial

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
)

const (
	DefaultSigma           = 2.0
	DefaultNeighbourWeight = 0.5
)

// Placement is the energy a cycle adds to one cell.
type Placement struct {
	Row    int
	Col    int
	Weight float64
}

// Policy decides where a cycle's score lands on the grid. There is no real
// localization behind it: a policy only spreads one scalar into a visually
// localized event. Place must be a pure function of its arguments so runs
// can be reproduced from the seed.
type Policy interface {
	Place(score float64, cycle uint64, rows, cols int) []Placement
}

// Gaussian puts the peak on a cell drawn from a PCG stream keyed by seed and
// cycle, and lets the energy fall off with a Gaussian of width Sigma cells,
// cut off at three sigma.
type Gaussian struct {
	Seed  uint64
	Sigma float64
}

func (g Gaussian) Place(score float64, cycle uint64, rows, cols int) []Placement {
	if score <= 0 || rows <= 0 || cols <= 0 {
		return nil
	}
	sigma := g.Sigma
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	rng := rand.New(rand.NewPCG(g.Seed, cycle))
	peakRow, peakCol := rng.IntN(rows), rng.IntN(cols)

	radius := int(math.Ceil(3 * sigma))
	var out []Placement
	for r := max(0, peakRow-radius); r <= min(rows-1, peakRow+radius); r++ {
		for c := max(0, peakCol-radius); c <= min(cols-1, peakCol+radius); c++ {
			dr, dc := float64(r-peakRow), float64(c-peakCol)
			d2 := dr*dr + dc*dc
			if d2 > float64(radius*radius) {
				continue
			}
			out = append(out, Placement{Row: r, Col: c, Weight: score * math.Exp(-d2/(2*sigma*sigma))})
		}
	}
	return out
}

// RoundRobin walks the peak through the cells in row-major order, starting
// Seed cells in, and gives the four direct neighbours NeighbourWeight of the
// peak energy.
type RoundRobin struct {
	Seed            uint64
	NeighbourWeight float64
}

func (rr RoundRobin) Place(score float64, cycle uint64, rows, cols int) []Placement {
	if score <= 0 || rows <= 0 || cols <= 0 {
		return nil
	}
	nw := rr.NeighbourWeight
	if nw <= 0 {
		nw = DefaultNeighbourWeight
	}
	idx := (rr.Seed + cycle) % uint64(rows*cols)
	peakRow, peakCol := int(idx)/cols, int(idx)%cols

	out := []Placement{{Row: peakRow, Col: peakCol, Weight: score}}
	for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		r, c := peakRow+d[0], peakCol+d[1]
		if r < 0 || r >= rows || c < 0 || c >= cols {
			continue
		}
		out = append(out, Placement{Row: r, Col: c, Weight: score * nw})
	}
	return out
}

// NewPolicy builds a policy by name: "gaussian" or "round_robin".
func NewPolicy(name string, seed uint64, sigma float64) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "gaussian":
		return Gaussian{Seed: seed, Sigma: sigma}, nil
	case "round_robin", "roundrobin":
		return RoundRobin{Seed: seed}, nil
	default:
		return nil, fmt.Errorf("%q is not a supported placement policy, pick one of: gaussian, round_robin", name)
	}
}
