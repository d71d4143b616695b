package filter

import (
	"fmt"

	"github.com/hb9tf/wifiradar/link"
)

type Filterer interface {
	ShouldIgnore(*link.Observation) bool
}

// Filter forwards every observation no filterer objects to. It returns when
// input is closed.
func Filter(input <-chan link.Observation, output chan<- link.Observation, filters []Filterer) error {
	for o := range input {
		if Ignored(&o, filters) {
			continue
		}
		output <- o
	}
	return nil
}

// Ignored reports whether any of the filters rejects o.
func Ignored(o *link.Observation, filters []Filterer) bool {
	for _, f := range filters {
		if f.ShouldIgnore(o) {
			return true
		}
	}
	return false
}

// FilterOrigin keeps observations from a fixed set of transmitters (BSSIDs).
// An empty set lets everything through.
type FilterOrigin struct {
	allowed map[link.Addr]struct{}
}

func NewFilterOrigin(addrs []string) (*FilterOrigin, error) {
	f := &FilterOrigin{allowed: map[link.Addr]struct{}{}}
	for _, s := range addrs {
		a, err := link.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid origin filter %q: %w", s, err)
		}
		f.allowed[a] = struct{}{}
	}
	return f, nil
}

func (f *FilterOrigin) ShouldIgnore(o *link.Observation) bool {
	if len(f.allowed) == 0 {
		return false
	}
	_, ok := f.allowed[o.Origin]
	return !ok
}

// FilterSignal drops readings outside a plausible dBm range, e.g. the
// zero a driver reports when it has no measurement.
type FilterSignal struct {
	Low  int
	High int
}

func (f *FilterSignal) ShouldIgnore(o *link.Observation) bool {
	return o.Signal < f.Low || o.Signal > f.High
}
