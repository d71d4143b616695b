// Package buffer holds observations between capture and feature extraction.
package buffer

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/metrics"
)

const (
	// DefaultCapacity matches the packet history kept by the capture layer.
	DefaultCapacity = 10000

	dropLogInterval = 1000
)

// Buffer is a bounded, time-ordered queue of observations. Capture sources
// push concurrently; the pipeline drains one time window at a time. When
// the buffer is full the oldest observation is dropped so the newest
// traffic is always kept.
type Buffer struct {
	mu    sync.Mutex
	ring  []link.Observation
	head  int // index of the oldest observation
	count int

	dropped uint64
	stale   uint64
}

func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{ring: make([]link.Observation, capacity)}, nil
}

// Push appends o and reports whether an older observation had to be dropped.
func (b *Buffer) Push(o link.Observation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	overflow := b.count == len(b.ring)
	if overflow {
		b.ring[b.head] = o
		b.head = (b.head + 1) % len(b.ring)
		b.dropped++
		metrics.ObservationsDropped.WithLabelValues("overflow").Inc()
		if b.dropped == 1 || b.dropped%dropLogInterval == 0 {
			glog.Warningf("observation buffer full (capacity %d): %d observations dropped so far\n", len(b.ring), b.dropped)
		}
	} else {
		b.ring[(b.head+b.count)%len(b.ring)] = o
		b.count++
	}
	metrics.BufferDepth.Set(float64(b.count))
	return overflow
}

// Fill pushes everything received on observations until the channel is closed.
func (b *Buffer) Fill(source string, observations <-chan link.Observation) {
	received := metrics.ObservationsReceived.WithLabelValues(source)
	for o := range observations {
		b.Push(o)
		received.Inc()
	}
}

// Drain removes and returns, ordered by timestamp, every observation in
// [start, end). It never blocks waiting for data: an empty window yields an
// empty batch. Observations older than start missed their window and are
// discarded; observations at or after end stay for a later drain. A zero
// start means no lower bound.
func (b *Buffer) Drain(start, end time.Time) []link.Observation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var batch []link.Observation
	kept := 0
	stale := 0
	for i := 0; i < b.count; i++ {
		o := b.ring[(b.head+i)%len(b.ring)]
		switch {
		case !o.Timestamp.Before(end):
			// Compact in place; kept never overtakes i.
			b.ring[(b.head+kept)%len(b.ring)] = o
			kept++
		case !start.IsZero() && o.Timestamp.Before(start):
			stale++
		default:
			batch = append(batch, o)
		}
	}
	for i := kept; i < b.count; i++ {
		b.ring[(b.head+i)%len(b.ring)] = link.Observation{}
	}
	b.count = kept

	if stale > 0 {
		b.stale += uint64(stale)
		metrics.ObservationsDropped.WithLabelValues("stale").Add(float64(stale))
		glog.V(1).Infof("discarded %d observations older than window start %s", stale, start)
	}
	metrics.BufferDepth.Set(float64(b.count))

	slices.SortStableFunc(batch, func(x, y link.Observation) int {
		return cmp.Compare(x.Timestamp.UnixNano(), y.Timestamp.UnixNano())
	})
	return batch
}

// Len returns the number of buffered observations.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns how many observations were lost to overflow.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Stale returns how many observations arrived after their window was drained.
func (b *Buffer) Stale() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}
