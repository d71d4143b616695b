package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/wifiradar/link"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64, signal int) link.Observation {
	return link.Observation{
		Timestamp: epoch.Add(time.Duration(sec * float64(time.Second))),
		Signal:    signal,
	}
}

func signals(obs []link.Observation) []int {
	var out []int
	for _, o := range obs {
		out = append(out, o.Signal)
	}
	return out
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-3)
	assert.Error(t, err)
}

func TestDrainWindow(t *testing.T) {
	b, err := New(16)
	require.NoError(t, err)

	b.Push(at(0.5, -1)) // stale for a window starting at 1s
	b.Push(at(1.2, -3))
	b.Push(at(1.1, -2)) // out of order
	b.Push(at(2.0, -4)) // belongs to the next window
	b.Push(at(2.5, -5))

	batch := b.Drain(epoch.Add(time.Second), epoch.Add(2*time.Second))
	assert.Equal(t, []int{-2, -3}, signals(batch))
	assert.Equal(t, uint64(1), b.Stale())
	assert.Equal(t, 2, b.Len())

	batch = b.Drain(epoch.Add(2*time.Second), epoch.Add(3*time.Second))
	assert.Equal(t, []int{-4, -5}, signals(batch))
	assert.Equal(t, 0, b.Len())
}

func TestDrainEmptyWindowDoesNotBlock(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)

	done := make(chan []link.Observation)
	go func() { done <- b.Drain(epoch, epoch.Add(time.Second)) }()
	select {
	case batch := <-done:
		assert.Empty(t, batch)
	case <-time.After(time.Second):
		t.Fatal("Drain blocked on an empty buffer")
	}
}

func TestPushDropsOldestWhenFull(t *testing.T) {
	b, err := New(3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		assert.False(t, b.Push(at(float64(i), -i)))
	}
	assert.True(t, b.Push(at(4, -4)))
	assert.True(t, b.Push(at(5, -5)))

	assert.Equal(t, uint64(2), b.Dropped())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{-3, -4, -5}, signals(b.Drain(time.Time{}, epoch.Add(time.Minute))))
}

func TestDrainKeepsRingConsistentAfterWrap(t *testing.T) {
	b, err := New(4)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		b.Push(at(float64(i), -i))
	}
	// Ring now holds 3,4,5,6 with head in the middle of the slice.
	assert.Equal(t, []int{-3, -4}, signals(b.Drain(time.Time{}, epoch.Add(5*time.Second))))
	b.Push(at(7, -7))
	b.Push(at(8, -8))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, []int{-5, -6, -7, -8}, signals(b.Drain(time.Time{}, epoch.Add(time.Minute))))
}

func TestConcurrentFill(t *testing.T) {
	b, err := New(1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		ch := make(chan link.Observation)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Fill("test", ch)
		}()
		go func() {
			for i := 0; i < 100; i++ {
				ch <- at(1, -50)
			}
			close(ch)
		}()
	}
	wg.Wait()

	assert.Len(t, b.Drain(time.Time{}, epoch.Add(time.Minute)), 400)
	assert.Zero(t, b.Dropped())
}
