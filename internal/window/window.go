// Package window accumulates decoded sample vectors into fixed-duration
// per-channel analysis windows. It is the handoff point between the
// real-time decode loop and the (slower) analysis cycle, so it keeps a
// bounded ring per channel and drops the oldest samples under pressure.
package window

import (
	"sync"

	"github.com/cortical-data/affinity.report/internal/cyton"
)

// Accumulator is a fixed-capacity ring buffer over sample vectors,
// addressed channel-first on the way out. Push and Snapshot may be
// called from different goroutines.
type Accumulator struct {
	channels int
	capacity int

	// ring is indexed [channel][slot]; all channels share head/count
	// because a vector always carries every channel.
	ring  [][]float64
	head  int
	count int

	skipped uint64 // vectors rejected for a channel-count mismatch

	mu sync.Mutex
}

// New returns an accumulator for the given channel count holding at most
// capacity samples per channel.
func New(channels, capacity int) *Accumulator {
	ring := make([][]float64, channels)
	for i := range ring {
		ring[i] = make([]float64, capacity)
	}
	return &Accumulator{
		channels: channels,
		capacity: capacity,
		ring:     ring,
	}
}

// Push appends one sample vector, evicting the oldest sample when full.
// Vectors whose channel count does not match the accumulator are counted
// and dropped; a mid-stream board reconfiguration is not something the
// window can absorb.
func (a *Accumulator) Push(v cyton.SampleVector) {
	if len(v.Channels) != a.channels {
		a.mu.Lock()
		a.skipped++
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	slot := (a.head + a.count) % a.capacity
	if a.count == a.capacity {
		// full: overwrite the oldest slot and advance
		slot = a.head
		a.head = (a.head + 1) % a.capacity
	} else {
		a.count++
	}
	for ch := 0; ch < a.channels; ch++ {
		a.ring[ch][slot] = v.Channels[ch]
	}
}

// Len reports how many samples are currently buffered per channel.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Full reports whether the accumulator holds a complete window.
func (a *Accumulator) Full() bool {
	return a.Len() == a.capacity
}

// Skipped reports how many vectors were rejected for shape mismatch.
func (a *Accumulator) Skipped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.skipped
}

// Snapshot copies the buffered samples out in arrival order, one slice
// per channel. The result is independent of the ring and safe to hand to
// the analyzer while pushes continue.
func (a *Accumulator) Snapshot() [][]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]float64, a.channels)
	for ch := 0; ch < a.channels; ch++ {
		seq := make([]float64, a.count)
		for i := 0; i < a.count; i++ {
			seq[i] = a.ring[ch][(a.head+i)%a.capacity]
		}
		out[ch] = seq
	}
	return out
}

// Reset discards all buffered samples.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = 0
	a.count = 0
}
