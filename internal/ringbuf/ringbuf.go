// Package ringbuf provides a lock-free, single-producer single-consumer
// ring buffer for model.Candle. The feed's websocket read loop is the single
// producer; the subscription's dispatch loop is the single consumer. Pushes
// never block, so a stalled downstream can never stall the socket read.
package ringbuf

import (
	"sync/atomic"

	"trendbotv1/internal/model"
)

// Ring is an SPSC candle ring. Capacity is a power of two so the slot index
// is a single mask operation. The write and read cursors only ever grow;
// their difference is the fill level.
type Ring struct {
	slots []model.Candle
	mask  uint64

	// The cursors live on their own cache lines so the producer and the
	// consumer never invalidate each other's line.
	_     [64]byte
	write atomic.Uint64
	_     [64]byte
	read  atomic.Uint64
	_     [64]byte

	dropped atomic.Uint64
}

// New creates a ring holding at least capacity candles, rounded up to the
// next power of two, minimum 2.
func New(capacity int) *Ring {
	n := 2
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		slots: make([]model.Candle, n),
		mask:  uint64(n - 1),
	}
}

// Push stores c without blocking. A full ring drops the candle, counts the
// overflow, and returns false.
func (r *Ring) Push(c model.Candle) bool {
	w := r.write.Load()
	if w-r.read.Load() == uint64(len(r.slots)) {
		r.dropped.Add(1)
		return false
	}
	r.slots[w&r.mask] = c
	r.write.Store(w + 1)
	return true
}

// Pop removes the oldest candle without blocking. The second return is false
// when the ring is empty.
func (r *Ring) Pop() (model.Candle, bool) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		return model.Candle{}, false
	}
	c := r.slots[rd&r.mask]
	r.read.Store(rd + 1)
	return c, true
}

// Len reports how many candles are buffered.
func (r *Ring) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Cap reports the ring capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Overflow reports how many pushes were dropped against a full ring.
func (r *Ring) Overflow() uint64 {
	return r.dropped.Load()
}
