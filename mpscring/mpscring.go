// Package mpscring is a single-consumer specialization of the bounded ring
// in package ring: the consumer side needs no CAS since only one goroutine
// ever calls Dequeue, matching the teacher's MPSC alongside its MPMC.
package mpscring

import (
	"sync/atomic"

	"github.com/aradilov/gocq/internal/backoff"
	"github.com/aradilov/gocq/internal/cpu"
)

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a bounded multi-producer, single-consumer queue. Dequeue must
// only ever be called from one goroutine at a time; Enqueue may be called
// concurrently from any number of goroutines.
type Ring[T any] struct {
	mask     uint64
	capacity uint64
	slots    []cell[T]

	_      cpu.CacheLinePad
	enqPos atomic.Uint64
	_      cpu.CacheLinePad
	deqPos uint64
	_      cpu.CacheLinePad
}

// New creates a new bounded ring. capacity must be a power of two.
func New[T any](capacity uint64) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("mpscring: capacity must be power of 2 and > 0")
	}

	slots := make([]cell[T], capacity)
	for i := uint64(0); i < capacity; i++ {
		slots[i].seq.Store(i)
	}

	return &Ring[T]{
		mask:     capacity - 1,
		capacity: capacity,
		slots:    slots,
	}
}

// Enqueue pushes an element into the queue. Returns false if the queue is
// full. Safe to call concurrently from many producer goroutines.
func (q *Ring[T]) Enqueue(v T) bool {
	var bo backoff.Backoff
	for {
		pos := q.enqPos.Load()
		s := &q.slots[pos&q.mask]

		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
			bo.Spin()
		case diff < 0:
			return false
		default:
			bo.Spin()
		}
	}
}

// Dequeue pops an element from the queue. Returns (zero, false) if the
// queue is empty. Must be called from a single consumer goroutine.
func (q *Ring[T]) Dequeue() (T, bool) {
	var zero T
	pos := q.deqPos
	s := &q.slots[pos&q.mask]

	seq := s.seq.Load()
	diff := int64(seq) - int64(pos+1)

	if diff == 0 {
		q.deqPos = pos + 1
		v := s.val
		s.val = zero
		s.seq.Store(pos + q.capacity)
		return v, true
	}

	return zero, false
}

// Capacity returns the fixed queue capacity.
func (q *Ring[T]) Capacity() uint64 { return q.capacity }
