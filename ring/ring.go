// Package ring implements a bounded, lock-free, multi-producer
// multi-consumer queue over a power-of-two array of cells, following Dmitry
// Vyukov's sequence-number protocol, with blocking and timed variants layered
// on top via a pair of condition variables.
package ring

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/gocq/internal/backoff"
	"github.com/aradilov/gocq/internal/cpu"
)

// cell is a single ring slot. seq synchronizes ownership between producers
// and consumers without a mutex: seq == pos means the cell is writable by an
// enqueuer claiming pos; seq == pos+1 means it holds a value readable by a
// dequeuer claiming pos; seq == pos+capacity means it has been drained and is
// writable again once the cursor wraps back to pos+capacity.
type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a fixed-capacity MPMC queue. The zero value is not usable; create
// one with New.
type Ring[T any] struct {
	mask     uint64
	capacity uint64
	slots    []cell[T]

	_      cpu.CacheLinePad
	enqPos atomic.Uint64
	_      cpu.CacheLinePad
	deqPos atomic.Uint64
	_      cpu.CacheLinePad

	stopped atomic.Bool
	active  atomic.Int64

	notFullMu    sync.Mutex
	notFullCond  *sync.Cond
	notEmptyMu   sync.Mutex
	notEmptyCond *sync.Cond
}

// New creates a bounded MPMC ring queue. capacity is rounded up to the next
// power of two no smaller than 2; a capacity that would overflow returns
// ErrCapacityOverflow.
func New[T any](capacity uint64) (*Ring[T], error) {
	cap2, err := roundUpToPowerOfTwo(capacity)
	if err != nil {
		return nil, err
	}

	slots := make([]cell[T], cap2)
	for i := uint64(0); i < cap2; i++ {
		slots[i].seq.Store(i)
	}

	r := &Ring[T]{
		mask:     cap2 - 1,
		capacity: cap2,
		slots:    slots,
	}
	r.notFullCond = sync.NewCond(&r.notFullMu)
	r.notEmptyCond = sync.NewCond(&r.notEmptyMu)
	return r, nil
}

func roundUpToPowerOfTwo(n uint64) (uint64, error) {
	if n < 2 {
		return 2, nil
	}
	if n > (1<<63)+1 {
		return 0, ErrCapacityOverflow
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	if n == 0 {
		return 0, ErrCapacityOverflow
	}
	return n, nil
}

// Capacity returns the fixed queue capacity (already rounded to a power of
// two).
func (r *Ring[T]) Capacity() uint64 { return r.capacity }

// SizeApprox returns an approximate element count. It is informational only
// — callers must not rely on it for correctness.
func (r *Ring[T]) SizeApprox() uint64 {
	enq := r.enqPos.Load()
	deq := r.deqPos.Load()
	if enq > deq {
		return enq - deq
	}
	return 0
}

// TryEnqueue attempts a lock-free enqueue. It returns false if the ring is
// full or has been stopped.
func (r *Ring[T]) TryEnqueue(v T) bool {
	if r.stopped.Load() {
		return false
	}
	var bo backoff.Backoff
	pos := r.enqPos.Load()
	for {
		if r.stopped.Load() {
			return false
		}
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if r.enqPos.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				r.signalNotEmpty()
				return true
			}
			bo.Spin()
		case diff < 0:
			return false
		default:
			pos = r.enqPos.Load()
			bo.Spin()
		}
	}
}

// TryDequeue attempts a lock-free dequeue. It returns the zero value and
// false if the ring is empty or has been stopped.
func (r *Ring[T]) TryDequeue() (T, bool) {
	return r.tryDequeue(false)
}

// DrainAfterStop attempts a lock-free dequeue without the early-return-on-
// stop gate TryDequeue applies, so a shutting-down consumer can still pull
// values a producer published before Stop was called. It reports false only
// once the ring is genuinely empty.
func (r *Ring[T]) DrainAfterStop() (T, bool) {
	return r.tryDequeue(true)
}

func (r *Ring[T]) tryDequeue(ignoreStop bool) (T, bool) {
	var zero T
	if !ignoreStop && r.stopped.Load() {
		return zero, false
	}
	var bo backoff.Backoff
	pos := r.deqPos.Load()
	for {
		if !ignoreStop && r.stopped.Load() {
			return zero, false
		}
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if r.deqPos.CompareAndSwap(pos, pos+1) {
				v := s.val
				s.val = zero
				s.seq.Store(pos + r.capacity)
				r.signalNotFull()
				return v, true
			}
			bo.Spin()
		case diff < 0:
			return zero, false
		default:
			pos = r.deqPos.Load()
			bo.Spin()
		}
	}
}

// signalNotEmpty and signalNotFull wake one blocked waiter, if any. They
// acquire the matching condition's mutex around the signal so a waiter that
// has just evaluated its predicate but not yet called Wait cannot miss the
// wakeup: it will either already be inside Wait when the signal arrives, or
// still be holding the mutex ahead of the signal and see the updated state
// on its own next predicate check. This closes the lost-wakeup window that
// exists when a lock-free TryEnqueue/TryDequeue caller (e.g. a batch-drain
// loop that never calls the blocking variants) changes queue occupancy
// without going through the blocking API at all.
func (r *Ring[T]) signalNotEmpty() {
	r.notEmptyMu.Lock()
	r.notEmptyCond.Signal()
	r.notEmptyMu.Unlock()
}

func (r *Ring[T]) signalNotFull() {
	r.notFullMu.Lock()
	r.notFullCond.Signal()
	r.notFullMu.Unlock()
}

// EnqueueBlocking blocks until the value is enqueued or the ring is
// stopped, in which case it returns ErrStopped.
func (r *Ring[T]) EnqueueBlocking(v T) error {
	r.enter()
	defer r.exit()

	for {
		if r.TryEnqueue(v) {
			return nil
		}
		r.notFullMu.Lock()
		for !r.stopped.Load() && r.isFull() {
			r.notFullCond.Wait()
		}
		stopped := r.stopped.Load()
		r.notFullMu.Unlock()
		if stopped {
			return ErrStopped
		}
	}
}

// EnqueueFor blocks until the value is enqueued, the deadline elapses, or
// the ring is stopped. It returns false on timeout or stop.
func (r *Ring[T]) EnqueueFor(v T, timeout time.Duration) bool {
	r.enter()
	defer r.exit()

	deadline := time.Now().Add(timeout)
	for {
		if r.TryEnqueue(v) {
			return true
		}
		if r.stopped.Load() {
			return false
		}
		if !r.waitWithDeadline(&r.notFullMu, r.notFullCond, deadline, r.isFull) {
			return false
		}
		if r.stopped.Load() {
			return false
		}
	}
}

// DequeueBlocking blocks until a value is dequeued or the ring is stopped,
// in which case it returns ErrStopped.
func (r *Ring[T]) DequeueBlocking() (T, error) {
	r.enter()
	defer r.exit()

	for {
		if v, ok := r.TryDequeue(); ok {
			return v, nil
		}
		r.notEmptyMu.Lock()
		for !r.stopped.Load() && r.isEmpty() {
			r.notEmptyCond.Wait()
		}
		stopped := r.stopped.Load()
		r.notEmptyMu.Unlock()
		if stopped {
			var zero T
			return zero, ErrStopped
		}
	}
}

// DequeueFor blocks until a value is dequeued, the deadline elapses, or the
// ring is stopped. It returns false on timeout or stop.
func (r *Ring[T]) DequeueFor(timeout time.Duration) (T, bool) {
	r.enter()
	defer r.exit()

	deadline := time.Now().Add(timeout)
	for {
		if v, ok := r.TryDequeue(); ok {
			return v, true
		}
		if r.stopped.Load() {
			var zero T
			return zero, false
		}
		if !r.waitWithDeadline(&r.notEmptyMu, r.notEmptyCond, deadline, r.isEmpty) {
			var zero T
			return zero, false
		}
		if r.stopped.Load() {
			var zero T
			return zero, false
		}
	}
}

// Stop wakes every blocked producer and consumer, causing them to observe
// stop and return failure. Stop is idempotent.
func (r *Ring[T]) Stop() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.notFullMu.Lock()
	r.notFullCond.Broadcast()
	r.notFullMu.Unlock()
	r.notEmptyMu.Lock()
	r.notEmptyCond.Broadcast()
	r.notEmptyMu.Unlock()
}

// Close stops the ring, waits, bounded by one second, for any blocking
// callers still inside EnqueueBlocking/EnqueueFor/DequeueBlocking/DequeueFor
// to observe the stop and return, then drains the values left in the ring.
// It is safe to call once.
func (r *Ring[T]) Close() {
	r.Stop()
	deadline := time.Now().Add(time.Second)
	for r.active.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for {
		if _, ok := r.tryDequeue(true); !ok {
			return
		}
	}
}

func (r *Ring[T]) enter() { r.active.Add(1) }
func (r *Ring[T]) exit()  { r.active.Add(-1) }

func (r *Ring[T]) isFull() bool  { return r.SizeApprox() >= r.capacity }
func (r *Ring[T]) isEmpty() bool { return r.SizeApprox() == 0 }

// waitWithDeadline parks on cond until pred() no longer holds, the ring
// stops, or deadline passes, since sync.Cond has no native timed wait. A
// timer wakes the waiter at the deadline so it can re-check and give up.
// It reports false only when the deadline was reached with pred() still
// true and the ring not stopped.
func (r *Ring[T]) waitWithDeadline(mu *sync.Mutex, cond *sync.Cond, deadline time.Time, pred func() bool) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		mu.Lock()
		cond.Broadcast()
		mu.Unlock()
	})
	defer timer.Stop()

	mu.Lock()
	defer mu.Unlock()
	for !r.stopped.Load() && pred() && time.Now().Before(deadline) {
		cond.Wait()
	}
	if r.stopped.Load() || !pred() {
		return true
	}
	return false
}
