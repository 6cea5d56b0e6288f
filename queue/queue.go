// Package queue implements an unbounded, lock-free, multi-producer
// multi-consumer queue using the Michael-Scott two-pointer algorithm, with
// blocking and timed dequeues layered on a condition variable and detached
// nodes reclaimed through package ebr.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/gocq/ebr"
	"github.com/aradilov/gocq/internal/cpu"
)

type node[T any] struct {
	val  T
	next atomic.Pointer[node[T]]
}

// Queue is an unbounded MPMC FIFO queue. The zero value is not usable;
// create one with New.
type Queue[T any] struct {
	_    cpu.CacheLinePad
	head atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
	tail atomic.Pointer[node[T]]
	_    cpu.CacheLinePad

	size    atomic.Int64
	stopped atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond

	reclaimer *ebr.Reclaimer
}

// New creates an empty queue with a permanent sentinel node.
func New[T any]() *Queue[T] {
	sentinel := &node[T]{}
	q := &Queue[T]{reclaimer: ebr.New()}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends v to the queue. It never fails.
func (q *Queue[T]) Enqueue(v T) {
	n := &node[T]{val: v}
	for {
		last := q.tail.Load()
		next := last.next.Load()
		if last != q.tail.Load() {
			continue
		}
		if next == nil {
			if last.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(last, n)
				q.size.Add(1)
				// Signal under the mutex so a consumer between its
				// emptiness check and Wait cannot miss the wakeup.
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return
			}
		} else {
			q.tail.CompareAndSwap(last, next)
		}
	}
}

// TryDequeue removes and returns the oldest value. It returns false if the
// queue is empty.
func (q *Queue[T]) TryDequeue() (T, bool) {
	var zero T

	g := q.reclaimer.Guard()
	defer g.Close()

	for {
		first := q.head.Load()
		last := q.tail.Load()
		next := first.next.Load()

		if first != q.head.Load() {
			continue
		}
		if next == nil {
			return zero, false
		}
		if first == last {
			q.tail.CompareAndSwap(last, next)
			continue
		}

		if q.head.CompareAndSwap(first, next) {
			v := next.val
			var vzero T
			next.val = vzero
			q.size.Add(-1)
			// Go has no manual free; the deferred action's real job is to
			// drop first's forward reference once no guard can still be
			// walking it, so the detached node becomes collectible instead
			// of being kept alive by a stale reader's in-flight traversal.
			g.Retire(first, func() { first.next.Store(nil) })
			return v, true
		}
	}
}

// DequeueBlocking blocks until a value is available or the queue is
// stopped, in which case it returns ErrStopped.
func (q *Queue[T]) DequeueBlocking() (T, error) {
	for {
		if v, ok := q.TryDequeue(); ok {
			return v, nil
		}
		q.mu.Lock()
		for !q.stopped.Load() && q.empty() {
			q.cond.Wait()
		}
		stopped := q.stopped.Load()
		q.mu.Unlock()
		if stopped {
			if v, ok := q.TryDequeue(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrStopped
		}
	}
}

// DequeueFor blocks until a value is available, the deadline elapses, or
// the queue is stopped. It returns false on timeout or stop.
func (q *Queue[T]) DequeueFor(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if v, ok := q.TryDequeue(); ok {
			return v, true
		}
		if q.stopped.Load() {
			var zero T
			return zero, false
		}

		timer := time.AfterFunc(time.Until(deadline), func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})

		q.mu.Lock()
		for !q.stopped.Load() && q.empty() && time.Now().Before(deadline) {
			q.cond.Wait()
		}
		timedOut := !q.stopped.Load() && q.empty() && !time.Now().Before(deadline)
		q.mu.Unlock()
		timer.Stop()

		if timedOut {
			var zero T
			return zero, false
		}
	}
}

// Stop wakes every blocked dequeue, causing them to observe stop and
// return failure. Enqueue remains legal after Stop but its data is only
// drained if a consumer keeps calling TryDequeue. Stop is idempotent.
func (q *Queue[T]) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Size returns an approximate element count. It is informational only —
// callers must not rely on it for correctness.
func (q *Queue[T]) Size() int64 {
	if n := q.size.Load(); n > 0 {
		return n
	}
	return 0
}

func (q *Queue[T]) empty() bool {
	return q.head.Load().next.Load() == nil
}

// Close tears the queue down by walking and freeing every remaining node
// directly, bypassing the reclaimer: by the time Close is called there must
// be no concurrent readers left, so the grace-period machinery is
// unnecessary overhead.
func (q *Queue[T]) Close() {
	q.Stop()
	n := q.head.Load()
	for n != nil {
		next := n.next.Load()
		n.next.Store(nil)
		n = next
	}
}
