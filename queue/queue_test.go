package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fastrand"
)

func TestQueueSequentialFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		q.Enqueue(i)
	}
	for i := 0; i < 1000; i++ {
		v, ok := q.TryDequeue()
		if !ok || v != i {
			t.Fatalf("dequeue %d = %d,%v", i, v, ok)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueStopIdempotent(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Stop()
	}
	if _, err := q.DequeueBlocking(); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestQueueDequeueBlockingCancelledByStop(t *testing.T) {
	q := New[int]()
	done := make(chan error, 1)
	go func() {
		_, err := q.DequeueBlocking()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case err := <-done:
		if err != ErrStopped {
			t.Fatalf("expected ErrStopped, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("DequeueBlocking did not return within a bounded time after Stop")
	}
}

func TestQueueDequeueBlockingWakesOnEnqueue(t *testing.T) {
	q := New[int]()
	result := make(chan int, 1)
	go func() {
		v, err := q.DequeueBlocking()
		if err != nil {
			result <- -1
			return
		}
		result <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(7)

	select {
	case v := <-result:
		if v != 7 {
			t.Fatalf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("DequeueBlocking never woke up")
	}
}

func TestQueueDequeueForTimesOut(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.DequeueFor(50 * time.Millisecond)
	elapsed := time.Since(start)
	if ok {
		t.Fatalf("expected timeout")
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("DequeueFor exceeded its bound: %v", elapsed)
	}
}

// S3: 4 producers x 10,000 distinct integers each; 4 consumers; after join,
// union of dequeued equals union of enqueued, |result| = 40,000.
func TestQueueScenarioS3Stress(t *testing.T) {
	const (
		producers   = 4
		perProducer = 10_000
		consumers   = 4
		total       = producers * perProducer
	)

	q := New[int]()
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(base + i)
				if fastrand.Uint32n(16) == 0 {
					runtime.Gosched()
				}
			}
		}(p * perProducer)
	}

	seen := make([]int32, total)
	var got atomic.Int64
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.TryDequeue()
				if !ok {
					if got.Load() >= int64(total) {
						return
					}
					runtime.Gosched()
					continue
				}
				atomic.AddInt32(&seen[v], 1)
				if got.Add(1) >= int64(total) {
					return
				}
			}
		}()
	}

	wg.Wait()
	cwg.Wait()

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("value %d seen %d times, want 1", i, n)
		}
	}
}

func TestQueueSizeApprox(t *testing.T) {
	q := New[int]()
	if q.Size() != 0 {
		t.Fatalf("expected empty queue size 0, got %d", q.Size())
	}
	q.Enqueue(1)
	q.Enqueue(2)
	if q.Size() != 2 {
		t.Fatalf("expected size 2, got %d", q.Size())
	}
	q.TryDequeue()
	if q.Size() != 1 {
		t.Fatalf("expected size 1, got %d", q.Size())
	}
}
