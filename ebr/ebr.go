// Package ebr implements a three-epoch reclamation scheme: objects retired
// while a reader might still hold a reference to them are not destroyed
// until every reader that could have observed them has moved on.
package ebr

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type retiredEntry struct {
	ptr  any
	free func()
}

// participant is the per-guard bookkeeping record. Go has no stable
// thread-local storage, so participants are recycled through a sync.Pool
// rather than cached once per OS thread; the global participant list they
// are linked into only ever grows, matching the original scheme's ownership
// rule that participants are freed only when the reclaimer itself is.
type participant struct {
	id         uuid.UUID
	localEpoch atomic.Uint64
	active     atomic.Bool
	mu         sync.Mutex
	retired    [3][]retiredEntry
	retiredCnt uint64 // total ever retired by this participant, guarded by mu
	probe      uint32 // touched only while a guard owns this participant
	next       atomic.Pointer[participant]
}

// ID returns a stable diagnostic identifier for the participant currently
// backing this guard.
func (g Guard) ID() uuid.UUID { return g.p.id }

// Reclaimer owns the global epoch, the participant list, and the tunables
// controlling how aggressively it advances and reclaims.
type Reclaimer struct {
	globalEpoch atomic.Uint64
	head        atomic.Pointer[participant]

	baseBatch          atomic.Uint64
	retireBatch        atomic.Uint64
	probeStride        atomic.Uint32
	globalRetiredCount atomic.Uint64

	pool sync.Pool
}

// New creates a Reclaimer with the original scheme's default tunables.
func New() *Reclaimer {
	r := &Reclaimer{}
	r.baseBatch.Store(32)
	r.retireBatch.Store(32)
	r.probeStride.Store(256)
	return r
}

// Guard marks the calling goroutine as reading at the current epoch until
// Close is called. Callers should defer g.Close().
type Guard struct {
	r *Reclaimer
	p *participant
}

// Guard begins a guarded region. Retire objects observed only after Guard
// is entered; Close before the corresponding critical section is truly
// done is undefined per the usual EBR contract.
func (r *Reclaimer) Guard() Guard {
	var p *participant
	if v := r.pool.Get(); v != nil {
		p = v.(*participant)
	} else {
		p = r.link(&participant{id: uuid.New()})
	}
	p.active.Store(true)
	p.localEpoch.Store(r.globalEpoch.Load())
	return Guard{r: r, p: p}
}

func (r *Reclaimer) link(p *participant) *participant {
	for {
		head := r.head.Load()
		p.next.Store(head)
		if r.head.CompareAndSwap(head, p) {
			return p
		}
	}
}

// Close ends the guarded region and attempts an epoch advance and
// reclamation pass before returning the participant to the pool.
func (g Guard) Close() {
	g.p.active.Store(false)
	g.r.maybeAdvanceAndReclaim(g.p)
	g.r.pool.Put(g.p)
}

// Retire defers destruction of ptr until every reader that might still
// observe it has left its guarded region. free is invoked exactly once,
// from whichever goroutine happens to perform the reclamation pass that
// clears this entry's bucket.
func (g Guard) Retire(ptr any, free func()) {
	r := g.r
	p := g.p
	b := r.globalEpoch.Load() % 3

	p.mu.Lock()
	p.retired[b] = append(p.retired[b], retiredEntry{ptr: ptr, free: free})
	p.retiredCnt++
	p.mu.Unlock()

	r.globalRetiredCount.Add(1)
	p.probe++
	r.maybeAdvanceAndReclaim(p)
}

// QuiescentPoint lets a goroutine outside any guard declare that it holds
// no epoch-protected references right now, prompting an immediate advance
// and reclamation attempt.
func (r *Reclaimer) QuiescentPoint() {
	cur := r.globalEpoch.Load()
	if r.canAdvance(cur) {
		r.globalEpoch.CompareAndSwap(cur, cur+1)
	}
	r.reclaimSafeBuckets()
}

func (r *Reclaimer) maybeAdvanceAndReclaim(p *participant) {
	threshold := r.baseBatch.Load() * uint64(max(1, r.activeParticipantCount()))

	p.mu.Lock()
	retiredTotal := p.retiredCnt
	p.mu.Unlock()

	triggered := retiredTotal >= threshold
	if !triggered {
		triggered = r.consumeGlobalIfAtLeast(threshold)
	}
	if !triggered {
		if p.probe >= r.probeStride.Load() {
			p.probe = 0
			triggered = true
		}
	}
	if !triggered {
		return
	}

	cur := r.globalEpoch.Load()
	if r.canAdvance(cur) {
		r.globalEpoch.CompareAndSwap(cur, cur+1)
	}
	r.reclaimSafeBuckets()
}

func (r *Reclaimer) consumeGlobalIfAtLeast(threshold uint64) bool {
	v := r.globalRetiredCount.Load()
	if v < threshold {
		return false
	}
	return r.globalRetiredCount.CompareAndSwap(v, 0)
}

// canAdvance reports whether every active participant has seen at least
// epoch cur, meaning no reader can still be looking at data retired before
// cur-1.
func (r *Reclaimer) canAdvance(cur uint64) bool {
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		if p.active.Load() && p.localEpoch.Load() < cur {
			return false
		}
	}
	return true
}

// reclaimSafeBuckets frees every entry retired two epochs behind the
// current global epoch — the bucket no active reader can still reference.
func (r *Reclaimer) reclaimSafeBuckets() {
	idx := (r.globalEpoch.Load() + 1) % 3
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		p.mu.Lock()
		entries := p.retired[idx]
		p.retired[idx] = nil
		p.mu.Unlock()
		for _, e := range entries {
			e.free()
		}
	}
}

// Drain forces every retired object through reclamation. It is meant for
// shutdown paths where the owner of the Reclaimer knows no further guards
// will be entered.
func (r *Reclaimer) Drain() {
	for i := 0; i < 4; i++ {
		r.globalEpoch.Add(1)
		r.reclaimSafeBuckets()
	}
	r.reclaimSafeBuckets()
	r.globalRetiredCount.Store(0)
}

// ForceReclaimAllUnsafe empties every bucket of every participant without
// regard to epoch safety. The caller must guarantee no concurrent guard or
// retire is in flight.
func (r *Reclaimer) ForceReclaimAllUnsafe() {
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		p.mu.Lock()
		var buckets [3][]retiredEntry
		copy(buckets[:], p.retired[:])
		p.retired = [3][]retiredEntry{}
		p.mu.Unlock()
		for _, bucket := range buckets {
			for _, e := range bucket {
				e.free()
			}
		}
	}
}

func (r *Reclaimer) activeParticipantCount() int {
	n := 0
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		if p.active.Load() {
			n++
		}
	}
	return n
}

// ActiveParticipants returns the number of guards currently open.
func (r *Reclaimer) ActiveParticipants() int { return r.activeParticipantCount() }

// PendingRetired returns the number of retired entries not yet reclaimed,
// across every participant and bucket. It is a diagnostic snapshot only.
func (r *Reclaimer) PendingRetired() int {
	n := 0
	for p := r.head.Load(); p != nil; p = p.next.Load() {
		p.mu.Lock()
		for _, bucket := range p.retired {
			n += len(bucket)
		}
		p.mu.Unlock()
	}
	return n
}

// SetBaseBatch adjusts the base retirement batch size used to compute the
// advance-and-reclaim threshold.
func (r *Reclaimer) SetBaseBatch(n uint64) { r.baseBatch.Store(n) }

// BaseBatch returns the current base batch size.
func (r *Reclaimer) BaseBatch() uint64 { return r.baseBatch.Load() }

// SetRetireBatch adjusts the cached retire-batch tunable.
func (r *Reclaimer) SetRetireBatch(n uint64) { r.retireBatch.Store(n) }

// RetireBatch returns the current retire-batch tunable.
func (r *Reclaimer) RetireBatch() uint64 { return r.retireBatch.Load() }

// SetProbeStride adjusts how many retirements between probe-triggered
// advance attempts. A value below 1 is clamped to 1.
func (r *Reclaimer) SetProbeStride(n uint32) {
	if n < 1 {
		n = 1
	}
	r.probeStride.Store(n)
}

// ProbeStride returns the current probe stride.
func (r *Reclaimer) ProbeStride() uint32 { return r.probeStride.Load() }
