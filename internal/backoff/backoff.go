// Package backoff implements the spin/yield loop repeated across the ring
// and mpscring CAS retry paths.
package backoff

import "runtime"

// Every controls how many failed spins elapse before yielding the
// goroutine, matching the teacher's goschedEvery constant.
const Every = 64

// Backoff throttles a CAS retry loop: it counts spins and calls
// runtime.Gosched every Every spins so contended loops don't starve the
// scheduler.
type Backoff struct {
	spins uint32
}

// Spin registers one failed attempt and yields periodically.
func (b *Backoff) Spin() {
	b.spins++
	if b.spins%Every == 0 {
		runtime.Gosched()
	}
}

// Reset clears the spin counter, useful when a caller wants to reuse a
// Backoff across independent retry loops.
func (b *Backoff) Reset() {
	b.spins = 0
}
