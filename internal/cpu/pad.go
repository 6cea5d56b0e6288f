// Package cpu holds tiny layout helpers shared by the lock-free packages.
package cpu

// CacheLinePad is dropped between hot atomic fields to keep independently
// updated counters (e.g. an enqueue cursor and a dequeue cursor) on separate
// cache lines and avoid false sharing between producers and consumers.
type CacheLinePad [64]byte
