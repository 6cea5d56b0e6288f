package ring

import "errors"

var (
	// ErrCapacityOverflow is returned by New when the requested capacity
	// would overflow once rounded up to a power of two.
	ErrCapacityOverflow = errors.New("ring: capacity overflow")

	// ErrStopped is returned by the blocking variants once Stop has been
	// called and no further progress is possible.
	ErrStopped = errors.New("ring: queue stopped")
)
