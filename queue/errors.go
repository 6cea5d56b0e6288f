package queue

import "errors"

// ErrStopped is returned by DequeueBlocking once Stop has been called and
// no further values are available.
var ErrStopped = errors.New("queue: stopped")
