package queue

import "errors"

// ErrQueueFull is returned by callers when a request could not be enqueued.
var ErrQueueFull = errors.New("job queue full")
