package sendindex

import "errors"

// ErrSourceUnavailable is returned when a chunk lookup failed after all retries.
var ErrSourceUnavailable = errors.New("send history source unavailable")
