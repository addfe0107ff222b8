package seed

import "errors"

// ErrInvalidConfig is returned for a non-positive dataset size.
var ErrInvalidConfig = errors.New("invalid seed config")
