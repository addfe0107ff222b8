package normalize

import "errors"

// ErrSuffixFile is returned when a suffix override file cannot be used.
var ErrSuffixFile = errors.New("invalid suffix file")
