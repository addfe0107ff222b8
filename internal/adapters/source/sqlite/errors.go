package sqlite

import "errors"

// Sentinel kinds for source store errors.
var (
	ErrInvalidDSN   = errors.New("invalid source dsn")
	ErrInvalidInput = errors.New("invalid source input")
)
