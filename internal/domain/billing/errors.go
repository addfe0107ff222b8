package billing

import "errors"

var (
	// ErrNoContractStart is returned when a client has no contract start date.
	ErrNoContractStart = errors.New("contract start date not set")
	// ErrNoPeriods is returned when the contract has not started yet.
	ErrNoPeriods = errors.New("no billing period has started")
)
