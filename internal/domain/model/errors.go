package model

import "errors"

// Sentinel error kinds for parsing values at the storage and API boundaries.
var (
	ErrUnknownStatus       = errors.New("unknown attribution status")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrUnknownMatchType    = errors.New("unknown match type")
	ErrUnknownBillingCycle = errors.New("unknown billing cycle")
	ErrUnknownJobKind      = errors.New("unknown job kind")
)
