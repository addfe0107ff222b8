package service

import "errors"

var (
	// ErrNotStarted is returned when a job is triggered before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrQueueFull is returned when the job runner cannot take another job.
	ErrQueueFull = errors.New("job queue full")
	// ErrJobInFlight is returned by RunJob when the same work is already queued or running.
	ErrJobInFlight = errors.New("job already in flight")
	// ErrInvalidInput marks a caller error such as an unusable domain.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnhealthy is returned by Health when a backend does not answer.
	ErrUnhealthy = errors.New("unhealthy")
)
