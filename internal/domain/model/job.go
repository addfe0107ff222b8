package model

import (
	"fmt"
	"strings"
	"time"
)

// JobKind is the operation a processing job performs.
type JobKind string

const (
	JobProcessClient JobKind = "PROCESS_CLIENT"
	JobProcessAll    JobKind = "PROCESS_ALL"
	JobSyncClients   JobKind = "SYNC_CLIENTS"
	JobCreateIndex   JobKind = "CREATE_INDEX"
)

// ParseJobKind reads a stored job kind.
func ParseJobKind(raw string) (JobKind, error) {
	switch k := JobKind(strings.ToUpper(strings.TrimSpace(raw))); k {
	case JobProcessClient, JobProcessAll, JobSyncClients, JobCreateIndex:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJobKind, raw)
}

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether the job will not change again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Checkpoint is the resumable progress of a job.
type Checkpoint struct {
	TotalEvents          int64 `json:"total_events"`
	Processed            int64 `json:"processed"`
	MatchedHard          int64 `json:"matched_hard"`
	MatchedSoft          int64 `json:"matched_soft"`
	OutsideWindow        int64 `json:"outside_window"`
	NoMatch              int64 `json:"no_match"`
	ErrorCount           int64 `json:"error_count"`
	BatchNumber          int   `json:"batch_number"`
	LastProcessedEventID int64 `json:"last_processed_event_id"`
	// CurrentClientID is the client LastProcessedEventID belongs to.
	CurrentClientID string `json:"current_client_id,omitempty"`
	// LastCompletedClientID is the last client an all-clients run finished.
	LastCompletedClientID string `json:"last_completed_client_id,omitempty"`
	ClientsDone           int    `json:"clients_done"`
}

// ProcessingJob is one pollable batch run.
type ProcessingJob struct {
	ID         string
	Kind       JobKind
	ClientID   string // empty for all-client jobs
	Status     JobStatus
	Checkpoint Checkpoint
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
}

// ErrorStage names the step where a per-item failure occurred.
type ErrorStage string

const (
	StageEvent  ErrorStage = "event"
	StageDomain ErrorStage = "domain"
)

// ProcessingError is a per-event or per-domain failure logged against a job.
type ProcessingError struct {
	ID        int64
	JobID     string
	ClientID  string
	EventID   int64 // zero for domain writes
	Domain    string
	Stage     ErrorStage
	Message   string
	CreatedAt time.Time
}
