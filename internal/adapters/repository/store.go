// Package repository defines the engine store interface and errors.
package repository

import (
	"context"
	"time"

	"github.com/okian/attribution/internal/domain/model"
)

// DomainMutation receives a copy of the stored domain (nil when none exists)
// and returns the row to store plus the timeline entries to append. A nil
// row leaves the store untouched.
type DomainMutation func(current *model.AttributedDomain) (*model.AttributedDomain, []model.DomainEvent, error)

// TimelineMutation is a DomainMutation that also receives the stored
// timeline of the domain, read in the same transaction (nil when the domain
// does not exist yet).
type TimelineMutation func(current *model.AttributedDomain, timeline []model.DomainEvent) (*model.AttributedDomain, []model.DomainEvent, error)

// DomainFilter narrows ListDomains.
type DomainFilter struct {
	Statuses []model.Status
	Limit    int // zero means no limit
	Offset   int
}

// Store provides read/write access to the engine's own state.
type Store interface {
	// GetClientConfig returns ErrNotFound if the client has no configuration.
	GetClientConfig(ctx context.Context, clientID string) (model.ClientConfig, error)
	ListClientConfigs(ctx context.Context) ([]model.ClientConfig, error)
	// PutClientConfig creates or replaces a client configuration.
	PutClientConfig(ctx context.Context, cfg model.ClientConfig) error
	// EnsureClientConfig inserts cfg unless the client already has one.
	// Returns true when a row was created.
	EnsureClientConfig(ctx context.Context, cfg model.ClientConfig) (bool, error)

	ResetCounters(ctx context.Context, clientID string) error
	AddCounters(ctx context.Context, deltas []model.Counters) error
	GetCounters(ctx context.Context, clientID string) ([]model.Counters, error)

	// MutateDomain runs fn inside one write transaction so concurrent
	// automatic and manual writers never overwrite each other.
	MutateDomain(ctx context.Context, clientID, domain string, fn DomainMutation) (*model.AttributedDomain, error)
	// MutateDomainWithTimeline is MutateDomain for writers that recompute
	// from the domain's full history.
	MutateDomainWithTimeline(ctx context.Context, clientID, domain string, fn TimelineMutation) (*model.AttributedDomain, error)
	// GetDomain returns ErrNotFound if the domain has no record.
	GetDomain(ctx context.Context, clientID, domain string) (*model.AttributedDomain, error)
	ListDomains(ctx context.Context, clientID string, filter DomainFilter) ([]*model.AttributedDomain, error)
	// ListDomainEvents returns the timeline of a domain ordered by event time.
	ListDomainEvents(ctx context.Context, domainID string) ([]model.DomainEvent, error)

	CreateJob(ctx context.Context, job model.ProcessingJob) error
	UpdateJob(ctx context.Context, job model.ProcessingJob) error
	// SaveBatch adds the counter deltas of a batch and stores the job in one
	// transaction.
	SaveBatch(ctx context.Context, job model.ProcessingJob, deltas []model.Counters) error
	// GetJob returns ErrNotFound if the job is unknown.
	GetJob(ctx context.Context, jobID string) (model.ProcessingJob, error)
	// ListJobs returns jobs in creation order, optionally restricted to statuses.
	ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.ProcessingJob, error)
	RecordError(ctx context.Context, e model.ProcessingError) error
	ListErrors(ctx context.Context, jobID string, limit int) ([]model.ProcessingError, error)

	Ping(ctx context.Context) error
	Close() error
}

// Clock returns the current time. Stores and services take one so tests can pin it.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }
