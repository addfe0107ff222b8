// Package dedupe tracks in-flight processing jobs so that a second trigger
// for the same work returns the job already queued or running.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/attribution/pkg/metrics"
)

// Deduper records which job currently owns a unit of work.
type Deduper interface {
	// Claim atomically records jobID as the owner of key if key is free.
	// It returns the owning job ID and whether this call claimed it.
	Claim(ctx context.Context, key, jobID string) (owner string, claimed bool)

	// Release frees key if jobID still owns it.
	Release(ctx context.Context, key, jobID string)

	// Owner returns the job currently holding key.
	Owner(ctx context.Context, key string) (string, bool)

	Size() int64
}

// Keys for the units of work a job can claim.
const (
	KeyProcessAll  = "process:*"
	KeySyncClients = "sync-clients"
	KeyCreateIndex = "create-index"
)

// ProcessClientKey returns the claim key for processing one client.
func ProcessClientKey(clientID string) string { return "process:" + clientID }

type inMemoryDeduper struct {
	mu       sync.Mutex
	owners   map[string]string
	size     atomic.Int64
	maxSize  int
	onChange func(n int)
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		owners:   make(map[string]string),
		onChange: metrics.UpdateJobsInFlight,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, key, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.owners[key]; ok {
		return owner, false
	}
	if d.maxSize > 0 && len(d.owners) >= d.maxSize {
		return "", false
	}
	d.owners[key] = jobID
	d.size.Store(int64(len(d.owners)))
	d.onChange(len(d.owners))
	return jobID, true
}

func (d *inMemoryDeduper) Release(_ context.Context, key, jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.owners[key]; !ok || owner != jobID {
		return
	}
	delete(d.owners, key)
	d.size.Store(int64(len(d.owners)))
	d.onChange(len(d.owners))
}

func (d *inMemoryDeduper) Owner(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.owners[key]
	return owner, ok
}

// Size returns the number of claimed keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
