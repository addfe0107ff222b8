// Package service wires the attribution engine: it owns the job runner and
// exposes the operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	eventqueue "github.com/okian/attribution/internal/adapters/mq/queue"
	workerpool "github.com/okian/attribution/internal/adapters/mq/worker"
	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/dedupe"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/internal/domain/normalize"
	"github.com/okian/attribution/internal/domain/sendindex"
	"github.com/okian/attribution/pkg/logger"
)

// Source is the read side of the external CRM store.
type Source interface {
	sendindex.Source
	ListClients(ctx context.Context) ([]model.Client, error)
	CountIntegrations(ctx context.Context, clientID string) (int, error)
	CountConversionEvents(ctx context.Context, clientID string, afterID int64) (int64, error)
	ListConversionEvents(ctx context.Context, clientID string, afterID int64, limit int) ([]model.ConversionEvent, error)
	CreateIndexes(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Defaults are applied to clients without a stored configuration.
type Defaults struct {
	AttributionWindowDays int
	ReviewWindowDays      int
	BillingCycle          model.BillingCycle
}

// Service implements the engine operations.
type Service struct {
	mu sync.RWMutex

	store  repository.Store
	source Source
	norm   *normalize.Normalizer
	index  *sendindex.Builder

	deduper    dedupe.Deduper
	jobQueue   *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Configuration
	queueSize   int
	batchSize   int
	defaults    Defaults
	indexOpts   []sendindex.Option
	now         repository.Clock
	runCancel   context.CancelFunc
	stopTimeout time.Duration

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets how many jobs may wait for the runner.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithBatchSize sets how many conversion events are processed per checkpoint.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithDefaults sets the configuration used for clients that have none stored.
func WithDefaults(d Defaults) Option {
	return func(s *Service) {
		if d.AttributionWindowDays > 0 {
			s.defaults.AttributionWindowDays = d.AttributionWindowDays
		}
		if d.ReviewWindowDays > 0 {
			s.defaults.ReviewWindowDays = d.ReviewWindowDays
		}
		if d.BillingCycle != "" {
			s.defaults.BillingCycle = d.BillingCycle
		}
	}
}

// WithIndexOptions passes options to the send index builder.
func WithIndexOptions(opts ...sendindex.Option) Option {
	return func(s *Service) {
		s.indexOpts = append(s.indexOpts, opts...)
	}
}

// WithClock overrides the wall clock.
func WithClock(clock repository.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service around the engine store and the CRM source.
func New(store repository.Store, source Source, norm *normalize.Normalizer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		source:    source,
		norm:      norm,
		queueSize: 64,
		batchSize: 500,
		defaults: Defaults{
			AttributionWindowDays: 31,
			ReviewWindowDays:      7,
			BillingCycle:          model.CycleMonthly,
		},
		now:         repository.SystemClock,
		stopTimeout: 30 * time.Second,
		deduper:     dedupe.NewInMemoryDeduper(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.norm == nil {
		s.norm = normalize.New()
	}
	if s.logger == nil {
		s.logger = logger.Named("engine")
	}
	s.index = sendindex.New(source, s.indexOpts...)
	return s
}

// Start launches the job runner and re-enqueues jobs a previous process
// left PENDING or RUNNING.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info(ctx, "starting attribution service...")
	s.jobQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(1, s.jobQueue, workerpool.HandlerFunc(s.handle))

	// Jobs outlive the request that triggered them.
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.workerPool.Start(runCtx)
	s.started = true
	s.mu.Unlock()

	resumed, err := s.resume(ctx)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	s.logger.Info(ctx, "attribution service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("batchSize", s.batchSize),
		logger.Int("resumedJobs", resumed),
	)
	return nil
}

// Stop closes the job queue and waits for the running job. A job cut off
// by the timeout stays RUNNING and is resumed on the next start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping attribution service...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "job runner did not stop in time", logger.Error(err))
	}
	s.runCancel()

	s.started = false
	s.logger.Info(ctx, "attribution service stopped")
}

// Started reports whether the job runner is accepting jobs.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Health is the result of a health check.
type Health struct {
	Store       string `json:"store"`
	Source      string `json:"source"`
	Runner      string `json:"runner"`
	QueueLength int    `json:"queue_length"`
	InFlight    int64  `json:"in_flight"`
}

// Health pings both stores. The returned error is non-nil when either is down.
func (s *Service) Health(ctx context.Context) (Health, error) {
	h := Health{Store: "ok", Source: "ok", Runner: "stopped", InFlight: s.deduper.Size()}

	s.mu.RLock()
	if s.started {
		h.Runner = "running"
		h.QueueLength = s.jobQueue.Len(ctx)
	}
	s.mu.RUnlock()

	var firstErr error
	if err := s.store.Ping(ctx); err != nil {
		h.Store = err.Error()
		firstErr = fmt.Errorf("%w: store: %w", ErrUnhealthy, err)
	}
	if err := s.source.Ping(ctx); err != nil {
		h.Source = err.Error()
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: source: %w", ErrUnhealthy, err)
		}
	}
	return h, firstErr
}
