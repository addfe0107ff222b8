package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/okian/attribution/internal/adapters/mq/queue"
	"github.com/okian/attribution/internal/domain/dedupe"
	"github.com/okian/attribution/internal/domain/model"
	"github.com/okian/attribution/pkg/logger"
	"github.com/okian/attribution/pkg/metrics"
)

// SyncClients triggers a SYNC_CLIENTS job and returns its id.
func (s *Service) SyncClients(ctx context.Context) (string, error) {
	return s.trigger(ctx, model.JobSyncClients, "")
}

// ProcessClient triggers a PROCESS_CLIENT job and returns its id.
func (s *Service) ProcessClient(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: client id is required", ErrInvalidInput)
	}
	return s.trigger(ctx, model.JobProcessClient, clientID)
}

// ProcessAll triggers a PROCESS_ALL job and returns its id.
func (s *Service) ProcessAll(ctx context.Context) (string, error) {
	return s.trigger(ctx, model.JobProcessAll, "")
}

// CreateIndex triggers a CREATE_INDEX job and returns its id.
func (s *Service) CreateIndex(ctx context.Context) (string, error) {
	return s.trigger(ctx, model.JobCreateIndex, "")
}

// GetJob returns a job with its current checkpoint.
func (s *Service) GetJob(ctx context.Context, jobID string) (model.ProcessingJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// ListJobErrors returns per-item failures logged against a job.
func (s *Service) ListJobErrors(ctx context.Context, jobID string, limit int) ([]model.ProcessingError, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListErrors(ctx, jobID, limit)
}

// RunJob creates a job and executes it in the calling goroutine. The CLI
// uses it so a command returns once the work is done.
func (s *Service) RunJob(ctx context.Context, kind model.JobKind, clientID string) (model.ProcessingJob, error) {
	key := claimKey(kind, clientID)
	jobID := uuid.NewString()
	if owner, claimed := s.deduper.Claim(ctx, key, jobID); !claimed {
		return model.ProcessingJob{}, fmt.Errorf("%w: %s", ErrJobInFlight, owner)
	}
	if err := s.createJob(ctx, jobID, kind, clientID); err != nil {
		s.deduper.Release(ctx, key, jobID)
		return model.ProcessingJob{}, err
	}
	runErr := s.handle(ctx, eventqueue.JobRequest{JobID: jobID, Kind: kind, ClientID: clientID})
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return model.ProcessingJob{}, err
	}
	return job, runErr
}

func claimKey(kind model.JobKind, clientID string) string {
	switch kind {
	case model.JobProcessClient:
		return dedupe.ProcessClientKey(clientID)
	case model.JobProcessAll:
		return dedupe.KeyProcessAll
	case model.JobSyncClients:
		return dedupe.KeySyncClients
	}
	return dedupe.KeyCreateIndex
}

// trigger persists a PENDING job and hands it to the runner. A second
// trigger for work that is still queued or running returns the first job.
func (s *Service) trigger(ctx context.Context, kind model.JobKind, clientID string) (string, error) {
	if !s.Started() {
		return "", ErrNotStarted
	}
	key := claimKey(kind, clientID)
	jobID := uuid.NewString()
	owner, claimed := s.deduper.Claim(ctx, key, jobID)
	if !claimed {
		s.logger.Debug(ctx, "job already in flight",
			logger.String("kind", string(kind)),
			logger.String("job_id", owner),
		)
		return owner, nil
	}

	if err := s.createJob(ctx, jobID, kind, clientID); err != nil {
		s.deduper.Release(ctx, key, jobID)
		return "", err
	}
	if !s.jobQueue.Enqueue(ctx, eventqueue.JobRequest{JobID: jobID, Kind: kind, ClientID: clientID}) {
		s.deduper.Release(ctx, key, jobID)
		s.failUnqueued(ctx, jobID)
		return "", ErrQueueFull
	}
	s.logger.Info(ctx, "job queued",
		logger.String("job_id", jobID),
		logger.String("kind", string(kind)),
		logger.String("client_id", clientID),
	)
	return jobID, nil
}

func (s *Service) createJob(ctx context.Context, jobID string, kind model.JobKind, clientID string) error {
	now := s.now()
	job := model.ProcessingJob{
		ID:        jobID,
		Kind:      kind,
		ClientID:  clientID,
		Status:    model.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *Service) failUnqueued(ctx context.Context, jobID string) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	now := s.now()
	job.Status = model.JobFailed
	job.Error = ErrQueueFull.Error()
	job.FinishedAt = &now
	job.UpdatedAt = now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error(ctx, "failed to mark unqueued job", logger.String("job_id", jobID), logger.Error(err))
	}
}

// resume re-enqueues unfinished jobs in creation order.
func (s *Service) resume(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, model.JobPending, model.JobRunning)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		key := claimKey(job.Kind, job.ClientID)
		if owner, claimed := s.deduper.Claim(ctx, key, job.ID); !claimed && owner != job.ID {
			s.logger.Warn(ctx, "skipping resumed job, work already claimed",
				logger.String("job_id", job.ID),
				logger.String("owner", owner),
			)
			continue
		}
		if !s.jobQueue.Enqueue(ctx, eventqueue.JobRequest{JobID: job.ID, Kind: job.Kind, ClientID: job.ClientID}) {
			// Left PENDING/RUNNING in the store; the next start picks it up.
			s.deduper.Release(ctx, key, job.ID)
			s.logger.Warn(ctx, "job queue full, not resuming", logger.String("job_id", job.ID))
			continue
		}
		s.logger.Info(ctx, "resuming job",
			logger.String("job_id", job.ID),
			logger.String("kind", string(job.Kind)),
			logger.Int64("last_processed_event_id", job.Checkpoint.LastProcessedEventID),
		)
		n++
	}
	return n, nil
}

// handle executes one job and records its terminal state.
func (s *Service) handle(ctx context.Context, r eventqueue.JobRequest) error {
	defer s.deduper.Release(ctx, claimKey(r.Kind, r.ClientID), r.JobID)

	job, err := s.store.GetJob(ctx, r.JobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", r.JobID, err)
	}
	if job.Status.Terminal() {
		return nil
	}

	start := time.Now()
	now := s.now()
	job.Status = model.JobRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}

	log := s.logger.Named("job-runner")
	log.Info(ctx, "job started",
		logger.String("job_id", job.ID),
		logger.String("kind", string(job.Kind)),
		logger.String("client_id", job.ClientID),
	)

	runErr := s.run(ctx, &job)
	if runErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the job; it stays RUNNING and resumes on the next start.
		log.Warn(context.WithoutCancel(ctx), "job interrupted", logger.String("job_id", job.ID), logger.Error(runErr))
		return runErr
	}

	end := s.now()
	job.FinishedAt = &end
	job.UpdatedAt = end
	job.Status = model.JobCompleted
	if runErr != nil {
		job.Status = model.JobFailed
		job.Error = runErr.Error()
		metrics.RecordErrorByComponent("job", string(job.Kind))
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return errors.Join(runErr, fmt.Errorf("finish job %s: %w", job.ID, err))
	}
	metrics.RecordJobFinished(string(job.Kind), string(job.Status), time.Since(start).Seconds())

	if runErr != nil {
		log.Error(ctx, "job failed", logger.String("job_id", job.ID), logger.Error(runErr))
		return runErr
	}
	log.Info(ctx, "job completed",
		logger.String("job_id", job.ID),
		logger.Int64("processed", job.Checkpoint.Processed),
		logger.Int64("errors", job.Checkpoint.ErrorCount),
		logger.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (s *Service) run(ctx context.Context, job *model.ProcessingJob) error {
	switch job.Kind {
	case model.JobProcessClient:
		return s.processClient(ctx, job, job.ClientID)
	case model.JobProcessAll:
		return s.processAll(ctx, job)
	case model.JobSyncClients:
		return s.syncClients(ctx, job)
	case model.JobCreateIndex:
		return s.createIndexes(ctx, job)
	}
	return fmt.Errorf("%w: %q", model.ErrUnknownJobKind, job.Kind)
}

// syncClients creates a default configuration for every active source
// client that has none. Processed counts clients seen, ClientsDone the
// configurations created.
func (s *Service) syncClients(ctx context.Context, job *model.ProcessingJob) error {
	clients, err := s.source.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("list clients: %w", err)
	}
	job.Checkpoint = model.Checkpoint{TotalEvents: int64(len(clients))}
	for _, c := range clients {
		cfg := s.defaultConfig(c.ID)
		cfg.Name = c.Name
		created, err := s.store.EnsureClientConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("ensure config for %s: %w", c.ID, err)
		}
		job.Checkpoint.Processed++
		if created {
			job.Checkpoint.ClientsDone++
			integrations, err := s.source.CountIntegrations(ctx, c.ID)
			if err != nil {
				return fmt.Errorf("count integrations for %s: %w", c.ID, err)
			}
			s.logger.Info(ctx, "client config created",
				logger.String("client_id", c.ID),
				logger.Int("integrations", integrations),
			)
		}
	}
	return nil
}

// createIndexes creates the source-store indexes used by send lookups.
func (s *Service) createIndexes(ctx context.Context, job *model.ProcessingJob) error {
	names, err := s.source.CreateIndexes(ctx)
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	job.Checkpoint.Processed = int64(len(names))
	for _, n := range names {
		s.logger.Debug(ctx, "index ensured", logger.String("index", n))
	}
	return nil
}
