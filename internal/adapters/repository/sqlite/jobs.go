package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/attribution/internal/adapters/repository"
	"github.com/okian/attribution/internal/domain/model"
)

const jobColumns = `id, kind, client_id, status, checkpoint, error, created_at, started_at, finished_at, updated_at`

// CreateJob inserts a new processing job.
func (s *Store) CreateJob(ctx context.Context, job model.ProcessingJob) error {
	if job.ID == "" {
		return fmt.Errorf("%w: job id is required", repository.ErrInvalidInput)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	checkpoint, err := json.Marshal(job.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO processing_jobs (`+jobColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.ClientID, string(job.Status), string(checkpoint), job.Error,
		toMillis(job.CreatedAt), nullMillis(job.StartedAt), nullMillis(job.FinishedAt), toMillis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJob stores the status, checkpoint and timestamps of a job.
func (s *Store) UpdateJob(ctx context.Context, job model.ProcessingJob) error {
	return s.updateJob(ctx, s.db, job)
}

// SaveBatch adds the counter deltas of a batch and stores the job checkpoint
// in one transaction.
func (s *Store) SaveBatch(ctx context.Context, job model.ProcessingJob, deltas []model.Counters) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := addCounters(ctx, tx, deltas); err != nil {
		return err
	}
	if err := s.updateJob(ctx, tx, job); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

func (s *Store) updateJob(ctx context.Context, q queryer, job model.ProcessingJob) error {
	checkpoint, err := json.Marshal(job.Checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	res, err := q.ExecContext(ctx, `
UPDATE processing_jobs SET
	status = ?, checkpoint = ?, error = ?, started_at = ?, finished_at = ?, updated_at = ?
WHERE id = ?`,
		string(job.Status), string(checkpoint), job.Error,
		nullMillis(job.StartedAt), nullMillis(job.FinishedAt), toMillis(s.now()), job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: job %s", repository.ErrNotFound, job.ID)
	}
	return nil
}

// GetJob returns one job.
func (s *Store) GetJob(ctx context.Context, jobID string) (model.ProcessingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ProcessingJob{}, fmt.Errorf("%w: job %s", repository.ErrNotFound, jobID)
	}
	if err != nil {
		return model.ProcessingJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs in creation order, optionally restricted to statuses.
func (s *Store) ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// RecordError appends a per-event or per-domain failure to a job's error log.
func (s *Store) RecordError(ctx context.Context, e model.ProcessingError) error {
	if e.JobID == "" {
		return fmt.Errorf("%w: job id is required", repository.ErrInvalidInput)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO processing_errors (job_id, client_id, event_id, domain, stage, message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, e.ClientID, e.EventID, e.Domain, string(e.Stage), e.Message, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record processing error: %w", err)
	}
	return nil
}

// ListErrors returns up to limit errors of a job, oldest first.
func (s *Store) ListErrors(ctx context.Context, jobID string, limit int) ([]model.ProcessingError, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be greater than zero", repository.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, job_id, client_id, event_id, domain, stage, message, created_at
FROM processing_errors WHERE job_id = ? ORDER BY id LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list processing errors: %w", err)
	}
	defer rows.Close()

	var out []model.ProcessingError
	for rows.Next() {
		var (
			e         model.ProcessingError
			stage     string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.ClientID, &e.EventID, &e.Domain, &stage, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan processing error: %w", err)
		}
		e.Stage = model.ErrorStage(stage)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing errors: %w", err)
	}
	return out, nil
}

func scanJob(row rowScanner) (model.ProcessingJob, error) {
	var (
		job                  model.ProcessingJob
		kind, status, cp     string
		createdAt, updatedAt int64
		startedAt, finished  sql.NullInt64
	)
	if err := row.Scan(&job.ID, &kind, &job.ClientID, &status, &cp, &job.Error,
		&createdAt, &startedAt, &finished, &updatedAt); err != nil {
		return model.ProcessingJob{}, err
	}
	k, err := model.ParseJobKind(kind)
	if err != nil {
		return model.ProcessingJob{}, err
	}
	if err := json.Unmarshal([]byte(cp), &job.Checkpoint); err != nil {
		return model.ProcessingJob{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	job.Kind = k
	job.Status = model.JobStatus(status)
	job.CreatedAt = fromMillis(createdAt)
	job.StartedAt = fromNullMillis(startedAt)
	job.FinishedAt = fromNullMillis(finished)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}
