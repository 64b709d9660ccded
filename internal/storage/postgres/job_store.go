package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ficlib/archivist/internal/ingest"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists ingestion jobs in Postgres.
// It assumes table schemas like:
//
//	CREATE TABLE jobs (
//		id TEXT PRIMARY KEY,
//		source_url TEXT NOT NULL,
//		batch_type TEXT NOT NULL,
//		requested_by TEXT NOT NULL DEFAULT '',
//		submitted_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL,
//		status TEXT NOT NULL,
//		result JSONB,
//		error_message TEXT NOT NULL DEFAULT '',
//		validation_reason TEXT NOT NULL DEFAULT '',
//		instant_candidate BOOLEAN NOT NULL DEFAULT FALSE
//	);
//
//	CREATE TABLE job_subscribers (
//		job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
//		user_id TEXT NOT NULL,
//		channel_ref TEXT NOT NULL DEFAULT '',
//		message_ref TEXT NOT NULL DEFAULT ''
//	);
type JobStore struct {
	pool querier
}

// NewJobStore connects a pool and returns a Postgres-backed JobStore.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewJobStoreWithPool(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, source_url, batch_type, requested_by, submitted_at, updated_at,
	status, result, error_message, validation_reason, instant_candidate`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job ingest.Job) error {
	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	query := `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.SourceURL,
		string(job.BatchType),
		job.RequestedBy,
		job.SubmittedAt,
		job.UpdatedAt,
		string(job.Status),
		resultJSON,
		job.ErrorMessage,
		job.ValidationReason,
		job.InstantCandidate,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (ingest.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Job{}, ErrJobNotFound
		}
		return ingest.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// NextPending returns the oldest pending job in submission order.
func (s *JobStore) NextPending(ctx context.Context) (ingest.Job, bool, error) {
	query := `SELECT ` + jobColumns + `
FROM jobs WHERE status = $1 ORDER BY submitted_at ASC LIMIT 1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, string(ingest.StatusPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ingest.Job{}, false, nil
		}
		return ingest.Job{}, false, fmt.Errorf("next pending job: %w", err)
	}
	return job, true, nil
}

// SetStatus transitions a job and bumps updated_at.
func (s *JobStore) SetStatus(ctx context.Context, jobID string, status ingest.Status) error {
	query := `UPDATE jobs SET status = $2, updated_at = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Finalize records a terminal status with its payload.
func (s *JobStore) Finalize(
	ctx context.Context,
	jobID string,
	status ingest.Status,
	result ingest.Result,
	errMsg, validationReason string,
) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	query := `
UPDATE jobs
SET status = $2, result = $3, error_message = $4, validation_reason = $5, updated_at = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		jobID, string(status), resultJSON, errMsg, validationReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// TouchHeartbeat stamps the job's result blob and updated_at without
// disturbing the rest of the result.
func (s *JobStore) TouchHeartbeat(ctx context.Context, jobID string, at time.Time) error {
	query := `
UPDATE jobs
SET result = jsonb_set(COALESCE(result, '{}'::jsonb), '{heartbeat_at}', to_jsonb($2::timestamptz), true),
    updated_at = $2
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, at)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, status ingest.Status) ([]ingest.Job, error) {
	query := `SELECT ` + jobColumns + `
FROM jobs WHERE status = $1 ORDER BY submitted_at ASC`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteJob removes a job; subscribers go with it via the FK cascade.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListStale returns jobs in status whose reference time is before cutoff.
// Pending jobs are measured from submitted_at, everything else from
// updated_at: a pending job that never started has no heartbeat to rely on.
func (s *JobStore) ListStale(ctx context.Context, status ingest.Status, cutoff time.Time) ([]ingest.Job, error) {
	refColumn := "updated_at"
	if status == ingest.StatusPending {
		refColumn = "submitted_at"
	}
	query := fmt.Sprintf(`SELECT %s
FROM jobs WHERE status = $1 AND %s < $2 ORDER BY submitted_at ASC`, jobColumns, refColumn)
	rows, err := s.pool.Query(ctx, query, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// DeleteTerminalBefore garbage-collects delivered completed jobs.
func (s *JobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM jobs WHERE status = ANY($1) AND updated_at < $2`
	statuses := []string{string(ingest.StatusCompleted), string(ingest.StatusSeriesCompleted)}
	tag, err := s.pool.Exec(ctx, query, statuses, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AddSubscriber attaches an interested user to a job.
func (s *JobStore) AddSubscriber(ctx context.Context, sub ingest.Subscriber) error {
	query := `
INSERT INTO job_subscribers (job_id, user_id, channel_ref, message_ref)
VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, query, sub.JobID, sub.UserID, sub.ChannelRef, sub.MessageRef); err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

// ListSubscribers returns the subscribers attached to a job.
func (s *JobStore) ListSubscribers(ctx context.Context, jobID string) ([]ingest.Subscriber, error) {
	query := `SELECT job_id, user_id, channel_ref, message_ref
FROM job_subscribers WHERE job_id = $1`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	var subs []ingest.Subscriber
	for rows.Next() {
		var sub ingest.Subscriber
		if err := rows.Scan(&sub.JobID, &sub.UserID, &sub.ChannelRef, &sub.MessageRef); err != nil {
			return nil, fmt.Errorf("scan subscriber row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriber rows: %w", err)
	}
	return subs, nil
}

// CreateSentinel emits a cooldown sentinel row.
func (s *JobStore) CreateSentinel(ctx context.Context, phase ingest.Status, at time.Time) error {
	query := `
INSERT INTO jobs (id, source_url, batch_type, requested_by, submitted_at, updated_at, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	id := "sentinel-" + uuid.NewString()
	_, err := s.pool.Exec(ctx, query,
		id, "", string(ingest.BatchSystem), "", at, at, string(phase))
	if err != nil {
		return fmt.Errorf("insert sentinel: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (ingest.Job, error) {
	var (
		job        ingest.Job
		batchType  string
		status     string
		resultJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.SourceURL,
		&batchType,
		&job.RequestedBy,
		&job.SubmittedAt,
		&job.UpdatedAt,
		&status,
		&resultJSON,
		&job.ErrorMessage,
		&job.ValidationReason,
		&job.InstantCandidate,
	)
	if err != nil {
		return ingest.Job{}, err
	}
	job.BatchType = ingest.BatchType(batchType)
	job.Status = ingest.Status(status)
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &job.Result); err != nil {
			return ingest.Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]ingest.Job, error) {
	var jobs []ingest.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}
