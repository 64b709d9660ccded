package ingest

import (
	"context"
	"time"
)

// JobStore persists jobs, their subscribers, and cooldown sentinels.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)

	// NextPending returns the oldest pending job in submission order. The
	// second return is false when the queue is empty.
	NextPending(ctx context.Context) (Job, bool, error)

	// SetStatus transitions a job and bumps UpdatedAt.
	SetStatus(ctx context.Context, jobID string, status Status) error

	// Finalize records a terminal status together with its payload.
	Finalize(ctx context.Context, jobID string, status Status, result Result, errMsg, validationReason string) error

	// TouchHeartbeat stamps the job's result blob so the reaper can tell a
	// long wait apart from an abandoned job.
	TouchHeartbeat(ctx context.Context, jobID string, at time.Time) error

	ListByStatus(ctx context.Context, status Status) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error

	// ListStale returns jobs in the given status whose reference time is
	// before cutoff. Pending jobs are measured from SubmittedAt, every other
	// status from UpdatedAt.
	ListStale(ctx context.Context, status Status, cutoff time.Time) ([]Job, error)

	// DeleteTerminalBefore garbage-collects delivered terminal jobs older
	// than cutoff and reports how many were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	AddSubscriber(ctx context.Context, sub Subscriber) error
	ListSubscribers(ctx context.Context, jobID string) ([]Subscriber, error)

	// CreateSentinel emits a cooldown-start or cooldown-end row.
	CreateSentinel(ctx context.Context, phase Status, at time.Time) error
}

// CatalogStore reads and writes identity-keyed catalog records and their
// moderator locks.
type CatalogStore interface {
	Get(ctx context.Context, id Identity) (CatalogRecord, bool, error)
	Create(ctx context.Context, record CatalogRecord) error
	Apply(ctx context.Context, id Identity, changes ChangeSet) error
	Locks(ctx context.Context, id Identity) (LockState, error)
	OverrideChecker
}

// OverrideChecker reports whether a moderator validation override is active
// for an identity. Split out so the validator can depend on just this.
type OverrideChecker interface {
	OverrideActive(ctx context.Context, id Identity) (bool, error)
}

// Page is the raw fetch result handed to the extractor.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves a page, returning a typed *FetchError on the archive's
// known failure shapes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes pipeline events (terminal jobs, cooldowns) to Pub/Sub or
// an in-memory equivalent.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Pauser abstracts interruptible sleeps so tests can run without waiting.
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}
