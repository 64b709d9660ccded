package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedJob(t *testing.T, store *memory.JobStore, id string, status ingest.Status, age time.Duration, now time.Time) {
	t.Helper()
	ts := now.Add(-age)
	require.NoError(t, store.CreateJob(context.Background(), ingest.Job{
		ID:          id,
		SourceURL:   "https://archiveofourown.org/works/1",
		BatchType:   ingest.BatchSingle,
		RequestedBy: "user-1",
		SubmittedAt: ts,
		UpdatedAt:   ts,
		Status:      status,
	}))
}

func TestSweepExpiresStuckJobsPerStatusCutoff(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := memory.NewJobStore()
	ctx := context.Background()

	seedJob(t, store, "pending-old", ingest.StatusPending, 25*time.Hour, now)
	seedJob(t, store, "pending-fresh", ingest.StatusPending, time.Hour, now)
	seedJob(t, store, "proc-old", ingest.StatusProcessing, 2*time.Hour, now)
	seedJob(t, store, "proc-fresh", ingest.StatusProcessing, 30*time.Minute, now)
	seedJob(t, store, "series-borderline", ingest.StatusSeriesProcessing, 100*time.Minute, now)
	seedJob(t, store, "series-old", ingest.StatusSeriesProcessing, 3*time.Hour, now)

	r := New(store, fixedClock{now}, Config{}, nil)
	r.Sweep(ctx)

	for id, wantFailed := range map[string]bool{
		"pending-old":       true,
		"pending-fresh":     false,
		"proc-old":          true,
		"proc-fresh":        false,
		"series-borderline": false,
		"series-old":        true,
	} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err, id)
		if wantFailed {
			assert.Equal(t, ingest.StatusFailed, job.Status, id)
			assert.True(t, job.Result.Stuck, id)
			assert.Contains(t, job.ErrorMessage, "expired by reaper", id)
		} else {
			assert.NotEqual(t, ingest.StatusFailed, job.Status, id)
		}
	}
}

func TestSweepDeletesDeliveredJobsAfterRetention(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := memory.NewJobStore()
	ctx := context.Background()

	seedJob(t, store, "done-old", ingest.StatusCompleted, 4*time.Hour, now)
	seedJob(t, store, "done-fresh", ingest.StatusCompleted, time.Hour, now)
	seedJob(t, store, "failed-old", ingest.StatusFailed, 48*time.Hour, now)
	seedJob(t, store, "review-old", ingest.StatusNeedsReview, 48*time.Hour, now)

	r := New(store, fixedClock{now}, Config{}, nil)
	r.Sweep(ctx)

	_, err := store.GetJob(ctx, "done-old")
	assert.ErrorIs(t, err, memory.ErrJobNotFound)

	// Fresh completions and non-completed terminals are retained: failed and
	// needs-review rows are the operator's queue, not garbage.
	for _, id := range []string{"done-fresh", "failed-old", "review-old"} {
		_, err := store.GetJob(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestExpirePreservesSubscribers(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	store := memory.NewJobStore()
	ctx := context.Background()

	seedJob(t, store, "stuck", ingest.StatusProcessing, 5*time.Hour, now)
	require.NoError(t, store.AddSubscriber(ctx, ingest.Subscriber{JobID: "stuck", UserID: "watcher-1"}))

	r := New(store, fixedClock{now}, Config{}, nil)
	r.Sweep(ctx)

	job, err := store.GetJob(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusFailed, job.Status)

	subs, err := store.ListSubscribers(ctx, "stuck")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "watcher-1", subs[0].UserID)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, 30*time.Minute, cfg.Interval)
	assert.Equal(t, 24*time.Hour, cfg.PendingAge)
	assert.Equal(t, 90*time.Minute, cfg.ProcessingAge)
	assert.Equal(t, 120*time.Minute, cfg.SeriesProcessingAge)
	assert.Equal(t, 3*time.Hour, cfg.TerminalRetention)
}
