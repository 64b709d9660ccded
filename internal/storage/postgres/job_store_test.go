package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ficlib/archivist/internal/ingest"
)

func newJobStoreMock(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	now := time.Unix(1700000000, 0).UTC()

	job := ingest.Job{
		ID:          "job-1",
		SourceURL:   "https://archiveofourown.org/works/123",
		BatchType:   ingest.BatchSingle,
		RequestedBy: "user-1",
		SubmittedAt: now,
		UpdatedAt:   now,
		Status:      ingest.StatusPending,
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID,
			job.SourceURL,
			"single",
			job.RequestedBy,
			job.SubmittedAt,
			job.UpdatedAt,
			"pending",
			[]byte(`{}`),
			"",
			"",
			false,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)

	mock.ExpectQuery("SELECT .+ FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPendingReturnsOldest(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "source_url", "batch_type", "requested_by", "submitted_at", "updated_at",
		"status", "result", "error_message", "validation_reason", "instant_candidate",
	}).AddRow(
		"job-1", "https://archiveofourown.org/works/123", "single", "user-1", now, now,
		"pending", []byte(`{}`), "", "", false,
	)

	mock.ExpectQuery("SELECT .+ FROM jobs WHERE status").
		WithArgs("pending").
		WillReturnRows(rows)

	job, found, err := store.NextPending(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, ingest.StatusPending, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextPendingEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)

	mock.ExpectQuery("SELECT .+ FROM jobs WHERE status").
		WithArgs("pending").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.NextPending(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeWritesTerminalPayload(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)

	result := ingest.Result{ID: "archive:work:123", Type: "work"}
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", "completed", []byte(`{"id":"archive:work:123","type":"work"}`),
			"", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.Finalize(context.Background(), "job-1", ingest.StatusCompleted, result, "", "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeUnknownJob(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("missing", "failed", pgxmock.AnyArg(), "boom", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Finalize(context.Background(), "missing", ingest.StatusFailed, ingest.Result{}, "boom", "")
	assert.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchHeartbeatStampsResult(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.TouchHeartbeat(context.Background(), "job-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTerminalBeforeReportsCount(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	cutoff := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs([]string{"completed", "series-completed"}, cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := store.DeleteTerminalBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleUsesSubmittedAtForPending(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	cutoff := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "source_url", "batch_type", "requested_by", "submitted_at", "updated_at",
		"status", "result", "error_message", "validation_reason", "instant_candidate",
	})

	mock.ExpectQuery(`WHERE status = \$1 AND submitted_at <`).
		WithArgs("pending", cutoff).
		WillReturnRows(rows)

	_, err := store.ListStale(context.Background(), ingest.StatusPending, cutoff)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(`WHERE status = \$1 AND updated_at <`).
		WithArgs("processing", cutoff).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_url", "batch_type", "requested_by", "submitted_at", "updated_at",
			"status", "result", "error_message", "validation_reason", "instant_candidate",
		}))

	_, err = store.ListStale(context.Background(), ingest.StatusProcessing, cutoff)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSentinelInsertsSystemRow(t *testing.T) {
	t.Parallel()

	store, mock := newJobStoreMock(t)
	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), "", "system", "", at, at, "cooldown-start").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateSentinel(context.Background(), ingest.StatusCooldownStart, at))
	require.NoError(t, mock.ExpectationsWereMet())
}
