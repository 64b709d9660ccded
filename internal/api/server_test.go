package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ficlib/archivist/internal/id/uuid"
	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T) (*Server, *memory.JobStore) {
	t.Helper()
	jobs := memory.NewJobStore()
	matcher := ingest.NewSiteMatcher("archive", []string{"archiveofourown.org"})
	clock := fixedClock{now: time.Unix(1700000000, 0).UTC()}
	return NewServer(jobs, matcher, uuid.New(), clock, nil), jobs
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueJobCreatesPendingJob(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]any{
		"url":          "https://archiveofourown.org/works/123456",
		"requested_by": "user-1",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "pending", resp["status"])

	job, err := jobs.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusPending, job.Status)
	assert.Equal(t, ingest.BatchSingle, job.BatchType)
	assert.Equal(t, "user-1", job.RequestedBy)

	subs, err := jobs.ListSubscribers(context.Background(), resp["job_id"])
	require.NoError(t, err)
	require.Len(t, subs, 1, "requester should be subscribed automatically")
	assert.Equal(t, "user-1", subs[0].UserID)
}

func TestEnqueueJobInfersSeriesBatch(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]any{
		"url": "https://archiveofourown.org/series/4242",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := jobs.GetJob(context.Background(), resp["job_id"])
	require.NoError(t, err)
	assert.Equal(t, ingest.BatchSeries, job.BatchType)
}

func TestEnqueueJobValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", map[string]any{
		"url":        "https://archiveofourown.org/works/1",
		"batch_type": "bulk",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, jobs.CreateJob(context.Background(), ingest.Job{
		ID:          "job-1",
		SourceURL:   "https://archiveofourown.org/works/1",
		BatchType:   ingest.BatchSingle,
		SubmittedAt: now,
		UpdatedAt:   now,
		Status:      ingest.StatusCompleted,
		Result:      ingest.Result{ID: "archive:work:1", Type: "work"},
	}))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job ingest.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "archive:work:1", job.Result.ID)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsByStatus(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	now := time.Unix(1700000000, 0).UTC()
	for i, status := range []ingest.Status{ingest.StatusCompleted, ingest.StatusFailed, ingest.StatusCompleted} {
		require.NoError(t, jobs.CreateJob(context.Background(), ingest.Job{
			ID:          "job-" + string(rune('a'+i)),
			SourceURL:   "https://archiveofourown.org/works/1",
			SubmittedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   now,
			Status:      status,
		}))
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Jobs []ingest.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Jobs, 2)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "status filter is mandatory")
}

func TestDeleteJobAfterDelivery(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, jobs.CreateJob(context.Background(), ingest.Job{
		ID: "job-1", SubmittedAt: now, UpdatedAt: now, Status: ingest.StatusCompleted,
	}))

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := jobs.GetJob(context.Background(), "job-1")
	assert.ErrorIs(t, err, memory.ErrJobNotFound)

	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/v1/jobs/job-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddSubscriber(t *testing.T) {
	t.Parallel()

	srv, jobs := newTestServer(t)
	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, jobs.CreateJob(context.Background(), ingest.Job{
		ID: "job-1", SubmittedAt: now, UpdatedAt: now, Status: ingest.StatusPending,
	}))

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/subscribers", map[string]any{
		"user_id":     "watcher-2",
		"channel_ref": "chan-9",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	subs, err := jobs.ListSubscribers(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "watcher-2", subs[0].UserID)
	assert.Equal(t, "chan-9", subs[0].ChannelRef)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/subscribers", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/missing/subscribers", map[string]any{
		"user_id": "watcher-3",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, srv.Handler(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
