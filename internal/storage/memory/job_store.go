// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ficlib/archivist/internal/ingest"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStore is an in-memory ingest.JobStore.
type JobStore struct {
	mu          sync.RWMutex
	jobs        map[string]ingest.Job
	subscribers map[string][]ingest.Subscriber
	sentinelSeq int
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:        make(map[string]ingest.Job),
		subscribers: make(map[string][]ingest.Subscriber),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job ingest.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ingest.Job{}, ErrJobNotFound
	}
	return job, nil
}

// NextPending returns the oldest pending job in submission order.
func (s *JobStore) NextPending(_ context.Context) (ingest.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		oldest ingest.Job
		found  bool
	)
	for _, job := range s.jobs {
		if job.Status != ingest.StatusPending {
			continue
		}
		if !found || job.SubmittedAt.Before(oldest.SubmittedAt) {
			oldest = job
			found = true
		}
	}
	return oldest, found, nil
}

// SetStatus transitions a job and bumps UpdatedAt.
func (s *JobStore) SetStatus(_ context.Context, jobID string, status ingest.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// Finalize records a terminal status with its payload.
func (s *JobStore) Finalize(
	_ context.Context,
	jobID string,
	status ingest.Status,
	result ingest.Result,
	errMsg, validationReason string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = status
	job.Result = result
	job.ErrorMessage = errMsg
	job.ValidationReason = validationReason
	job.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = job
	return nil
}

// TouchHeartbeat stamps the job's result blob and UpdatedAt.
func (s *JobStore) TouchHeartbeat(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	ts := at
	job.Result.HeartbeatAt = &ts
	job.UpdatedAt = at
	s.jobs[jobID] = job
	return nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (s *JobStore) ListByStatus(_ context.Context, status ingest.Status) ([]ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// DeleteJob removes a job and its subscribers.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, jobID)
	delete(s.subscribers, jobID)
	return nil
}

// ListStale returns jobs in status whose reference time is before cutoff.
// Pending jobs are measured from SubmittedAt, everything else from
// UpdatedAt: a pending job that never started has no heartbeat to rely on.
func (s *JobStore) ListStale(_ context.Context, status ingest.Status, cutoff time.Time) ([]ingest.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Job
	for _, job := range s.jobs {
		if job.Status != status {
			continue
		}
		ref := job.UpdatedAt
		if status == ingest.StatusPending {
			ref = job.SubmittedAt
		}
		if ref.Before(cutoff) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// DeleteTerminalBefore garbage-collects delivered completed jobs.
func (s *JobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		switch job.Status {
		case ingest.StatusCompleted, ingest.StatusSeriesCompleted:
		default:
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.subscribers, id)
			removed++
		}
	}
	return removed, nil
}

// AddSubscriber attaches an interested user to a job.
func (s *JobStore) AddSubscriber(_ context.Context, sub ingest.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[sub.JobID]; !ok {
		return ErrJobNotFound
	}
	s.subscribers[sub.JobID] = append(s.subscribers[sub.JobID], sub)
	return nil
}

// ListSubscribers returns the subscribers attached to a job.
func (s *JobStore) ListSubscribers(_ context.Context, jobID string) ([]ingest.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := s.subscribers[jobID]
	out := make([]ingest.Subscriber, len(subs))
	copy(out, subs)
	return out, nil
}

// CreateSentinel emits a cooldown sentinel row.
func (s *JobStore) CreateSentinel(_ context.Context, phase ingest.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentinelSeq++
	id := fmt.Sprintf("sentinel-%d-%s", s.sentinelSeq, phase)
	s.jobs[id] = ingest.Job{
		ID:          id,
		BatchType:   ingest.BatchSystem,
		Status:      phase,
		SubmittedAt: at,
		UpdatedAt:   at,
	}
	return nil
}
