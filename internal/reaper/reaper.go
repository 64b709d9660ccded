// Package reaper recovers jobs orphaned by crashes or restarts and garbage
// collects delivered results.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/metrics"
)

// Config holds the staleness cutoffs for each sweep.
type Config struct {
	Interval time.Duration
	// PendingAge measures from submission: a pending job has never been
	// touched, so UpdatedAt carries no signal.
	PendingAge time.Duration
	// ProcessingAge and SeriesProcessingAge measure from the last heartbeat.
	// The series cutoff is wider because a legal series job spends most of
	// its life sleeping between member fetches.
	ProcessingAge       time.Duration
	SeriesProcessingAge time.Duration
	// TerminalRetention is how long delivered completed jobs stay queryable
	// before deletion.
	TerminalRetention time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.PendingAge <= 0 {
		c.PendingAge = 24 * time.Hour
	}
	if c.ProcessingAge <= 0 {
		c.ProcessingAge = 90 * time.Minute
	}
	if c.SeriesProcessingAge <= 0 {
		c.SeriesProcessingAge = 120 * time.Minute
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 3 * time.Hour
	}
}

// Reaper periodically expires stuck jobs and deletes old completed ones.
type Reaper struct {
	jobs   ingest.JobStore
	clock  ingest.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reaper.
func New(jobs ingest.JobStore, clock ingest.Clock, cfg Config, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Reaper{jobs: jobs, clock: clock, cfg: cfg, logger: logger}
}

// Run sweeps immediately, then on every tick until the context finishes. The
// immediate sweep matters: jobs orphaned by the previous process should not
// wait a full interval to be recovered.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass: delete old delivered jobs, then expire each
// stuck class against its own cutoff.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.clock.Now()

	deleted, err := r.jobs.DeleteTerminalBefore(ctx, now.Add(-r.cfg.TerminalRetention))
	if err != nil {
		r.logger.Error("delete old completed jobs failed", zap.Error(err))
	} else if deleted > 0 {
		r.logger.Info("deleted old completed jobs", zap.Int("count", deleted))
		for i := 0; i < deleted; i++ {
			metrics.ObserveReaped("deleted")
		}
	}

	r.expire(ctx, ingest.StatusPending, now.Add(-r.cfg.PendingAge),
		"job was never picked up by the pipeline")
	r.expire(ctx, ingest.StatusProcessing, now.Add(-r.cfg.ProcessingAge),
		"job stopped reporting progress while processing")
	r.expire(ctx, ingest.StatusSeriesProcessing, now.Add(-r.cfg.SeriesProcessingAge),
		"series job stopped reporting progress")
}

// expire fails every job of one status whose reference time predates the
// cutoff. Subscribers stay attached so the failure still gets delivered.
func (r *Reaper) expire(ctx context.Context, status ingest.Status, cutoff time.Time, diagnostic string) {
	stale, err := r.jobs.ListStale(ctx, status, cutoff)
	if err != nil {
		r.logger.Error("list stale jobs failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	for _, job := range stale {
		msg := fmt.Sprintf("expired by reaper: %s", diagnostic)
		result := ingest.Result{Stuck: true}
		if err := r.jobs.Finalize(ctx, job.ID, ingest.StatusFailed, result, msg, ""); err != nil {
			r.logger.Error("expire stuck job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		metrics.ObserveReaped("expired")
		r.logger.Warn("expired stuck job",
			zap.String("job_id", job.ID),
			zap.String("was_status", string(status)),
			zap.Time("submitted_at", job.SubmittedAt),
		)
	}
}
