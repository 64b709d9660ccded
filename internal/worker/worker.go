// Package worker implements the single-threaded ingestion pipeline loop.
//
// The loop is intentionally cooperative: the whole point is to stay under one
// external rate budget, so there is exactly one mutator of the rate
// scheduler. Scaling out would require moving that state behind an atomic
// reservation.
package worker

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/metrics"
	"github.com/ficlib/archivist/internal/ratesched"
)

// Extractor parses fetched archive pages.
type Extractor interface {
	Extract(page ingest.Page) (ingest.Metadata, error)
	ExtractSeries(page ingest.Page) (ingest.SeriesIndex, error)
}

// Validator applies the curation policy.
type Validator interface {
	Validate(ctx context.Context, id ingest.Identity, meta ingest.Metadata) (ingest.ValidationOutcome, error)
}

// HostWaiter rate-limits fetches against hosts outside the archive budget.
type HostWaiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls loop pacing and the cooldown circuit breaker.
type Config struct {
	PollInterval      time.Duration
	ThinkMin          time.Duration
	ThinkMax          time.Duration
	DelayMin          time.Duration
	DelayMax          time.Duration
	LongDelayChance   float64
	LongDelayMin      time.Duration
	LongDelayMax      time.Duration
	PauseEveryMin     int
	PauseEveryMax     int
	PauseMin          time.Duration
	PauseMax          time.Duration
	LongWaitThreshold time.Duration
	HeartbeatInterval time.Duration
	CooldownThreshold int
	Cooldown          time.Duration
	SeriesEstimate    int
	Topic             string
	SnapshotPrefix    string
}

// Worker drains the persisted job queue one job at a time.
type Worker struct {
	jobs      ingest.JobStore
	catalog   ingest.CatalogStore
	fetcher   ingest.Fetcher
	extractor Extractor
	validator Validator
	sched     *ratesched.Scheduler
	matcher   *ingest.SiteMatcher
	blobs     ingest.BlobStore
	publisher ingest.Publisher
	hosts     HostWaiter
	clock     ingest.Clock
	pauser    ingest.Pauser
	rng       *rand.Rand
	cfg       Config
	logger    *zap.Logger

	// consecutiveFailures is scoped to the archive site: unrelated-site
	// errors never trip the cooldown breaker.
	consecutiveFailures int
	jobsSincePause      int
	nextPauseAt         int
}

// New constructs a Worker.
func New(
	jobs ingest.JobStore,
	catalog ingest.CatalogStore,
	fetcher ingest.Fetcher,
	extractor Extractor,
	validator Validator,
	sched *ratesched.Scheduler,
	matcher *ingest.SiteMatcher,
	blobs ingest.BlobStore,
	publisher ingest.Publisher,
	hosts HostWaiter,
	clock ingest.Clock,
	pauser ingest.Pauser,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CooldownThreshold <= 0 {
		cfg.CooldownThreshold = 3
	}
	if cfg.SeriesEstimate <= 0 {
		cfg.SeriesEstimate = 3
	}
	if cfg.LongWaitThreshold <= 0 {
		cfg.LongWaitThreshold = 45 * time.Second
	}
	w := &Worker{
		jobs:      jobs,
		catalog:   catalog,
		fetcher:   fetcher,
		extractor: extractor,
		validator: validator,
		sched:     sched,
		matcher:   matcher,
		blobs:     blobs,
		publisher: publisher,
		hosts:     hosts,
		clock:     clock,
		pauser:    pauser,
		rng:       rand.New(rand.NewSource(clock.Now().UnixNano())),
		cfg:       cfg,
		logger:    logger,
	}
	w.nextPauseAt = w.rollNextPause()
	return w
}

// Run blocks, draining pending jobs in strict submission order until the
// context finishes. Per-job errors are recorded on the job, never allowed to
// kill the loop; only outer poll failures trigger a logged pause-and-retry.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		job, ok, err := w.jobs.NextPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("poll pending jobs failed", zap.Error(err))
			w.pauser.Pause(ctx, w.cfg.PollInterval)
			continue
		}
		if !ok {
			w.pauser.Pause(ctx, w.cfg.PollInterval)
			continue
		}
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job ingest.Job) {
	kind, ref := w.matcher.Classify(job.SourceURL)

	claimed := ingest.StatusProcessing
	if kind == ingest.URLSeries {
		claimed = ingest.StatusSeriesProcessing
	}
	// Mark-then-act: a crash mid-processing leaves the job visibly stuck for
	// the reaper instead of silently lost, and a long rate wait is never
	// mistaken for "abandoned".
	if err := w.jobs.SetStatus(ctx, job.ID, claimed); err != nil {
		w.logger.Error("claim job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Info("processing job",
		zap.String("job_id", job.ID),
		zap.String("url", job.SourceURL),
		zap.String("batch_type", string(job.BatchType)),
	)

	archive := w.matcher.Matches(job.SourceURL)
	if archive {
		est := w.estimateFetches(job, kind)
		begin := w.sched.NextAvailable(est)
		if wait := begin.Sub(w.clock.Now()); wait > 0 {
			metrics.ObserveRateWait(wait)
		}
		w.waitUntil(ctx, job.ID, begin)
	}
	w.thinkTime(ctx)

	outcome := w.dispatch(ctx, job, kind, ref)
	w.sched.MarkUsed(outcome.Fetches)

	w.finalize(ctx, job, outcome)
	w.trackFailures(ctx, job, archive, outcome)
	w.postJobDelay(ctx, job.ID)
}

func (w *Worker) estimateFetches(job ingest.Job, kind ingest.URLKind) int {
	if kind == ingest.URLSeries || job.BatchType == ingest.BatchSeries {
		// The member count is unknown until the index page is fetched; a
		// typical-size estimate keeps the up-front wait honest.
		return 1 + w.cfg.SeriesEstimate
	}
	return 1
}

func (w *Worker) dispatch(ctx context.Context, job ingest.Job, kind ingest.URLKind, ref string) ingest.Outcome {
	switch kind {
	case ingest.URLSeries:
		return w.processSeries(ctx, job, ref)
	case ingest.URLWork:
		return w.processWork(ctx, job.SourceURL)
	default:
		return w.processGeneric(ctx, job)
	}
}

// finalize maps the processor's tagged outcome onto a terminal status and
// records it, then publishes the transition for the notification layer.
func (w *Worker) finalize(ctx context.Context, job ingest.Job, outcome ingest.Outcome) {
	var (
		status           ingest.Status
		errMsg           string
		validationReason string
		result           ingest.Result
	)
	switch outcome.Kind {
	case ingest.OutcomeOK:
		status = ingest.StatusCompleted
		if outcome.Result.Type == "series" {
			status = ingest.StatusSeriesCompleted
		}
		result = outcome.Result
	case ingest.OutcomeInvalid:
		status = ingest.StatusNeedsReview
		validationReason = outcome.Reason
		result = ingest.Result{Failures: outcome.Failures}
	case ingest.OutcomeFetchFailed:
		status = ingest.StatusFailed
		errMsg = fetchErrorMessage(outcome.FetchKind, outcome.Reason)
		metrics.ObserveFetchError(string(outcome.FetchKind))
	case ingest.OutcomeIntegrity:
		status = ingest.StatusFailed
		errMsg = outcome.Reason
	}

	if err := w.jobs.Finalize(ctx, job.ID, status, result, errMsg, validationReason); err != nil {
		w.logger.Error("finalize job failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveJob(string(status))
	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
	)
	w.publish(ctx, map[string]any{
		"job_id": job.ID,
		"status": string(status),
		"result": result,
	})
}

// trackFailures drives the cooldown circuit breaker. Only archive-site
// errors count; validation failures are verdicts, not errors.
func (w *Worker) trackFailures(ctx context.Context, job ingest.Job, archive bool, outcome ingest.Outcome) {
	if !archive {
		return
	}
	switch outcome.Kind {
	case ingest.OutcomeFetchFailed, ingest.OutcomeIntegrity:
		w.consecutiveFailures++
	default:
		w.consecutiveFailures = 0
		return
	}
	if w.consecutiveFailures < w.cfg.CooldownThreshold {
		return
	}
	w.logger.Warn("consecutive archive failures reached threshold, entering cooldown",
		zap.Int("failures", w.consecutiveFailures),
		zap.Duration("cooldown", w.cfg.Cooldown),
		zap.String("last_job_id", job.ID),
	)
	metrics.ObserveCooldown()
	w.sentinel(ctx, ingest.StatusCooldownStart)
	w.pauser.Pause(ctx, w.cfg.Cooldown)
	w.sentinel(ctx, ingest.StatusCooldownEnd)
	w.consecutiveFailures = 0
}

func (w *Worker) sentinel(ctx context.Context, phase ingest.Status) {
	if err := w.jobs.CreateSentinel(ctx, phase, w.clock.Now()); err != nil {
		w.logger.Error("write cooldown sentinel failed", zap.String("phase", string(phase)), zap.Error(err))
	}
	w.publish(ctx, map[string]any{"event": string(phase)})
}

func (w *Worker) publish(ctx context.Context, payload map[string]any) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish pipeline event failed", zap.Error(err))
	}
}

func fetchErrorMessage(kind ingest.FetchErrKind, detail string) string {
	switch kind {
	case ingest.FetchNotFound:
		return "work not found: deleted, hidden, or never existed"
	case ingest.FetchForbidden:
		return "access forbidden: the work may be restricted to logged-in users"
	case ingest.FetchSiteProtection:
		return "site protection triggered: the archive refused automated access"
	default:
		if detail != "" {
			return "connection error: " + detail
		}
		return "connection error while fetching the work"
	}
}
