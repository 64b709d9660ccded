package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// waitUntil sleeps until the scheduler-granted moment, touching the job's
// heartbeat during long waits so the reaper can tell "waiting on purpose"
// apart from "abandoned".
func (w *Worker) waitUntil(ctx context.Context, jobID string, at time.Time) {
	d := at.Sub(w.clock.Now())
	if d <= 0 {
		return
	}
	if d < w.cfg.LongWaitThreshold {
		w.pauser.Pause(ctx, d)
		return
	}
	w.sleepWithHeartbeat(ctx, jobID, d)
}

// sleepWithHeartbeat pauses in heartbeat-interval chunks, stamping the job
// after each chunk. The touch is an explicit named operation rather than
// inline polling noise.
func (w *Worker) sleepWithHeartbeat(ctx context.Context, jobID string, d time.Duration) {
	interval := w.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	remaining := d
	for remaining > 0 && ctx.Err() == nil {
		step := interval
		if step > remaining {
			step = remaining
		}
		w.pauser.Pause(ctx, step)
		remaining -= step
		if remaining <= 0 || ctx.Err() != nil {
			return
		}
		if jobID == "" {
			continue
		}
		if err := w.jobs.TouchHeartbeat(ctx, jobID, w.clock.Now()); err != nil {
			w.logger.Warn("heartbeat touch failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// thinkTime applies a short randomized pause before the real fetch. Pacing
// only; not a correctness requirement.
func (w *Worker) thinkTime(ctx context.Context) {
	if w.cfg.ThinkMax <= 0 {
		return
	}
	d := w.cfg.ThinkMin
	if spread := w.cfg.ThinkMax - w.cfg.ThinkMin; spread > 0 {
		d += time.Duration(w.rng.Int63n(int64(spread)))
	}
	w.pauser.Pause(ctx, d)
}

// postJobDelay paces between jobs: a short delay for the majority, an
// occasional longer one, and a rare multi-minute pause every 10-20 jobs.
func (w *Worker) postJobDelay(ctx context.Context, jobID string) {
	w.jobsSincePause++
	if w.cfg.PauseEveryMax > 0 && w.jobsSincePause >= w.nextPauseAt {
		w.jobsSincePause = 0
		w.nextPauseAt = w.rollNextPause()
		d := w.randomBetween(w.cfg.PauseMin, w.cfg.PauseMax)
		w.logger.Info("taking extended pacing pause", zap.Duration("duration", d))
		w.sleepWithHeartbeat(ctx, jobID, d)
		return
	}
	if w.cfg.LongDelayChance > 0 && w.rng.Float64() < w.cfg.LongDelayChance {
		d := w.randomBetween(w.cfg.LongDelayMin, w.cfg.LongDelayMax)
		if d >= w.cfg.LongWaitThreshold {
			w.sleepWithHeartbeat(ctx, jobID, d)
		} else {
			w.pauser.Pause(ctx, d)
		}
		return
	}
	if d := w.randomBetween(w.cfg.DelayMin, w.cfg.DelayMax); d > 0 {
		w.pauser.Pause(ctx, d)
	}
}

func (w *Worker) randomBetween(min, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	if max <= min {
		return min
	}
	return min + time.Duration(w.rng.Int63n(int64(max-min)))
}

func (w *Worker) rollNextPause() int {
	if w.cfg.PauseEveryMax <= w.cfg.PauseEveryMin {
		return w.cfg.PauseEveryMin
	}
	return w.cfg.PauseEveryMin + w.rng.Intn(w.cfg.PauseEveryMax-w.cfg.PauseEveryMin)
}
