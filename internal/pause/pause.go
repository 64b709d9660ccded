// Package pause provides the context-aware sleep used for pipeline pacing.
package pause

import (
	"context"
	"time"
)

// Timer implements ingest.Pauser with a real timer. A canceled context cuts
// the pause short.
type Timer struct{}

// New creates a Timer pauser.
func New() *Timer {
	return &Timer{}
}

// Pause blocks for delay or until the context finishes.
func (*Timer) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
