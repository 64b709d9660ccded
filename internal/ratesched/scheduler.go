// Package ratesched implements the archive fetch-slot scheduler.
//
// The scheduler is a by-time accumulator, not a queue: it tracks the moment
// the next outbound fetch may begin and advances that moment by one interval
// per granted fetch. Concurrent callers must serialize through the single
// worker loop; the mutex only guards against accidental misuse.
package ratesched

import (
	"sync"
	"time"

	"github.com/ficlib/archivist/internal/ingest"
)

// Scheduler paces sequential outbound fetches at a fixed minimum interval.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	clock    ingest.Clock
	nextFree time.Time
}

// New constructs a Scheduler with the given minimum inter-request interval.
func New(interval time.Duration, clock ingest.Clock) *Scheduler {
	return &Scheduler{
		interval: interval,
		clock:    clock,
	}
}

// Interval returns the configured minimum gap between fetches.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NextAvailable returns the earliest moment at which n sequential fetches may
// begin. After idle periods this is "now", never a past time that would allow
// a burst tighter than the interval.
func (s *Scheduler) NextAvailable(n int) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if s.nextFree.Before(now) {
		return now
	}
	return s.nextFree
}

// MarkUsed advances the schedule by n intervals from the later of "now" or
// the previous advance. Call it once the fetches have actually been issued.
func (s *Scheduler) MarkUsed(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.clock.Now()
	if s.nextFree.After(base) {
		base = s.nextFree
	}
	s.nextFree = base.Add(time.Duration(n) * s.interval)
}

// Reset clears the schedule. Test hook; a no-op on a fresh scheduler.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFree = time.Time{}
}
