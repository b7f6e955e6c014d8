package provider

import (
	"context"
	"sync"
	"time"
)

// Spacing enforces a minimum gap between consecutive outbound calls shared
// by every caller holding the same instance.
type Spacing struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	blocked  time.Time
	now      func() time.Time
}

// NewSpacing creates a limiter allowing one call per interval.
func NewSpacing(interval time.Duration) *Spacing {
	return &Spacing{interval: interval, now: time.Now}
}

// Interval returns the configured minimum spacing.
func (s *Spacing) Interval() time.Duration {
	return s.interval
}

// Wait blocks until the caller's slot arrives or ctx is cancelled. Slots are
// reserved under the lock so concurrent callers are spaced from each other.
func (s *Spacing) Wait(ctx context.Context) error {
	s.mu.Lock()
	now := s.now()
	slot := now
	if !s.last.IsZero() {
		if next := s.last.Add(s.interval); next.After(slot) {
			slot = next
		}
	}
	if s.blocked.After(slot) {
		slot = s.blocked
	}
	s.last = slot
	s.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.release(slot)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryReserve takes the current slot only if it is free now. It never queues,
// so callers that use it cannot push back callers that Wait.
func (s *Spacing) TryReserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.last.IsZero() && now.Before(s.last.Add(s.interval)) {
		return false
	}
	if now.Before(s.blocked) {
		return false
	}
	s.last = now
	return true
}

// Penalize holds every caller back for d, used after a 429 response.
func (s *Spacing) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.now().Add(d)
	if until.After(s.blocked) {
		s.blocked = until
	}
}

// release gives back a reserved slot that was never used, if nobody queued
// behind it.
func (s *Spacing) release(slot time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last.Equal(slot) {
		s.last = slot.Add(-s.interval)
	}
}
