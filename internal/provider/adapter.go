package provider

import (
	"context"
	"sync"
	"time"

	"market-pulse/internal/domain"
)

// Adapter is a tiered market-data source.
type Adapter interface {
	Tier() domain.Tier
	FetchSnapshots(ctx context.Context, ids []string) Result
	Status() domain.ConnectionStatus
}

// GlobalFetcher provides aggregate market totals.
type GlobalFetcher interface {
	FetchGlobal(ctx context.Context) GlobalResult
}

// Result is one adapter fetch. Expected failures are reported in Status,
// never returned as errors.
type Result struct {
	Tier    domain.Tier
	Status  domain.ConnectionStatus
	Payload domain.RawPayload
	Records int
	Err     error
}

// Failed reports whether the fetch ended in an error state.
func (r Result) Failed() bool {
	return r.Status.State == domain.StateError
}

type GlobalResult struct {
	Status  domain.ConnectionStatus
	Payload domain.RawPayload
	Err     error
}

// statusTracker keeps an adapter's last status under a lock.
type statusTracker struct {
	mu     sync.Mutex
	status domain.ConnectionStatus
}

func newStatusTracker(initial domain.ConnState) *statusTracker {
	return &statusTracker{status: domain.ConnectionStatus{State: initial}}
}

func (s *statusTracker) get() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *statusTracker) succeed(records int, at time.Time) domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.ConnectionStatus{
		State:       domain.StateConnected,
		LastSuccess: at,
		Records:     records,
	}
	return s.status
}

func (s *statusTracker) fail(err error) domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.ConnectionStatus{
		State:       domain.StateError,
		Message:     err.Error(),
		LastSuccess: s.status.LastSuccess,
	}
	return s.status
}
