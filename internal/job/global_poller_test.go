package job

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/provider"
)

type globalFetcherStub struct {
	calls atomic.Int32
	fail  atomic.Bool
	inner provider.GlobalFetcher
}

func (s *globalFetcherStub) FetchGlobal(ctx context.Context) provider.GlobalResult {
	s.calls.Add(1)
	if s.fail.Load() {
		return provider.GlobalResult{Status: domain.ConnectionStatus{State: domain.StateError, Message: "coingecko API error 503"}}
	}
	return s.inner.FetchGlobal(ctx)
}

func TestGlobalPollerRunsImmediately(t *testing.T) {
	t.Parallel()

	stub := &globalFetcherStub{inner: provider.NewBundledStaticAdapter()}
	g := NewGlobalPoller(testTracer, stub, time.Hour, nil)

	updates := make(chan domain.GlobalView, 4)
	g.OnUpdate(func(v domain.GlobalView) { updates <- v })

	g.Start(context.Background())
	defer g.Stop()

	select {
	case v := <-updates:
		if v.Record == nil || v.Record.ActiveCryptocurrencies == 0 {
			t.Fatalf("expected global record, got %+v", v)
		}
		if v.Status.State != domain.StateConnected {
			t.Fatalf("unexpected status: %+v", v.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no global update")
	}
}

func TestGlobalPollerFailureKeepsLastRecord(t *testing.T) {
	t.Parallel()

	stub := &globalFetcherStub{inner: provider.NewBundledStaticAdapter()}
	g := NewGlobalPoller(testTracer, stub, time.Hour, nil)
	g.Start(context.Background())
	defer g.Stop()

	waitFor(t, func() bool { return g.View().Record != nil })

	stub.fail.Store(true)
	g.Retry()
	waitFor(t, func() bool { return g.View().Status.State == domain.StateError })

	if g.View().Record == nil {
		t.Fatal("failed refresh dropped the previous record")
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestGlobalPollerStop(t *testing.T) {
	t.Parallel()

	stub := &globalFetcherStub{inner: provider.NewBundledStaticAdapter()}
	g := NewGlobalPoller(testTracer, stub, 20*time.Millisecond, nil)
	g.Start(context.Background())
	waitFor(t, func() bool { return stub.calls.Load() >= 1 })

	g.Stop()
	if g.Running() {
		t.Fatal("still running after stop")
	}
	time.Sleep(10 * time.Millisecond)
	before := stub.calls.Load()
	time.Sleep(60 * time.Millisecond)
	if after := stub.calls.Load(); after != before {
		t.Fatalf("fetches continued after stop: %d -> %d", before, after)
	}
	g.Retry()
	time.Sleep(10 * time.Millisecond)
	if stub.calls.Load() != before {
		t.Fatal("retry fired on a stopped poller")
	}
}

func TestGlobalPollerDefaultInterval(t *testing.T) {
	t.Parallel()

	g := NewGlobalPoller(testTracer, provider.NewBundledStaticAdapter(), 0, nil)
	if g.interval != 5*time.Minute {
		t.Fatalf("expected 5m default, got %v", g.interval)
	}
}
