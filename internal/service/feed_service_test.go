package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/domain"

	"go.opentelemetry.io/otel/trace/noop"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type fakeFeed struct {
	mu        sync.Mutex
	view      domain.FeedView
	listeners []func(domain.FeedView)
	started   []string
	running   bool
	retries   int
}

func (f *fakeFeed) ID() string { return "consumer-1" }

func (f *fakeFeed) Start(_ context.Context, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = ids
	f.running = true
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeFeed) Retry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
}

func (f *fakeFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeFeed) View() domain.FeedView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view.Clone()
}

func (f *fakeFeed) OnUpdate(fn func(domain.FeedView)) {
	f.listeners = append(f.listeners, fn)
}

func (f *fakeFeed) emit(view domain.FeedView) {
	f.mu.Lock()
	f.view = view
	f.mu.Unlock()
	for _, fn := range f.listeners {
		fn(view)
	}
}

type fakeGlobal struct {
	view    domain.GlobalView
	retries int
	fn      func(domain.GlobalView)
}

func (g *fakeGlobal) Start(context.Context)               {}
func (g *fakeGlobal) Stop()                               {}
func (g *fakeGlobal) Retry()                              { g.retries++ }
func (g *fakeGlobal) View() domain.GlobalView             { return g.view }
func (g *fakeGlobal) OnUpdate(fn func(domain.GlobalView)) { g.fn = fn }

type fakePrices struct {
	body  string
	err   error
	calls int
}

func (p *fakePrices) FetchPrices(_ context.Context, ids []string) (domain.RawPayload, error) {
	p.calls++
	if p.err != nil {
		return domain.RawPayload{}, p.err
	}
	return domain.RawPayload{JSON: []byte(p.body), ReceivedAt: time.Now()}, nil
}

type fakeMirror struct {
	views  chan domain.FeedView
	events chan cache.TierEvent
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{views: make(chan domain.FeedView, 8), events: make(chan cache.TierEvent, 8)}
}

func (m *fakeMirror) WriteView(_ context.Context, v domain.FeedView) error {
	m.views <- v
	return nil
}

func (m *fakeMirror) WriteGlobal(context.Context, domain.GlobalView) error { return nil }

func (m *fakeMirror) PublishTierChange(_ context.Context, ev cache.TierEvent) error {
	m.events <- ev
	return nil
}

func viewWith(tier domain.Tier, records ...domain.CryptoAssetSnapshot) domain.FeedView {
	return domain.FeedView{ConsumerID: "consumer-1", ActiveTier: tier, Records: records}
}

func TestFeedServiceSnapshotFromView(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	feed.view = viewWith(domain.TierREST, domain.CryptoAssetSnapshot{ID: "bitcoin", Symbol: "BTC", PriceUSD: 10})
	prices := &fakePrices{}
	svc := NewFeedService(testTracer, feed, &fakeGlobal{}, prices, nil, nil, nil)

	snap, err := svc.Quote(context.Background(), "btc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ID != "bitcoin" || prices.calls != 0 {
		t.Fatalf("expected cached view hit, got %+v (calls=%d)", snap, prices.calls)
	}
}

func TestFeedServiceQuoteFallsBackToPrices(t *testing.T) {
	t.Parallel()

	prices := &fakePrices{body: `{"dogecoin":{"usd":0.2,"usd_24h_change":12}}`}
	svc := NewFeedService(testTracer, &fakeFeed{}, nil, prices, nil, nil, nil)

	snap, err := svc.Quote(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.ID != "dogecoin" || snap.Risk != domain.RiskHigh || prices.calls != 1 {
		t.Fatalf("unexpected quote: %+v", snap)
	}
}

func TestFeedServiceQuoteErrors(t *testing.T) {
	t.Parallel()

	svc := NewFeedService(testTracer, &fakeFeed{}, nil, &fakePrices{body: `{}`}, nil, nil, nil)
	if _, err := svc.Quote(context.Background(), "nothing"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected unknown asset, got %v", err)
	}

	upstream := errors.New("coingecko API error 429")
	svc = NewFeedService(testTracer, &fakeFeed{}, nil, &fakePrices{err: upstream}, nil, nil, nil)
	if _, err := svc.Quote(context.Background(), "bitcoin"); !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error wrapped, got %v", err)
	}

	if _, err := svc.Snapshot("bitcoin"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("snapshot must not fetch, got %v", err)
	}
}

func TestFeedServiceMirrorsAndPublishesTierChanges(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	mirror := newFakeMirror()
	NewFeedService(testTracer, feed, nil, nil, nil, mirror, nil)

	feed.emit(viewWith(domain.TierExchange))
	feed.emit(viewWith(domain.TierExchange))
	feed.emit(viewWith(domain.TierREST))

	for i := 0; i < 3; i++ {
		select {
		case <-mirror.views:
		case <-time.After(time.Second):
			t.Fatalf("view %d not mirrored", i)
		}
	}
	select {
	case ev := <-mirror.events:
		if ev.From != domain.TierExchange || ev.To != domain.TierREST || ev.ConsumerID != "consumer-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("tier change not published")
	}
	select {
	case ev := <-mirror.events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFeedServiceLifecycle(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{}
	global := &fakeGlobal{view: domain.GlobalView{Status: domain.ConnectionStatus{State: domain.StateConnected}}}
	svc := NewFeedService(testTracer, feed, global, nil, nil, nil, nil)

	svc.Start(context.Background(), []string{"bitcoin"})
	if !feed.Running() || len(svc.IDs()) != 1 {
		t.Fatal("expected feed to start with ids")
	}
	svc.Retry()
	if feed.retries != 1 || global.retries != 1 {
		t.Fatalf("retry should reach both pollers, got feed=%d global=%d", feed.retries, global.retries)
	}

	report := svc.Status()
	if !report.Running || report.Global.State != domain.StateConnected {
		t.Fatalf("unexpected status: %+v", report)
	}

	svc.Stop()
	if feed.Running() {
		t.Fatal("expected feed stopped")
	}
}

func TestFeedServiceGlobalWithoutPoller(t *testing.T) {
	t.Parallel()

	svc := NewFeedService(testTracer, &fakeFeed{}, nil, nil, nil, nil, nil)
	if got := svc.Global().Status.State; got != domain.StateDisconnected {
		t.Fatalf("expected disconnected global, got %s", got)
	}
}
