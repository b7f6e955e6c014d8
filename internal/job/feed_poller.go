package job

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/normalize"
	"market-pulse/internal/provider"
	"market-pulse/internal/tier"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FeedConfig controls polling cadence and auto-retry.
type FeedConfig struct {
	Intervals        map[domain.Tier]time.Duration
	MaxRetryAttempts int
	RetryDelay       time.Duration
}

var defaultIntervals = map[domain.Tier]time.Duration{
	domain.TierExchange: 5 * time.Second,
	domain.TierREST:     60 * time.Second,
	domain.TierStatic:   5 * time.Minute,
}

func (c FeedConfig) interval(t domain.Tier) time.Duration {
	if d, ok := c.Intervals[t]; ok && d > 0 {
		return d
	}
	return defaultIntervals[t]
}

// FeedPoller polls every adapter on its own cadence and keeps the consumer's
// view built from the best tier available.
type FeedPoller struct {
	tracer   trace.Tracer
	logger   *log.Logger
	adapters []provider.Adapter
	cfg      FeedConfig
	id       string

	mu        sync.Mutex
	gen       uint64
	running   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	ids       []string
	results   map[domain.Tier]provider.Result
	fetching  map[domain.Tier]bool
	view      domain.FeedView
	listeners []func(domain.FeedView)
}

func NewFeedPoller(tracer trace.Tracer, adapters []provider.Adapter, cfg FeedConfig, logger *log.Logger) *FeedPoller {
	if logger == nil {
		logger = log.Default()
	}
	id := uuid.NewString()
	return &FeedPoller{
		tracer:   tracer,
		logger:   logger.With("consumer", id),
		adapters: adapters,
		cfg:      cfg,
		id:       id,
		results:  make(map[domain.Tier]provider.Result),
		fetching: make(map[domain.Tier]bool),
		view: domain.FeedView{
			ConsumerID:  id,
			ActiveTier:  domain.TierStatic,
			Connections: make(map[domain.Tier]domain.ConnectionStatus),
		},
	}
}

// ID identifies this consumer.
func (p *FeedPoller) ID() string { return p.id }

// OnUpdate registers fn to receive every committed view. fn runs on the
// polling goroutine and must not block.
func (p *FeedPoller) OnUpdate(fn func(domain.FeedView)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Start begins polling ids. A poller that is already running is stopped
// first, and results of the old id set are discarded. Records stay visible
// across a restart only when the id set is unchanged.
func (p *FeedPoller) Start(ctx context.Context, ids []string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	gen := p.gen
	runCtx, cancel := context.WithCancel(ctx)
	p.runCtx = runCtx
	p.cancel = cancel
	p.running = true
	if !slices.Equal(p.ids, ids) {
		p.view.Records = nil
		p.view.LastUpdate = time.Time{}
		p.view.Err = ""
	}
	p.ids = slices.Clone(ids)
	clear(p.results)
	p.clearFetching()
	p.mu.Unlock()

	p.logger.Info("feed poller starting", "ids", ids, "adapters", len(p.adapters))
	for _, a := range p.adapters {
		go p.loop(runCtx, gen, a)
	}
}

// Stop cancels every loop. It does not wait for in-flight fetches; their
// results are dropped when they land.
func (p *FeedPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	p.cancel = nil
	p.gen++
	p.running = false
	p.clearFetching()
	p.logger.Info("feed poller stopped")
}

// clearFetching forgets in-flight cycles, whose results will be dropped.
// Callers hold p.mu.
func (p *FeedPoller) clearFetching() {
	clear(p.fetching)
	conns := make(map[domain.Tier]domain.ConnectionStatus, len(p.view.Connections))
	for t, st := range p.view.Connections {
		st.Fetching = false
		conns[t] = st
	}
	p.view.Connections = conns
}

// Retry fires one extra cycle per adapter now. Scheduled ticks keep their
// original timing.
func (p *FeedPoller) Retry() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	ctx, gen := p.runCtx, p.gen
	p.mu.Unlock()

	p.logger.Debug("manual retry")
	for _, a := range p.adapters {
		go p.cycle(ctx, gen, a)
	}
}

func (p *FeedPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// View returns a copy of the consumer's current view.
func (p *FeedPoller) View() domain.FeedView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.Clone()
}

func (p *FeedPoller) loop(ctx context.Context, gen uint64, a provider.Adapter) {
	p.cycle(ctx, gen, a)

	ticker := time.NewTicker(p.cfg.interval(a.Tier()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx, gen, a)
		}
	}
}

// cycle runs IDLE -> FETCHING -> IDLE for one adapter.
func (p *FeedPoller) cycle(ctx context.Context, gen uint64, a provider.Adapter) {
	t := a.Tier()
	if !p.begin(gen, t) {
		return
	}

	ctx, span := p.tracer.Start(ctx, "feed-poller.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("tier", t.String()))

	res := p.fetch(ctx, a)
	if res.Err != nil {
		span.RecordError(res.Err)
		p.logger.Error("adapter returned unexpected error", "tier", t, "err", res.Err)
	}
	p.commit(gen, t, res)
}

// begin marks t as fetching. It refuses stale generations and cycles that
// would overlap one already in flight.
func (p *FeedPoller) begin(gen uint64, t domain.Tier) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.fetching[t] {
		return false
	}
	p.fetching[t] = true
	st := p.view.Connections[t]
	st.Fetching = true
	p.view.Connections[t] = st
	return true
}

// fetch calls the adapter, retrying failed results up to MaxRetryAttempts
// extra times with a fixed delay.
func (p *FeedPoller) fetch(ctx context.Context, a provider.Adapter) provider.Result {
	p.mu.Lock()
	ids := p.ids
	p.mu.Unlock()

	op := func() (provider.Result, error) {
		res := a.FetchSnapshots(ctx, ids)
		if res.Err != nil {
			return res, backoff.Permanent(res.Err)
		}
		if res.Failed() {
			return res, errors.New(res.Status.Message)
		}
		return res, nil
	}

	tries := uint(max(p.cfg.MaxRetryAttempts, 0) + 1)
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.cfg.RetryDelay)),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("fetch failed, retrying", "tier", a.Tier(), "err", err, "in", next)
		}),
	)
	if err != nil {
		p.logger.Debug("fetch gave up", "tier", a.Tier(), "err", err)
	}
	return res
}

// commit stores res and rebuilds the view. Results from a previous
// generation are dropped.
func (p *FeedPoller) commit(gen uint64, t domain.Tier, res provider.Result) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		p.logger.Debug("dropping result from stopped generation", "tier", t)
		return
	}
	p.fetching[t] = false
	p.results[t] = res
	prev := p.view.ActiveTier
	p.rebuild(time.Now())
	view := p.view.Clone()
	listeners := slices.Clone(p.listeners)
	p.mu.Unlock()

	if view.ActiveTier != prev {
		p.logger.Info("active tier changed", "from", prev, "to", view.ActiveTier)
	}
	for _, fn := range listeners {
		fn(view)
	}
}

// rebuild selects a tier and normalizes its payload, falling through to
// lower tiers when the selected payload yields nothing. Callers hold p.mu.
func (p *FeedPoller) rebuild(now time.Time) {
	conns := make(map[domain.Tier]domain.ConnectionStatus, len(p.adapters))
	for _, a := range p.adapters {
		t := a.Tier()
		st := a.Status()
		if res, ok := p.results[t]; ok {
			st = res.Status
		}
		st.Fetching = p.fetching[t]
		conns[t] = st
	}
	p.view.Connections = conns

	if t, records, ok := Best(p.results, conns); ok {
		p.view.Records = records
		p.view.ActiveTier = t
		p.view.LastUpdate = now
		p.view.Err = ""
		return
	}

	if res, ok := p.results[domain.TierStatic]; ok && res.Records == 0 {
		p.view.Records = nil
		p.view.ActiveTier = domain.TierStatic
		p.view.Err = domain.ErrNoData.Error()
	}
}

// Best normalizes the records of the selected tier, falling through to lower
// tiers when the selected one has no usable result.
func Best(results map[domain.Tier]provider.Result, conns map[domain.Tier]domain.ConnectionStatus) (domain.Tier, []domain.CryptoAssetSnapshot, bool) {
	selected := tier.Select(tier.Inputs{
		Exchange: conns[domain.TierExchange],
		REST:     conns[domain.TierREST],
		Static:   conns[domain.TierStatic],
	})
	for _, t := range append([]domain.Tier{selected}, tier.Fallbacks(selected)...) {
		res, ok := results[t]
		if !ok || res.Failed() {
			continue
		}
		if records := normalize.Normalize(t, res.Payload); len(records) > 0 {
			return t, records, true
		}
	}
	return 0, nil, false
}
