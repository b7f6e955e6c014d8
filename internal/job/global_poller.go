package job

import (
	"context"
	"sync"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/normalize"
	"market-pulse/internal/provider"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
)

const defaultGlobalInterval = 5 * time.Minute

// GlobalPoller refreshes aggregate market totals on a slow cadence,
// independent of the per-asset feed. There is no fallback tier.
type GlobalPoller struct {
	tracer   trace.Tracer
	logger   *log.Logger
	fetcher  provider.GlobalFetcher
	interval time.Duration

	mu        sync.Mutex
	gen       uint64
	running   bool
	fetching  bool
	runCtx    context.Context
	cancel    context.CancelFunc
	view      domain.GlobalView
	listeners []func(domain.GlobalView)
}

func NewGlobalPoller(tracer trace.Tracer, fetcher provider.GlobalFetcher, interval time.Duration, logger *log.Logger) *GlobalPoller {
	if interval <= 0 {
		interval = defaultGlobalInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &GlobalPoller{
		tracer:   tracer,
		logger:   logger,
		fetcher:  fetcher,
		interval: interval,
		view:     domain.GlobalView{Status: domain.ConnectionStatus{State: domain.StateConnecting}},
	}
}

func (g *GlobalPoller) OnUpdate(fn func(domain.GlobalView)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

func (g *GlobalPoller) Start(ctx context.Context) {
	g.mu.Lock()
	if g.cancel != nil {
		g.cancel()
	}
	g.gen++
	gen := g.gen
	runCtx, cancel := context.WithCancel(ctx)
	g.runCtx, g.cancel, g.running, g.fetching = runCtx, cancel, true, false
	g.mu.Unlock()

	go g.loop(runCtx, gen)
}

func (g *GlobalPoller) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return
	}
	g.cancel()
	g.cancel = nil
	g.gen++
	g.running = false
	g.fetching = false
}

// Retry fetches once now without moving the schedule.
func (g *GlobalPoller) Retry() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	ctx, gen := g.runCtx, g.gen
	g.mu.Unlock()
	go g.runOnce(ctx, gen)
}

func (g *GlobalPoller) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *GlobalPoller) View() domain.GlobalView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneGlobal(g.view)
}

func (g *GlobalPoller) loop(ctx context.Context, gen uint64) {
	g.runOnce(ctx, gen)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.runOnce(ctx, gen)
		}
	}
}

func (g *GlobalPoller) runOnce(ctx context.Context, gen uint64) {
	g.mu.Lock()
	if gen != g.gen || g.fetching {
		g.mu.Unlock()
		return
	}
	g.fetching = true
	g.view.Status.Fetching = true
	g.mu.Unlock()

	ctx, span := g.tracer.Start(ctx, "global-poller.run-once")
	defer span.End()

	res := g.fetcher.FetchGlobal(ctx)
	var snap *domain.GlobalMarketSnapshot
	if res.Status.State != domain.StateError {
		if s, ok := normalize.NormalizeGlobal(res.Payload); ok {
			snap = &s
		} else {
			res.Status = domain.ConnectionStatus{
				State:       domain.StateError,
				Message:     provider.ErrMalformedPayload.Error(),
				LastSuccess: g.View().Status.LastSuccess,
			}
		}
	}

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.fetching = false
	g.view.Status = res.Status
	if snap != nil {
		g.view.Record = snap
		g.view.LastUpdate = time.Now()
	}
	view := cloneGlobal(g.view)
	listeners := append([]func(domain.GlobalView){}, g.listeners...)
	g.mu.Unlock()

	if res.Status.State == domain.StateError {
		g.logger.Warn("global market refresh failed", "err", res.Status.Message)
	}
	for _, fn := range listeners {
		fn(view)
	}
}

func cloneGlobal(v domain.GlobalView) domain.GlobalView {
	if v.Record != nil {
		rec := *v.Record
		rec.MarketCapPercentage = make(map[string]float64, len(v.Record.MarketCapPercentage))
		for k, pct := range v.Record.MarketCapPercentage {
			rec.MarketCapPercentage[k] = pct
		}
		v.Record = &rec
	}
	return v
}
