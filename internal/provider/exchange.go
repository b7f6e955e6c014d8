package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"market-pulse/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ExchangeConfig tunes the exchange aggregator.
type ExchangeConfig struct {
	Pairs             []string
	MaxAge            time.Duration
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	PingTimeout       time.Duration
}

func (c ExchangeConfig) withDefaults() ExchangeConfig {
	if c.MaxAge <= 0 {
		c.MaxAge = 60 * time.Second
	}
	if c.ReconnectBaseWait <= 0 {
		c.ReconnectBaseWait = time.Second
	}
	if c.ReconnectMaxWait <= 0 {
		c.ReconnectMaxWait = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 60 * time.Second
	}
	return c
}

var errNoExchangeLinks = errors.New("no active exchange connections")

// ExchangeAggregator is the live tier. It merges ticker streams from several
// exchanges into one ticker per pair.
type ExchangeAggregator struct {
	tracer trace.Tracer
	logger *log.Logger
	cfg    ExchangeConfig
	links  []*exchangeLink
	now    func() time.Time

	mu    sync.RWMutex
	book  map[string]map[string]domain.ExchangeTicker // pair -> exchange -> ticker
	pairs map[string]struct{}
}

func NewExchangeAggregator(tracer trace.Tracer, streams []ExchangeStream, cfg ExchangeConfig, logger *log.Logger) *ExchangeAggregator {
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()
	a := &ExchangeAggregator{
		tracer: tracer,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		book:   make(map[string]map[string]domain.ExchangeTicker),
		pairs:  make(map[string]struct{}),
	}
	for _, p := range cfg.Pairs {
		a.pairs[strings.ToUpper(p)] = struct{}{}
	}
	for _, s := range streams {
		a.links = append(a.links, newExchangeLink(s, cfg, logger, a.watchedPairs, a.update))
	}
	return a
}

func (a *ExchangeAggregator) Tier() domain.Tier { return domain.TierExchange }

// Run connects every link and blocks until ctx is cancelled.
func (a *ExchangeAggregator) Run(ctx context.Context) error {
	if len(a.links) == 0 {
		return errNoExchangeLinks
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range a.links {
		g.Go(func() error { return l.run(ctx) })
	}
	return g.Wait()
}

func (a *ExchangeAggregator) watchedPairs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.pairs))
	for p := range a.pairs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// watch adds pairs and reports whether any were new.
func (a *ExchangeAggregator) watch(pairs []string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	added := false
	for _, p := range pairs {
		if _, ok := a.pairs[p]; !ok {
			a.pairs[p] = struct{}{}
			added = true
		}
	}
	return added
}

func (a *ExchangeAggregator) update(tickers []domain.ExchangeTicker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range tickers {
		pair := strings.ToUpper(t.Pair)
		byExchange, ok := a.book[pair]
		if !ok {
			byExchange = make(map[string]domain.ExchangeTicker)
			a.book[pair] = byExchange
		}
		byExchange[t.Exchange] = t
	}
}

// aggregate merges fresh tickers for pairs, or for every pair when pairs is
// empty. Stale entries are evicted.
func (a *ExchangeAggregator) aggregate(pairs []string) []domain.ExchangeTicker {
	cutoff := a.now().Add(-a.cfg.MaxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(pairs) == 0 {
		for p := range a.book {
			pairs = append(pairs, p)
		}
		sort.Strings(pairs)
	}

	out := make([]domain.ExchangeTicker, 0, len(pairs))
	for _, pair := range pairs {
		byExchange := a.book[pair]
		var fresh []domain.ExchangeTicker
		for name, t := range byExchange {
			if t.ReceivedAt.Before(cutoff) {
				delete(byExchange, name)
				continue
			}
			fresh = append(fresh, t)
		}
		if len(fresh) == 0 {
			continue
		}
		out = append(out, mergeTickers(pair, fresh))
	}
	return out
}

// mergeTickers averages last price and change and sums volume.
func mergeTickers(pair string, tickers []domain.ExchangeTicker) domain.ExchangeTicker {
	var (
		last, change, volume decimal.Decimal
		names                []string
		newest               time.Time
	)
	for _, t := range tickers {
		last = last.Add(parseDecimal(t.Last))
		change = change.Add(parseDecimal(t.ChangePct))
		volume = volume.Add(parseDecimal(t.Volume))
		names = append(names, t.Exchange)
		if t.ReceivedAt.After(newest) {
			newest = t.ReceivedAt
		}
	}
	n := decimal.NewFromInt(int64(len(tickers)))
	slices.Sort(names)
	return domain.ExchangeTicker{
		Exchange:   strings.Join(names, ","),
		Pair:       pair,
		Last:       last.Div(n).String(),
		ChangePct:  change.Div(n).StringFixed(4),
		Volume:     volume.String(),
		ReceivedAt: newest,
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FetchSnapshots returns the merged tickers for ids. New pairs are added to
// the live subscriptions and show up on a later fetch.
func (a *ExchangeAggregator) FetchSnapshots(ctx context.Context, ids []string) Result {
	_, span := a.tracer.Start(ctx, "exchange.fetch-snapshots")
	defer span.End()

	pairs := domain.PairsForIDs(ids)
	if a.watch(pairs) {
		for _, l := range a.links {
			l.requestResubscribe()
		}
	}

	// Ids with no exchange pair get nothing, not the whole book.
	var tickers []domain.ExchangeTicker
	if len(ids) == 0 || len(pairs) > 0 {
		tickers = a.aggregate(pairs)
	}
	status := a.Status()
	status.Records = len(tickers)
	span.SetAttributes(
		attribute.Int("records", len(tickers)),
		attribute.Int("active_connections", status.ActiveConnections),
	)
	if status.ActiveConnections == 0 {
		status.Records = 0
		return Result{Tier: domain.TierExchange, Status: status}
	}
	return Result{
		Tier:    domain.TierExchange,
		Status:  status,
		Payload: domain.RawPayload{Tickers: tickers, ReceivedAt: a.now()},
		Records: len(tickers),
	}
}

// ActiveConnections counts links with an open session.
func (a *ExchangeAggregator) ActiveConnections() int {
	n := 0
	for _, l := range a.links {
		if l.connected() {
			n++
		}
	}
	return n
}

// Status summarizes all links.
func (a *ExchangeAggregator) Status() domain.ConnectionStatus {
	st := domain.ConnectionStatus{State: domain.StateDisconnected}
	if len(a.links) == 0 {
		st.State = domain.StateError
		st.Message = errNoExchangeLinks.Error()
		return st
	}

	var (
		pending  bool
		messages []string
	)
	for _, l := range a.links {
		ls := l.status()
		st.ActiveConnections += ls.ActiveConnections
		if ls.LastSuccess.After(st.LastSuccess) {
			st.LastSuccess = ls.LastSuccess
		}
		switch ls.State {
		case domain.StateConnecting, domain.StateReconnecting:
			pending = true
		}
		if ls.Message != "" {
			messages = append(messages, fmt.Sprintf("%s: %s", l.stream.Name, ls.Message))
		}
	}

	switch {
	case st.ActiveConnections == len(a.links):
		st.State = domain.StateConnected
	case st.ActiveConnections > 0:
		st.State = domain.StateReconnecting
	case pending:
		st.State = domain.StateConnecting
	default:
		st.State = domain.StateError
	}
	if st.State != domain.StateConnected {
		st.Message = strings.Join(messages, "; ")
		if st.State == domain.StateError && st.Message == "" {
			st.Message = errNoExchangeLinks.Error()
		}
	}

	a.mu.RLock()
	cutoff := a.now().Add(-a.cfg.MaxAge)
	for _, byExchange := range a.book {
		for _, t := range byExchange {
			if !t.ReceivedAt.Before(cutoff) {
				st.Records++
				break
			}
		}
	}
	a.mu.RUnlock()
	return st
}

// LinkStatuses reports each link keyed by exchange name.
func (a *ExchangeAggregator) LinkStatuses() map[string]domain.ConnectionStatus {
	out := make(map[string]domain.ConnectionStatus, len(a.links))
	for _, l := range a.links {
		out[l.stream.Name] = l.status()
	}
	return out
}
