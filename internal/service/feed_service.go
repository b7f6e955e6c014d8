package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/domain"
	"market-pulse/internal/normalize"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownAsset means the id or symbol is neither in the feed nor known
// upstream.
var ErrUnknownAsset = errors.New("unknown asset")

type FeedSource interface {
	ID() string
	Start(ctx context.Context, ids []string)
	Stop()
	Retry()
	Running() bool
	View() domain.FeedView
	OnUpdate(fn func(domain.FeedView))
}

type GlobalSource interface {
	Start(ctx context.Context)
	Stop()
	Retry()
	View() domain.GlobalView
	OnUpdate(fn func(domain.GlobalView))
}

// PriceFetcher answers one-off quotes outside the polled id set.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, ids []string) (domain.RawPayload, error)
}

// LinkReporter exposes per-exchange websocket status.
type LinkReporter interface {
	LinkStatuses() map[string]domain.ConnectionStatus
}

type Mirror interface {
	WriteView(ctx context.Context, view domain.FeedView) error
	WriteGlobal(ctx context.Context, view domain.GlobalView) error
	PublishTierChange(ctx context.Context, ev cache.TierEvent) error
}

// StatusReport is the connection summary served to every consumer.
type StatusReport struct {
	ConsumerID  string                                  `json:"consumer_id"`
	Running     bool                                    `json:"running"`
	ActiveTier  domain.Tier                             `json:"active_tier"`
	Connections map[domain.Tier]domain.ConnectionStatus `json:"connections"`
	Exchanges   map[string]domain.ConnectionStatus      `json:"exchanges,omitempty"`
	Global      domain.ConnectionStatus                 `json:"global"`
	Records     int                                     `json:"records"`
	LastUpdate  time.Time                               `json:"last_update,omitzero"`
	Err         string                                  `json:"error,omitempty"`
}

const mirrorTimeout = 2 * time.Second

// FeedService is the consumer-facing facade over the pollers.
type FeedService struct {
	tracer trace.Tracer
	logger *log.Logger
	feed   FeedSource
	global GlobalSource
	prices PriceFetcher
	links  LinkReporter
	mirror Mirror

	mu       sync.Mutex
	ids      []string
	lastTier domain.Tier
	seenTier bool
}

// NewFeedService wires the pollers. links and mirror may be nil.
func NewFeedService(
	tracer trace.Tracer,
	feed FeedSource,
	global GlobalSource,
	prices PriceFetcher,
	links LinkReporter,
	mirror Mirror,
	logger *log.Logger,
) *FeedService {
	if logger == nil {
		logger = log.Default()
	}
	s := &FeedService{
		tracer: tracer,
		logger: logger,
		feed:   feed,
		global: global,
		prices: prices,
		links:  links,
		mirror: mirror,
	}
	feed.OnUpdate(s.onFeedUpdate)
	if global != nil {
		global.OnUpdate(s.onGlobalUpdate)
	}
	return s
}

// Start begins polling ids and the global totals.
func (s *FeedService) Start(ctx context.Context, ids []string) {
	s.mu.Lock()
	s.ids = append([]string(nil), ids...)
	s.mu.Unlock()

	s.feed.Start(ctx, ids)
	if s.global != nil {
		s.global.Start(ctx)
	}
}

func (s *FeedService) Stop() {
	s.feed.Stop()
	if s.global != nil {
		s.global.Stop()
	}
}

// Retry triggers an immediate refresh of every tier and the global totals.
func (s *FeedService) Retry() {
	s.feed.Retry()
	if s.global != nil {
		s.global.Retry()
	}
}

func (s *FeedService) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func (s *FeedService) View() domain.FeedView {
	return s.feed.View()
}

func (s *FeedService) Global() domain.GlobalView {
	if s.global == nil {
		return domain.GlobalView{Status: domain.ConnectionStatus{State: domain.StateDisconnected}}
	}
	return s.global.View()
}

// Snapshot looks up idOrSymbol in the current view only.
func (s *FeedService) Snapshot(idOrSymbol string) (domain.CryptoAssetSnapshot, error) {
	if snap, ok := findSnapshot(s.feed.View().Records, idOrSymbol); ok {
		return snap, nil
	}
	return domain.CryptoAssetSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownAsset, idOrSymbol)
}

// Quote answers from the current view when possible, otherwise with one
// rate-limited quote request.
func (s *FeedService) Quote(ctx context.Context, idOrSymbol string) (domain.CryptoAssetSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "feed-service.quote")
	defer span.End()
	span.SetAttributes(attribute.String("asset", idOrSymbol))

	if snap, err := s.Snapshot(idOrSymbol); err == nil {
		return snap, nil
	}
	if s.prices == nil {
		return domain.CryptoAssetSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownAsset, idOrSymbol)
	}

	id := resolveID(idOrSymbol)
	payload, err := s.prices.FetchPrices(ctx, []string{id})
	if err != nil {
		span.RecordError(err)
		return domain.CryptoAssetSnapshot{}, fmt.Errorf("quote %s: %w", id, err)
	}
	if snap, ok := findSnapshot(normalize.Normalize(domain.TierREST, payload), id); ok {
		return snap, nil
	}
	return domain.CryptoAssetSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownAsset, idOrSymbol)
}

// Status summarizes the feed, its tiers and the global poller.
func (s *FeedService) Status() StatusReport {
	view := s.feed.View()
	report := StatusReport{
		ConsumerID:  view.ConsumerID,
		Running:     s.feed.Running(),
		ActiveTier:  view.ActiveTier,
		Connections: view.Connections,
		Global:      s.Global().Status,
		Records:     len(view.Records),
		LastUpdate:  view.LastUpdate,
		Err:         view.Err,
	}
	if s.links != nil {
		report.Exchanges = s.links.LinkStatuses()
	}
	return report
}

func (s *FeedService) onFeedUpdate(view domain.FeedView) {
	s.mu.Lock()
	changed := s.seenTier && view.ActiveTier != s.lastTier
	from := s.lastTier
	s.lastTier, s.seenTier = view.ActiveTier, true
	s.mu.Unlock()

	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.WriteView(ctx, view); err != nil {
			s.logger.Warn("mirror view failed", "err", err)
		}
		if changed {
			ev := cache.TierEvent{ConsumerID: view.ConsumerID, From: from, To: view.ActiveTier, At: time.Now().UTC()}
			if err := s.mirror.PublishTierChange(ctx, ev); err != nil {
				s.logger.Warn("publish tier change failed", "err", err)
			}
		}
	}()
}

func (s *FeedService) onGlobalUpdate(view domain.GlobalView) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.WriteGlobal(ctx, view); err != nil {
			s.logger.Warn("mirror global failed", "err", err)
		}
	}()
}

func findSnapshot(records []domain.CryptoAssetSnapshot, idOrSymbol string) (domain.CryptoAssetSnapshot, bool) {
	key := strings.TrimSpace(idOrSymbol)
	for _, r := range records {
		if strings.EqualFold(r.ID, key) || strings.EqualFold(r.Symbol, key) {
			return r, true
		}
	}
	return domain.CryptoAssetSnapshot{}, false
}

// resolveID maps a ticker symbol to its id when it is a known asset.
func resolveID(idOrSymbol string) string {
	key := strings.TrimSpace(idOrSymbol)
	if a, ok := domain.AssetBySymbol(strings.ToUpper(key)); ok {
		return a.ID
	}
	return strings.ToLower(key)
}
