package provider

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"market-pulse/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMarketsPageSize = 50

// CoinGeckoAdapter is the REST tier backed by the CoinGecko public API.
type CoinGeckoAdapter struct {
	client       *Client
	tracer       trace.Tracer
	logger       *log.Logger
	probe        bool
	status       *statusTracker
	globalStatus *statusTracker
	now          func() time.Time
}

// NewCoinGeckoAdapter creates the REST adapter. With probe set, every fetch
// is preceded by a /ping so an unreachable API fails fast.
func NewCoinGeckoAdapter(tracer trace.Tracer, client *Client, probe bool, logger *log.Logger) *CoinGeckoAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &CoinGeckoAdapter{
		client:       client,
		tracer:       tracer,
		logger:       logger,
		probe:        probe,
		status:       newStatusTracker(domain.StateConnecting),
		globalStatus: newStatusTracker(domain.StateConnecting),
		now:          time.Now,
	}
}

func (p *CoinGeckoAdapter) Tier() domain.Tier { return domain.TierREST }

func (p *CoinGeckoAdapter) Status() domain.ConnectionStatus { return p.status.get() }

// Ping is the lightweight connectivity probe.
func (p *CoinGeckoAdapter) Ping(ctx context.Context) error {
	_, err := p.client.Get(ctx, "/ping", nil)
	return err
}

// FetchSnapshots fetches market rows for ids via /coins/markets.
func (p *CoinGeckoAdapter) FetchSnapshots(ctx context.Context, ids []string) Result {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-snapshots")
	defer span.End()
	span.SetAttributes(attribute.Int("ids", len(ids)))

	if p.probe {
		if err := p.Ping(ctx); err != nil {
			return p.failure(ctx, "probe", err)
		}
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("sparkline", "true")
	params.Set("price_change_percentage", "24h")
	params.Set("order", "market_cap_desc")
	if len(ids) > 0 {
		params.Set("ids", strings.Join(ids, ","))
		params.Set("per_page", strconv.Itoa(len(ids)))
	} else {
		params.Set("per_page", strconv.Itoa(defaultMarketsPageSize))
	}

	body, err := p.client.Get(ctx, "/coins/markets", params)
	if err != nil {
		return p.failure(ctx, "fetch markets", err)
	}
	if !gjson.ValidBytes(body) {
		return p.failure(ctx, "parse markets", ErrMalformedPayload)
	}

	records := 0
	if parsed := gjson.ParseBytes(body); parsed.IsArray() {
		records = len(parsed.Array())
	}

	now := p.now()
	status := p.status.succeed(records, now)
	p.logger.Debug("fetched markets", "records", records)
	return Result{
		Tier:    domain.TierREST,
		Status:  status,
		Payload: domain.RawPayload{JSON: body, ReceivedAt: now},
		Records: records,
	}
}

// FetchGlobal fetches aggregate totals via /global.
func (p *CoinGeckoAdapter) FetchGlobal(ctx context.Context) GlobalResult {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-global")
	defer span.End()

	body, err := p.client.Get(ctx, "/global", nil)
	if err == nil && !gjson.ValidBytes(body) {
		err = ErrMalformedPayload
	}
	if err != nil {
		span.RecordError(err)
		p.logger.Warn("global fetch failed", "err", err)
		return GlobalResult{Status: p.globalStatus.fail(err), Err: unexpected(ctx, err)}
	}

	now := p.now()
	return GlobalResult{
		Status:  p.globalStatus.succeed(1, now),
		Payload: domain.RawPayload{JSON: body, ReceivedAt: now},
	}
}

// FetchPrices returns the /simple/price payload for ids. Errors are returned
// directly; this is an on-demand quote, not a tier fetch. It only uses a free
// limiter slot and fails with ErrLimiterBusy instead of queueing ahead of
// the pollers.
func (p *CoinGeckoAdapter) FetchPrices(ctx context.Context, ids []string) (domain.RawPayload, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-prices")
	defer span.End()

	if len(ids) == 0 {
		return domain.RawPayload{}, errors.New("fetch prices: no ids")
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_vol", "true")
	params.Set("include_24hr_change", "true")
	params.Set("include_market_cap", "true")
	params.Set("include_last_updated_at", "true")

	body, err := p.client.GetNow(ctx, "/simple/price", params)
	if err != nil {
		return domain.RawPayload{}, err
	}
	if !gjson.ValidBytes(body) {
		return domain.RawPayload{}, ErrMalformedPayload
	}
	return domain.RawPayload{JSON: body, ReceivedAt: p.now()}, nil
}

func (p *CoinGeckoAdapter) failure(ctx context.Context, op string, err error) Result {
	trace.SpanFromContext(ctx).RecordError(err)
	p.logger.Warn("rest tier fetch failed", "op", op, "err", err)
	return Result{
		Tier:   domain.TierREST,
		Status: p.status.fail(err),
		Err:    unexpected(ctx, err),
	}
}

// unexpected returns err only when it is neither an expected upstream
// failure nor the caller's own cancellation.
func unexpected(ctx context.Context, err error) error {
	if IsTransient(err) || ctx.Err() != nil {
		return nil
	}
	return err
}
