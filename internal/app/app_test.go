package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-pulse/internal/config"
	"market-pulse/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

const marketsBody = `[
	{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":64000,"price_change_percentage_24h":1.2,"total_volume":3e10,"market_cap":1.2e12},
	{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3100,"price_change_percentage_24h":-6,"total_volume":1e10,"market_cap":3.7e11}
]`

const globalBody = `{"data":{"active_cryptocurrencies":9000,"total_market_cap":{"usd":2.4e12},"total_volume":{"usd":9e10},"market_cap_percentage":{"btc":51.5},"market_cap_change_percentage_24h_usd":0.8,"updated_at":1700000000}}`

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/coins/markets":
			_, _ = io.WriteString(w, marketsBody)
		case "/global":
			_, _ = io.WriteString(w, globalBody)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		AssetIDs:         []string{"bitcoin", "ethereum"},
		ExchangeInterval: time.Hour,
		RESTInterval:     time.Hour,
		StaticInterval:   time.Hour,
		GlobalInterval:   time.Hour,
		CoinGeckoBaseURL: baseURL,
		RESTTimeout:      time.Second,
		RESTSpacing:      time.Millisecond,
	}
}

func TestAppServesRESTTierWithoutExchanges(t *testing.T) {
	srv := upstream(t)
	tracer := noop.NewTracerProvider().Tracer("test")

	a, err := New(context.Background(), testConfig(srv.URL), tracer, log.New(io.Discard))
	require.NoError(t, err)
	require.Nil(t, a.Exchange)

	a.Run(context.Background())
	defer a.Close()

	require.Eventually(t, func() bool {
		v := a.Feed.View()
		return v.ActiveTier == domain.TierREST && len(v.Records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		g := a.Feed.Global()
		return g.Record != nil && g.Record.ActiveCryptocurrencies == 9000
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppFallsBackToStaticWhenUpstreamFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := New(context.Background(), testConfig(srv.URL), noop.NewTracerProvider().Tracer("test"), log.New(io.Discard))
	require.NoError(t, err)
	a.Run(context.Background())
	defer a.Close()

	require.Eventually(t, func() bool {
		v := a.Feed.View()
		return v.ActiveTier == domain.TierStatic && len(v.Records) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppRejectsUnknownStream(t *testing.T) {
	cfg := testConfig("http://example")
	cfg.ExchangeStreams = []string{"kraken"}

	_, err := New(context.Background(), cfg, noop.NewTracerProvider().Tracer("test"), log.New(io.Discard))
	require.ErrorContains(t, err, "unknown exchange stream")
}

func TestAppRunsWithoutRedis(t *testing.T) {
	orig := openRedis
	defer func() { openRedis = orig }()
	openRedis = func(context.Context, string) (*redis.Client, error) {
		return nil, errors.New("connection refused")
	}

	cfg := testConfig("http://example")
	cfg.RedisURL = "redis://localhost:6379/0"
	cfg.ExchangeStreams = []string{"binance"}

	a, err := New(context.Background(), cfg, noop.NewTracerProvider().Tracer("test"), log.New(io.Discard))
	require.NoError(t, err)
	require.NotNil(t, a.Exchange)
	require.Nil(t, a.redis)
}
