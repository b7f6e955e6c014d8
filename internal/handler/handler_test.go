package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"market-pulse/internal/domain"
	"market-pulse/internal/provider"
	"market-pulse/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace/noop"
)

type feedStub struct {
	view    domain.FeedView
	global  domain.GlobalView
	status  service.StatusReport
	quote   func(string) (domain.CryptoAssetSnapshot, error)
	retries int
}

func (f *feedStub) View() domain.FeedView        { return f.view }
func (f *feedStub) Status() service.StatusReport { return f.status }
func (f *feedStub) Global() domain.GlobalView    { return f.global }
func (f *feedStub) Retry()                       { f.retries++ }

func (f *feedStub) Quote(_ context.Context, id string) (domain.CryptoAssetSnapshot, error) {
	return f.quote(id)
}

func newRouter(feed FeedAPI, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(noop.NewTracerProvider().Tracer("test"), feed, apiKey).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func sampleView() domain.FeedView {
	return domain.FeedView{
		ConsumerID: "c1",
		ActiveTier: domain.TierREST,
		Records: []domain.CryptoAssetSnapshot{
			{ID: "bitcoin", Symbol: "BTC", PriceUSD: 100, Risk: domain.RiskLow},
			{ID: "ethereum", Symbol: "ETH", PriceUSD: 10, Risk: domain.RiskMedium},
		},
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(&feedStub{view: sampleView()}, "")

	w := do(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["status"] != "healthy" || body["active_tier"] != "REST" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetSnapshots(t *testing.T) {
	r := newRouter(&feedStub{view: sampleView()}, "")

	w := do(r, http.MethodGet, "/api/snapshots", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp SnapshotsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.ActiveTier != domain.TierREST || len(resp.Records) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = do(r, http.MethodGet, "/api/snapshots?ids=eth", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Records) != 1 || resp.Records[0].ID != "ethereum" {
		t.Fatalf("expected filter by symbol, got %+v", resp.Records)
	}
}

func TestGetSnapshotsNoData(t *testing.T) {
	r := newRouter(&feedStub{view: domain.FeedView{Err: domain.ErrNoData.Error()}}, "")

	if w := do(r, http.MethodGet, "/api/snapshots", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestGetSnapshot(t *testing.T) {
	feed := &feedStub{quote: func(id string) (domain.CryptoAssetSnapshot, error) {
		switch id {
		case "bitcoin":
			return domain.CryptoAssetSnapshot{ID: "bitcoin", Symbol: "BTC"}, nil
		case "down":
			return domain.CryptoAssetSnapshot{}, errors.New("coingecko API error 500")
		case "busy":
			return domain.CryptoAssetSnapshot{}, fmt.Errorf("quote busy: %w", provider.ErrLimiterBusy)
		default:
			return domain.CryptoAssetSnapshot{}, fmt.Errorf("%w: %s", service.ErrUnknownAsset, id)
		}
	}}
	r := newRouter(feed, "")

	tests := map[string]int{
		"/api/snapshots/bitcoin": http.StatusOK,
		"/api/snapshots/nope":    http.StatusNotFound,
		"/api/snapshots/down":    http.StatusBadGateway,
		"/api/snapshots/busy":    http.StatusTooManyRequests,
	}
	for path, want := range tests {
		if w := do(r, http.MethodGet, path, nil); w.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, w.Code)
		}
	}
}

func TestGetGlobal(t *testing.T) {
	feed := &feedStub{}
	r := newRouter(feed, "")
	if w := do(r, http.MethodGet, "/api/global", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first fetch, got %d", w.Code)
	}

	feed.global = domain.GlobalView{Record: &domain.GlobalMarketSnapshot{ActiveCryptocurrencies: 5}}
	if w := do(r, http.MethodGet, "/api/global", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetStatus(t *testing.T) {
	feed := &feedStub{status: service.StatusReport{ConsumerID: "c1", ActiveTier: domain.TierStatic, Running: true}}
	r := newRouter(feed, "")

	w := do(r, http.MethodGet, "/api/status", nil)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusOK || body["active_tier"] != "STATIC" || body["running"] != true {
		t.Fatalf("unexpected status response %d: %s", w.Code, w.Body.String())
	}
}

func TestRetryRequiresAPIKey(t *testing.T) {
	feed := &feedStub{}
	r := newRouter(feed, "secret")

	if w := do(r, http.MethodPost, "/api/retry", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/retry", http.Header{"X-Api-Key": {"wrong"}}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong key, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/retry", http.Header{"X-Api-Key": {"secret"}}); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with key, got %d", w.Code)
	}
	if feed.retries != 1 {
		t.Fatalf("expected one retry, got %d", feed.retries)
	}
}

func TestRetryOpenWithoutAPIKey(t *testing.T) {
	feed := &feedStub{}
	r := newRouter(feed, "")
	if w := do(r, http.MethodPost, "/api/retry", nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
}
