package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	coingeckoBaseURL      = "https://api.coingecko.com/api/v3"
	defaultRequestTimeout = 10 * time.Second
	defaultRateLimitPause = 60 * time.Second
	maxErrorBodyBytes     = 2 << 10
)

//go:generate mockgen -package=provider_test -destination=mock_http_doer_test.go -source=client.go HTTPDoer

// HTTPDoer is the subset of *http.Client the REST client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the rate-limited REST client shared by every REST caller.
type Client struct {
	http    HTTPDoer
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *Spacing
	tracer  trace.Tracer
	logger  *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(c *Client) {
		c.http = doer
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithAPIKey sends the demo API key header on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a REST client gated by limiter. A nil limiter gets a
// private one-second gate.
func NewClient(limiter *Spacing, opts ...ClientOption) *Client {
	if limiter == nil {
		limiter = NewSpacing(time.Second)
	}
	c := &Client{
		http:    &http.Client{},
		baseURL: coingeckoBaseURL,
		timeout: defaultRequestTimeout,
		limiter: limiter,
		tracer:  noop.NewTracerProvider().Tracer("provider"),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limiter exposes the spacing gate so other REST callers can share it.
func (c *Client) Limiter() *Spacing {
	return c.limiter
}

// Get issues a GET to path with params and returns the raw body. It waits
// for its turn on the shared limiter.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.get(ctx, path, params, true)
}

// GetNow is Get without queueing: it fails with ErrLimiterBusy when the
// limiter slot is not free right now.
func (c *Client) GetNow(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return c.get(ctx, path, params, false)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, queue bool) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "coingecko.get")
	defer span.End()
	span.SetAttributes(attribute.String("http.path", path), attribute.Bool("queued", queue))

	if queue {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	} else if !c.limiter.TryReserve() {
		span.SetStatus(codes.Error, ErrLimiterBusy.Error())
		return nil, ErrLimiterBusy
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = c.classify(ctx, reqCtx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: body}
		if httpErr.RateLimited() {
			pause := retryAfter(resp.Header.Get("Retry-After"))
			c.limiter.Penalize(pause)
			c.logger.Warn("rate limited by upstream", "path", path, "pause", pause)
		}
		span.SetStatus(codes.Error, httpErr.Error())
		return nil, httpErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = c.classify(ctx, reqCtx, err)
		span.RecordError(err)
		return nil, err
	}
	return body, nil
}

// classify maps transport failures onto the error taxonomy. Cancellation of
// the caller's own context is returned as-is.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	return &NetworkError{Err: err}
}

func retryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRateLimitPause
}
