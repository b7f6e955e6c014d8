package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"market-pulse/internal/app"
	"market-pulse/internal/config"
	"market-pulse/internal/logging"
	"market-pulse/pkg/tracing"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	initTracerFunc = tracing.InitTracer
	newAppFunc     = app.New
	runAppFunc     = func(a *app.App, ctx context.Context) { a.Run(ctx) }
	runStdioFunc   = func(ctx context.Context, s *mcp.Server) error {
		return s.Run(ctx, &mcp.StdioTransport{})
	}
	startHTTPServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
	notifyContextFunc   = ossignal.NotifyContext
	exitFunc            = os.Exit
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		exitFunc(1)
	}
}

func run() error {
	_ = loadEnvFunc()
	cfg, err := loadConfigFunc()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := notifyContextFunc(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "market-pulse-mcp",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down tracer provider", "err", err)
		}
	}()

	a, err := newAppFunc(ctx, cfg, tracer, logger)
	if err != nil {
		return err
	}
	runAppFunc(a, ctx)
	defer a.Close()

	timeout := time.Duration(cfg.MCPRequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	server := newServer(a.Feed, timeout, version)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MCPTransport == "http" || cfg.MCPHTTPEnabled {
		srv := &http.Server{
			Addr:              net.JoinHostPort(cfg.MCPHTTPBind, strconv.Itoa(cfg.MCPHTTPPort)),
			Handler:           bearerAuth(cfg.MCPAuthToken, mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("MCP HTTP listening", "addr", srv.Addr)
			if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mcp http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if cfg.MCPTransport != "http" {
		g.Go(func() error {
			logger.Info("MCP stdio session started")
			err := runStdioFunc(ctx, server)
			stop()
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("MCP server exited")
	return err
}

// bearerAuth requires "Authorization: Bearer <token>" when token is set.
func bearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warn("MCP request rejected", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
