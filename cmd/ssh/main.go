package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"market-pulse/internal/app"
	"market-pulse/internal/config"
	"market-pulse/internal/logging"
	"market-pulse/internal/tui"
	"market-pulse/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	wishlog "github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	newAppFunc        = app.New
	runAppFunc        = func(a *app.App, ctx context.Context) { a.Run(ctx) }
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
	exitFunc          = os.Exit
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "market-pulse-ssh",
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("error shutting down tracer provider", "err", err)
		}
	}()

	keys, err := parseAllowedKeys(cfg.SSHAllowedKeys)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		logger.Warn("SSH_ALLOWED_KEYS is empty, every login will be refused")
	}

	a, err := newAppFunc(ctx, cfg, tracer, logger)
	if err != nil {
		return err
	}
	runAppFunc(a, ctx)
	defer a.Close()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)
	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(keys.handler(logger)),
		wish.WithMiddleware(
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				user, _ := s.Context().Value(sshUserKey).(string)
				logger.Debug("dashboard session opened", "user", user)

				model := tui.NewModel(a.Feed, time.Second)
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)

				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			wishlog.StructuredMiddlewareWithLogger(logger, log.InfoLevel),
		),
	)
	if err != nil {
		return fmt.Errorf("create SSH server: %w", err)
	}

	if srv != nil {
		go func() {
			logger.Info("SSH server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
				logger.Error("SSH server stopped", "err", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info("Shutting down SSH server...")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("SSH server shutdown error", "err", err)
		}
	}

	logger.Info("SSH server exited")
	return nil
}
