package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"market-pulse/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

// exchangeLink is one reconnecting websocket connection to an exchange.
type exchangeLink struct {
	stream      ExchangeStream
	logger      *log.Logger
	pingTimeout time.Duration
	baseWait    time.Duration
	maxWait     time.Duration
	pairs       func() []string
	onTickers   func([]domain.ExchangeTicker)
	resub       chan struct{}

	writeMu sync.Mutex

	mu          sync.RWMutex
	state       domain.ConnState
	lastErr     string
	lastMessage time.Time
}

func newExchangeLink(stream ExchangeStream, cfg ExchangeConfig, logger *log.Logger,
	pairs func() []string, onTickers func([]domain.ExchangeTicker)) *exchangeLink {
	return &exchangeLink{
		stream:      stream,
		logger:      logger.With("exchange", stream.Name),
		pingTimeout: cfg.PingTimeout,
		baseWait:    cfg.ReconnectBaseWait,
		maxWait:     cfg.ReconnectMaxWait,
		pairs:       pairs,
		onTickers:   onTickers,
		resub:       make(chan struct{}, 1),
		state:       domain.StateDisconnected,
	}
}

// run keeps the link connected until ctx is cancelled.
func (l *exchangeLink) run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.baseWait
	bo.MaxInterval = l.maxWait

	for {
		healthy, err := l.session(ctx)
		if ctx.Err() != nil {
			l.setState(domain.StateDisconnected, "")
			return nil
		}
		if healthy {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = l.maxWait
		}
		l.setState(domain.StateReconnecting, errString(err))
		l.logger.Warn("exchange link dropped", "err", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.setState(domain.StateDisconnected, "")
			return nil
		case <-timer.C:
		}
	}
}

// session dials, subscribes and reads until the connection fails. healthy
// reports whether at least one frame was received.
func (l *exchangeLink) session(ctx context.Context) (bool, error) {
	l.setState(domain.StateConnecting, "")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.stream.URL, nil)
	if err != nil {
		l.setState(domain.StateError, err.Error())
		return false, err
	}
	defer conn.Close()

	if err := l.subscribe(conn); err != nil {
		return false, err
	}
	l.setState(domain.StateConnected, "")
	l.logger.Info("exchange link connected", "url", l.stream.URL)

	done := make(chan struct{})
	defer close(done)
	go l.writeLoop(ctx, conn, done)

	healthy := false
	for {
		if l.pingTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.pingTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return healthy, err
		}
		now := time.Now()
		healthy = true
		l.touch(now)

		tickers, err := l.stream.Decode(data, now)
		if err != nil {
			l.logger.Debug("undecodable frame", "err", err)
			continue
		}
		if len(tickers) > 0 {
			l.onTickers(tickers)
		}
	}
}

// writeLoop sends heartbeats and resubscriptions, and closes conn when ctx
// ends so the blocked read returns.
func (l *exchangeLink) writeLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	var heartbeat <-chan time.Time
	if len(l.stream.Heartbeat) > 0 && l.stream.HeartbeatEvery > 0 {
		ticker := time.NewTicker(l.stream.HeartbeatEvery)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			l.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			l.writeMu.Unlock()
			conn.Close()
			return
		case <-heartbeat:
			if err := l.write(conn, l.stream.Heartbeat); err != nil {
				l.logger.Debug("heartbeat failed", "err", err)
			}
		case <-l.resub:
			if err := l.subscribe(conn); err != nil {
				l.logger.Warn("resubscribe failed", "err", err)
			}
		}
	}
}

func (l *exchangeLink) subscribe(conn *websocket.Conn) error {
	if l.stream.Subscribe == nil {
		return nil
	}
	for _, frame := range l.stream.Subscribe(l.pairs()) {
		if err := l.write(conn, frame); err != nil {
			return err
		}
	}
	return nil
}

func (l *exchangeLink) write(conn *websocket.Conn, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// requestResubscribe asks a live session to resend its subscriptions.
func (l *exchangeLink) requestResubscribe() {
	select {
	case l.resub <- struct{}{}:
	default:
	}
}

func (l *exchangeLink) setState(state domain.ConnState, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	if msg != "" {
		l.lastErr = msg
	}
	if state == domain.StateConnected {
		l.lastErr = ""
	}
}

func (l *exchangeLink) touch(at time.Time) {
	l.mu.Lock()
	l.lastMessage = at
	l.mu.Unlock()
}

func (l *exchangeLink) status() domain.ConnectionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := domain.ConnectionStatus{State: l.state, Message: l.lastErr, LastSuccess: l.lastMessage}
	if l.state == domain.StateConnected {
		st.ActiveConnections = 1
	}
	return st
}

func (l *exchangeLink) connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == domain.StateConnected
}

func errString(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}
