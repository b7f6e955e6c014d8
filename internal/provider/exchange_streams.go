package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-pulse/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ExchangeStream describes one upstream exchange ticker feed.
type ExchangeStream struct {
	Name string
	URL  string
	// Subscribe builds the frames that subscribe pairs such as "BTCUSDT".
	Subscribe func(pairs []string) [][]byte
	// Decode turns one websocket frame into tickers. Frames that carry no
	// ticker data (acks, pongs) decode to an empty slice.
	Decode func(data []byte, receivedAt time.Time) ([]domain.ExchangeTicker, error)
	// Heartbeat is sent every HeartbeatEvery when set.
	Heartbeat      []byte
	HeartbeatEvery time.Duration
}

const (
	binanceStreamURL = "wss://stream.binance.com:9443/ws"
	bybitStreamURL   = "wss://stream.bybit.com/v5/public/spot"
	okxStreamURL     = "wss://ws.okx.com:8443/ws/v5/public"
)

var hundred = decimal.NewFromInt(100)

// BinanceStream subscribes to per-pair 24h ticker streams.
func BinanceStream(url string) ExchangeStream {
	if url == "" {
		url = binanceStreamURL
	}
	return ExchangeStream{
		Name: "binance",
		URL:  url,
		Subscribe: func(pairs []string) [][]byte {
			if len(pairs) == 0 {
				return nil
			}
			params := make([]string, len(pairs))
			for i, p := range pairs {
				params[i] = strings.ToLower(p) + "@ticker"
			}
			frame, _ := json.Marshal(map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1})
			return [][]byte{frame}
		},
		Decode: decodeBinance,
	}
}

func decodeBinance(data []byte, receivedAt time.Time) ([]domain.ExchangeTicker, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedPayload
	}
	parsed := gjson.ParseBytes(data)
	rows := []gjson.Result{parsed}
	if parsed.IsArray() {
		rows = parsed.Array()
	}
	out := make([]domain.ExchangeTicker, 0, len(rows))
	for _, row := range rows {
		if row.Get("e").String() != "24hrTicker" {
			continue
		}
		out = append(out, domain.ExchangeTicker{
			Exchange:   "binance",
			Pair:       strings.ToUpper(row.Get("s").String()),
			Last:       row.Get("c").String(),
			ChangePct:  row.Get("P").String(),
			Volume:     row.Get("q").String(),
			ReceivedAt: receivedAt,
		})
	}
	return out, nil
}

// BybitStream subscribes to the v5 spot tickers topic.
func BybitStream(url string) ExchangeStream {
	if url == "" {
		url = bybitStreamURL
	}
	return ExchangeStream{
		Name: "bybit",
		URL:  url,
		Subscribe: func(pairs []string) [][]byte {
			if len(pairs) == 0 {
				return nil
			}
			// Bybit caps args per request at 10.
			var frames [][]byte
			for start := 0; start < len(pairs); start += 10 {
				end := min(start+10, len(pairs))
				args := make([]string, 0, end-start)
				for _, p := range pairs[start:end] {
					args = append(args, "tickers."+strings.ToUpper(p))
				}
				frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
				frames = append(frames, frame)
			}
			return frames
		},
		Decode:         decodeBybit,
		Heartbeat:      []byte(`{"op":"ping"}`),
		HeartbeatEvery: 20 * time.Second,
	}
}

func decodeBybit(data []byte, receivedAt time.Time) ([]domain.ExchangeTicker, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedPayload
	}
	parsed := gjson.ParseBytes(data)
	if !strings.HasPrefix(parsed.Get("topic").String(), "tickers.") {
		return nil, nil
	}
	row := parsed.Get("data")
	if !row.Exists() {
		return nil, nil
	}
	change := ""
	if pct, err := decimal.NewFromString(row.Get("price24hPcnt").String()); err == nil {
		change = pct.Mul(hundred).String()
	}
	return []domain.ExchangeTicker{{
		Exchange:   "bybit",
		Pair:       strings.ToUpper(row.Get("symbol").String()),
		Last:       row.Get("lastPrice").String(),
		ChangePct:  change,
		Volume:     row.Get("turnover24h").String(),
		ReceivedAt: receivedAt,
	}}, nil
}

// OKXStream subscribes to the v5 public tickers channel.
func OKXStream(url string) ExchangeStream {
	if url == "" {
		url = okxStreamURL
	}
	return ExchangeStream{
		Name: "okx",
		URL:  url,
		Subscribe: func(pairs []string) [][]byte {
			if len(pairs) == 0 {
				return nil
			}
			args := make([]map[string]string, 0, len(pairs))
			for _, p := range pairs {
				args = append(args, map[string]string{"channel": "tickers", "instId": okxInstrument(p)})
			}
			frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
			return [][]byte{frame}
		},
		Decode:         decodeOKX,
		Heartbeat:      []byte("ping"),
		HeartbeatEvery: 25 * time.Second,
	}
}

func okxInstrument(pair string) string {
	base, ok := domain.SplitPair(pair)
	if !ok {
		return strings.ToUpper(pair)
	}
	return base + "-" + strings.TrimPrefix(strings.ToUpper(pair), base)
}

func decodeOKX(data []byte, receivedAt time.Time) ([]domain.ExchangeTicker, error) {
	if string(data) == "pong" {
		return nil, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedPayload
	}
	parsed := gjson.ParseBytes(data)
	if parsed.Get("arg.channel").String() != "tickers" {
		return nil, nil
	}
	var out []domain.ExchangeTicker
	for _, row := range parsed.Get("data").Array() {
		change := ""
		last, errLast := decimal.NewFromString(row.Get("last").String())
		open, errOpen := decimal.NewFromString(row.Get("open24h").String())
		if errLast == nil && errOpen == nil && !open.IsZero() {
			change = last.Sub(open).Div(open).Mul(hundred).StringFixed(4)
		}
		out = append(out, domain.ExchangeTicker{
			Exchange:   "okx",
			Pair:       strings.ReplaceAll(strings.ToUpper(row.Get("instId").String()), "-", ""),
			Last:       row.Get("last").String(),
			ChangePct:  change,
			Volume:     row.Get("volCcy24h").String(),
			ReceivedAt: receivedAt,
		})
	}
	return out, nil
}

// StreamsByName resolves configured exchange names.
func StreamsByName(names []string) ([]ExchangeStream, error) {
	streams := make([]ExchangeStream, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
			continue
		case "binance":
			streams = append(streams, BinanceStream(""))
		case "bybit":
			streams = append(streams, BybitStream(""))
		case "okx":
			streams = append(streams, OKXStream(""))
		default:
			return nil, fmt.Errorf("unknown exchange stream: %s", name)
		}
	}
	return streams, nil
}
