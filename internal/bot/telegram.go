package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/service"

	"github.com/charmbracelet/log"
	tele "gopkg.in/telebot.v3"
)

const quoteTimeout = 15 * time.Second

// Feed is what the bot reads from the feed service.
type Feed interface {
	View() domain.FeedView
	Quote(ctx context.Context, idOrSymbol string) (domain.CryptoAssetSnapshot, error)
	Status() service.StatusReport
	Global() domain.GlobalView
	Retry()
}

// StartTelegramBot starts long polling in the background and returns the bot
// so the caller can stop it. An empty token skips startup and returns nil.
func StartTelegramBot(token string, feed Feed, logger *log.Logger) (*tele.Bot, error) {
	if token == "" {
		logger.Info("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			logger.Warn("telegram handler failed", "err", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	register(b, feed)

	logger.Info("Telegram bot started")
	go b.Start()
	return b, nil
}

func register(b *tele.Bot, feed Feed) {
	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	b.Handle("/price", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), quoteTimeout)
		defer cancel()
		return c.Send(priceReply(ctx, feed, c.Args()))
	})
	b.Handle("/top", func(c tele.Context) error {
		return c.Send(topReply(feed.View()))
	})
	b.Handle("/source", func(c tele.Context) error {
		return c.Send(sourceReply(feed.Status()))
	})
	b.Handle("/market", func(c tele.Context) error {
		return c.Send(marketReply(feed.Global()))
	})
	b.Handle("/retry", func(c tele.Context) error {
		feed.Retry()
		return c.Send("Refreshing every tier now.")
	})
}

func supported() string {
	symbols := make([]string, 0, len(domain.KnownAssets))
	for s := range domain.KnownAssets {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return strings.Join(symbols, ", ")
}

func priceReply(ctx context.Context, feed Feed, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: /price BTC\nSupported: %s", supported())
	}
	snap, err := feed.Quote(ctx, args[0])
	switch {
	case errors.Is(err, service.ErrUnknownAsset):
		return fmt.Sprintf("Unknown asset: %s\nSupported: %s", args[0], supported())
	case err != nil:
		return fmt.Sprintf("Error fetching price for %s: %v", args[0], err)
	}
	return formatSnapshot(snap)
}

func formatSnapshot(s domain.CryptoAssetSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", s.Name, s.Symbol)
	fmt.Fprintf(&b, "Price: $%s\n", formatPrice(s.PriceUSD))
	fmt.Fprintf(&b, "24h Change: %+.2f%% (%s risk)\n", s.Change24hPct, s.Risk)
	fmt.Fprintf(&b, "24h Volume: $%s", compact(s.Volume24h))
	if s.MarketCap > 0 {
		fmt.Fprintf(&b, "\nMarket Cap: $%s", compact(s.MarketCap))
	}
	return b.String()
}

func topReply(view domain.FeedView) string {
	if view.Err != "" {
		return "No market data: " + view.Err
	}
	if len(view.Records) == 0 {
		return "Waiting for the first update."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n", view.ActiveTier)
	for _, r := range view.Records {
		fmt.Fprintf(&b, "%-5s $%-12s %+.2f%%\n", r.Symbol, formatPrice(r.PriceUSD), r.Change24hPct)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceReply(st service.StatusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active tier: %s (%d records)\n", st.ActiveTier, st.Records)
	for _, t := range domain.Tiers {
		cs, ok := st.Connections[t]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %s", t, cs.State)
		if cs.Message != "" {
			fmt.Fprintf(&b, " (%s)", cs.Message)
		}
		b.WriteString("\n")
	}
	names := make([]string, 0, len(st.Exchanges))
	for name := range st.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %s\n", name, st.Exchanges[name].State)
	}
	if st.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", st.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}

func marketReply(view domain.GlobalView) string {
	g := view.Record
	if g == nil {
		if view.Status.Message != "" {
			return "Global market data unavailable: " + view.Status.Message
		}
		return "Global market data unavailable."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Total Market Cap: $%s (%+.2f%%)\n", compact(g.TotalMarketCapUSD), g.MarketCapChange24hPct)
	fmt.Fprintf(&b, "24h Volume: $%s\n", compact(g.TotalVolumeUSD))
	fmt.Fprintf(&b, "Active Cryptocurrencies: %d", g.ActiveCryptocurrencies)
	for _, sym := range []string{"btc", "eth"} {
		if pct, ok := g.MarketCapPercentage[sym]; ok {
			fmt.Fprintf(&b, "\n%s Dominance: %.1f%%", strings.ToUpper(sym), pct)
		}
	}
	return b.String()
}

func formatPrice(v float64) string {
	switch {
	case v >= 1:
		return fmt.Sprintf("%.2f", v)
	case v >= 0.01:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.8f", v)
	}
}

func compact(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
