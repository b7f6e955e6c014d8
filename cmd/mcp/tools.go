package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/service"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Feed is the part of the feed service exposed as tools.
type Feed interface {
	View() domain.FeedView
	Quote(ctx context.Context, idOrSymbol string) (domain.CryptoAssetSnapshot, error)
	Status() service.StatusReport
	Global() domain.GlobalView
	Retry()
}

type SnapshotsInput struct {
	IDs []string `json:"ids,omitempty" jsonschema:"optional ids or symbols to filter by, e.g. bitcoin or ETH"`
}

type QuoteInput struct {
	ID string `json:"id" jsonschema:"asset id or symbol, e.g. bitcoin or BTC"`
}

type Snapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	PriceUSD     float64   `json:"price_usd"`
	Change24hPct float64   `json:"change_24h_pct"`
	Volume24h    float64   `json:"volume_24h"`
	MarketCap    float64   `json:"market_cap"`
	Risk         string    `json:"risk"`
	Sparkline    []float64 `json:"sparkline,omitempty"`
	LastUpdated  string    `json:"last_updated"`
}

type SnapshotsOutput struct {
	ActiveTier string     `json:"active_tier"`
	LastUpdate string     `json:"last_update,omitempty"`
	Records    []Snapshot `json:"records"`
	Error      string     `json:"error,omitempty"`
}

type Connection struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Records int    `json:"records"`
	Message string `json:"message,omitempty"`
}

type StatusOutput struct {
	ConsumerID  string       `json:"consumer_id"`
	Running     bool         `json:"running"`
	ActiveTier  string       `json:"active_tier"`
	Records     int          `json:"records"`
	Connections []Connection `json:"connections"`
	Error       string       `json:"error,omitempty"`
}

type GlobalOutput struct {
	Available              bool               `json:"available"`
	State                  string             `json:"state"`
	TotalMarketCapUSD      float64            `json:"total_market_cap_usd,omitempty"`
	TotalVolumeUSD         float64            `json:"total_volume_usd,omitempty"`
	MarketCapChange24hPct  float64            `json:"market_cap_change_24h_pct,omitempty"`
	ActiveCryptocurrencies int                `json:"active_cryptocurrencies,omitempty"`
	Dominance              map[string]float64 `json:"dominance,omitempty"`
}

type RetryOutput struct {
	Status string `json:"status"`
}

func newServer(feed Feed, timeout time.Duration, version string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "market-pulse", Version: version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_snapshots",
		Description: "Current crypto asset snapshots from the best available source tier",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in SnapshotsInput) (*mcp.CallToolResult, SnapshotsOutput, error) {
		return nil, snapshots(feed.View(), in.IDs), nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_quote",
		Description: "Snapshot for one asset; falls back to a single upstream quote when the asset is not polled",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in QuoteInput) (*mcp.CallToolResult, Snapshot, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		snap, err := feed.Quote(ctx, in.ID)
		if err != nil {
			return nil, Snapshot{}, err
		}
		return nil, toSnapshot(snap), nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_status",
		Description: "Active tier and connection state of every source",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatusOutput, error) {
		return nil, status(feed.Status()), nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_global",
		Description: "Global crypto market totals and dominance",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, GlobalOutput, error) {
		return nil, global(feed.Global()), nil
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "retry",
		Description: "Refresh every source tier now without changing the polling schedule",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, RetryOutput, error) {
		feed.Retry()
		return nil, RetryOutput{Status: "retrying"}, nil
	})

	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toSnapshot(s domain.CryptoAssetSnapshot) Snapshot {
	return Snapshot{
		ID:           s.ID,
		Name:         s.Name,
		Symbol:       s.Symbol,
		PriceUSD:     s.PriceUSD,
		Change24hPct: s.Change24hPct,
		Volume24h:    s.Volume24h,
		MarketCap:    s.MarketCap,
		Risk:         string(s.Risk),
		Sparkline:    s.Sparkline,
		LastUpdated:  stamp(s.LastUpdated),
	}
}

func snapshots(view domain.FeedView, ids []string) SnapshotsOutput {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			want[id] = true
		}
	}
	out := SnapshotsOutput{
		ActiveTier: view.ActiveTier.String(),
		LastUpdate: stamp(view.LastUpdate),
		Records:    make([]Snapshot, 0, len(view.Records)),
		Error:      view.Err,
	}
	for _, r := range view.Records {
		if len(want) > 0 && !want[strings.ToLower(r.ID)] && !want[strings.ToLower(r.Symbol)] {
			continue
		}
		out.Records = append(out.Records, toSnapshot(r))
	}
	return out
}

func status(st service.StatusReport) StatusOutput {
	out := StatusOutput{
		ConsumerID: st.ConsumerID,
		Running:    st.Running,
		ActiveTier: st.ActiveTier.String(),
		Records:    st.Records,
		Error:      st.Err,
	}
	for _, t := range domain.Tiers {
		if c, ok := st.Connections[t]; ok {
			out.Connections = append(out.Connections, connection(t.String(), c))
		}
	}
	names := make([]string, 0, len(st.Exchanges))
	for name := range st.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Connections = append(out.Connections, connection(name, st.Exchanges[name]))
	}
	out.Connections = append(out.Connections, connection("global", st.Global))
	return out
}

func connection(name string, c domain.ConnectionStatus) Connection {
	return Connection{Name: name, State: string(c.State), Records: c.Records, Message: c.Message}
}

func global(v domain.GlobalView) GlobalOutput {
	out := GlobalOutput{State: string(v.Status.State)}
	if g := v.Record; g != nil {
		out.Available = true
		out.TotalMarketCapUSD = g.TotalMarketCapUSD
		out.TotalVolumeUSD = g.TotalVolumeUSD
		out.MarketCapChange24hPct = g.MarketCapChange24hPct
		out.ActiveCryptocurrencies = g.ActiveCryptocurrencies
		out.Dominance = g.MarketCapPercentage
	}
	return out
}
