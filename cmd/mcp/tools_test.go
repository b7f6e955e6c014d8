package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/service"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

type feedStub struct {
	view    domain.FeedView
	global  domain.GlobalView
	retries int
}

func (f *feedStub) View() domain.FeedView { return f.view }
func (f *feedStub) Status() service.StatusReport {
	return service.StatusReport{
		ConsumerID: "c1",
		Running:    true,
		ActiveTier: f.view.ActiveTier,
		Records:    len(f.view.Records),
		Connections: map[domain.Tier]domain.ConnectionStatus{
			domain.TierExchange: {State: domain.StateError, Message: "dial failed"},
			domain.TierREST:     {State: domain.StateConnected, Records: 2},
		},
		Exchanges: map[string]domain.ConnectionStatus{"okx": {State: domain.StateReconnecting}},
		Global:    domain.ConnectionStatus{State: domain.StateConnected},
	}
}
func (f *feedStub) Global() domain.GlobalView { return f.global }
func (f *feedStub) Retry()                    { f.retries++ }

func (f *feedStub) Quote(_ context.Context, id string) (domain.CryptoAssetSnapshot, error) {
	for _, r := range f.view.Records {
		if r.ID == id || r.Symbol == id {
			return r, nil
		}
	}
	return domain.CryptoAssetSnapshot{}, fmt.Errorf("%w: %s", service.ErrUnknownAsset, id)
}

func newFeed() *feedStub {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &feedStub{
		view: domain.FeedView{
			ActiveTier: domain.TierREST,
			LastUpdate: at,
			Records: []domain.CryptoAssetSnapshot{
				{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", PriceUSD: 64000, Risk: domain.RiskLow, LastUpdated: at},
				{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", PriceUSD: 3100, Risk: domain.RiskMedium, LastUpdated: at},
			},
		},
	}
}

func connect(t *testing.T, feed Feed) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := newServer(feed, time.Second, "test").Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call[T any](t *testing.T, cs *mcp.ClientSession, name string, args any) (T, *mcp.CallToolResult) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)

	var out T
	if !res.IsError {
		raw, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out, res
}

func TestGetSnapshotsTool(t *testing.T) {
	cs := connect(t, newFeed())

	out, _ := call[SnapshotsOutput](t, cs, "get_snapshots", map[string]any{})
	require.Equal(t, "REST", out.ActiveTier)
	require.Len(t, out.Records, 2)
	require.Equal(t, "2026-01-02T03:04:05Z", out.LastUpdate)

	out, _ = call[SnapshotsOutput](t, cs, "get_snapshots", map[string]any{"ids": []string{"eth"}})
	require.Len(t, out.Records, 1)
	require.Equal(t, "ethereum", out.Records[0].ID)
}

func TestGetQuoteTool(t *testing.T) {
	cs := connect(t, newFeed())

	out, _ := call[Snapshot](t, cs, "get_quote", map[string]any{"id": "BTC"})
	require.Equal(t, "bitcoin", out.ID)
	require.Equal(t, "low", out.Risk)

	_, res := call[Snapshot](t, cs, "get_quote", map[string]any{"id": "nope"})
	require.True(t, res.IsError)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	require.Contains(t, text.Text, "unknown asset")
}

func TestGetStatusTool(t *testing.T) {
	cs := connect(t, newFeed())

	out, _ := call[StatusOutput](t, cs, "get_status", map[string]any{})
	require.True(t, out.Running)
	names := make([]string, 0, len(out.Connections))
	for _, c := range out.Connections {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"EXCHANGE", "REST", "okx", "global"}, names)
	require.Equal(t, "dial failed", out.Connections[0].Message)
}

func TestGetGlobalTool(t *testing.T) {
	feed := newFeed()
	cs := connect(t, feed)

	out, _ := call[GlobalOutput](t, cs, "get_global", map[string]any{})
	require.False(t, out.Available)

	feed.global = domain.GlobalView{
		Status: domain.ConnectionStatus{State: domain.StateConnected},
		Record: &domain.GlobalMarketSnapshot{TotalMarketCapUSD: 2.4e12, MarketCapPercentage: map[string]float64{"btc": 51}},
	}
	out, _ = call[GlobalOutput](t, cs, "get_global", map[string]any{})
	require.True(t, out.Available)
	require.Equal(t, 51.0, out.Dominance["btc"])
}

func TestRetryTool(t *testing.T) {
	feed := newFeed()
	cs := connect(t, feed)

	out, _ := call[RetryOutput](t, cs, "retry", map[string]any{})
	require.Equal(t, "retrying", out.Status)
	require.Equal(t, 1, feed.retries)
}

func TestStampZero(t *testing.T) {
	require.Empty(t, stamp(time.Time{}))
}
