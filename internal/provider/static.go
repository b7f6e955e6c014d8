package provider

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"market-pulse/internal/domain"

	"github.com/tidwall/gjson"
)

var (
	//go:embed data/static_markets.json
	bundledMarkets []byte
	//go:embed data/static_global.json
	bundledGlobal []byte
)

// StaticAdapter is the tier of last resort, serving a bundled in-memory
// dataset in the same shape as /coins/markets.
type StaticAdapter struct {
	markets []gjson.Result
	global  []byte
	now     func() time.Time
}

// NewBundledStaticAdapter serves the dataset compiled into the binary.
func NewBundledStaticAdapter() *StaticAdapter {
	return NewStaticAdapter(bundledMarkets, bundledGlobal)
}

// NewStaticAdapter serves the given markets array and /global document.
func NewStaticAdapter(markets, global []byte) *StaticAdapter {
	a := &StaticAdapter{global: global, now: time.Now}
	if parsed := gjson.ParseBytes(markets); parsed.IsArray() {
		for _, row := range parsed.Array() {
			if row.IsObject() {
				a.markets = append(a.markets, row)
			}
		}
	}
	return a
}

func (a *StaticAdapter) Tier() domain.Tier { return domain.TierStatic }

// Status is always connected unless the dataset is empty, which is a
// configuration error rather than a transient one.
func (a *StaticAdapter) Status() domain.ConnectionStatus {
	if len(a.markets) == 0 {
		return domain.ConnectionStatus{State: domain.StateError, Message: ErrEmptyDataset.Error()}
	}
	return domain.ConnectionStatus{State: domain.StateConnected, Records: len(a.markets)}
}

// FetchSnapshots returns the bundled rows matching ids, or every row when
// none match.
func (a *StaticAdapter) FetchSnapshots(_ context.Context, ids []string) Result {
	if len(a.markets) == 0 {
		return Result{Tier: domain.TierStatic, Status: a.Status()}
	}

	rows := a.filter(ids)
	raw := make([]string, len(rows))
	for i, row := range rows {
		raw[i] = row.Raw
	}

	now := a.now()
	return Result{
		Tier: domain.TierStatic,
		Status: domain.ConnectionStatus{
			State:       domain.StateConnected,
			LastSuccess: now,
			Records:     len(rows),
		},
		Payload: domain.RawPayload{JSON: []byte("[" + strings.Join(raw, ",") + "]"), ReceivedAt: now},
		Records: len(rows),
	}
}

// FetchGlobal returns the bundled /global document.
func (a *StaticAdapter) FetchGlobal(context.Context) GlobalResult {
	if len(a.global) == 0 || !gjson.ValidBytes(a.global) {
		return GlobalResult{Status: domain.ConnectionStatus{State: domain.StateError, Message: ErrEmptyDataset.Error()}}
	}
	now := a.now()
	return GlobalResult{
		Status:  domain.ConnectionStatus{State: domain.StateConnected, LastSuccess: now, Records: 1},
		Payload: domain.RawPayload{JSON: a.global, ReceivedAt: now},
	}
}

func (a *StaticAdapter) filter(ids []string) []gjson.Result {
	if len(ids) == 0 {
		return a.markets
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[strings.ToLower(strings.TrimSpace(id))] = struct{}{}
	}
	out := make([]gjson.Result, 0, len(ids))
	for _, row := range a.markets {
		if _, ok := want[strings.ToLower(row.Get("id").String())]; ok {
			out = append(out, row)
		}
	}
	if len(out) == 0 {
		return a.markets
	}
	return out
}
