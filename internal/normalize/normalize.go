// Package normalize maps provider payloads onto canonical snapshots. It does
// no I/O and keeps no state.
package normalize

import (
	"math"
	"strings"
	"time"

	"market-pulse/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Normalize converts an adapter payload for tier into snapshots. Records
// that cannot be identified are skipped; every other missing or mistyped
// field takes its zero value.
func Normalize(tier domain.Tier, payload domain.RawPayload) []domain.CryptoAssetSnapshot {
	switch tier {
	case domain.TierExchange:
		return fromTickers(payload)
	case domain.TierREST, domain.TierStatic:
		return fromJSON(payload)
	default:
		return nil
	}
}

func fromTickers(payload domain.RawPayload) []domain.CryptoAssetSnapshot {
	out := make([]domain.CryptoAssetSnapshot, 0, len(payload.Tickers))
	seen := make(map[string]struct{}, len(payload.Tickers))
	for _, t := range payload.Tickers {
		asset := domain.AssetForPair(t.Pair)
		if asset.ID == "" {
			continue
		}
		if _, dup := seen[asset.ID]; dup {
			continue
		}
		seen[asset.ID] = struct{}{}

		updated := t.ReceivedAt
		if updated.IsZero() {
			updated = payload.ReceivedAt
		}
		change := decimalFloat(t.ChangePct)
		out = append(out, domain.CryptoAssetSnapshot{
			ID:           asset.ID,
			Name:         asset.Name,
			Symbol:       asset.Symbol,
			PriceUSD:     math.Max(decimalFloat(t.Last), 0),
			Change24hPct: change,
			Volume24h:    decimalFloat(t.Volume),
			Risk:         domain.RiskFromChange(change),
			LastUpdated:  updated.UTC(),
		})
	}
	return out
}

func decimalFloat(s string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return finite(d.InexactFloat64())
}

func fromJSON(payload domain.RawPayload) []domain.CryptoAssetSnapshot {
	if !gjson.ValidBytes(payload.JSON) {
		return nil
	}
	doc := gjson.ParseBytes(payload.JSON)
	switch {
	case doc.IsArray():
		return fromMarkets(doc, payload.ReceivedAt)
	case doc.IsObject():
		return fromSimplePrice(doc, payload.ReceivedAt)
	default:
		return nil
	}
}

// fromMarkets reads a /coins/markets array.
func fromMarkets(doc gjson.Result, receivedAt time.Time) []domain.CryptoAssetSnapshot {
	rows := doc.Array()
	out := make([]domain.CryptoAssetSnapshot, 0, len(rows))
	for _, row := range rows {
		if !row.IsObject() {
			continue
		}
		info, ok := identify(row.Get("id").String(), row.Get("symbol").String(), row.Get("name").String())
		if !ok {
			continue
		}
		change := number(row.Get("price_change_percentage_24h"))
		if !row.Get("price_change_percentage_24h").Exists() {
			change = number(row.Get("price_change_percentage_24h_in_currency"))
		}
		out = append(out, domain.CryptoAssetSnapshot{
			ID:           info.ID,
			Name:         info.Name,
			Symbol:       info.Symbol,
			PriceUSD:     math.Max(number(row.Get("current_price")), 0),
			Change24hPct: change,
			Volume24h:    number(row.Get("total_volume")),
			MarketCap:    number(row.Get("market_cap")),
			Risk:         domain.RiskFromChange(change),
			Sparkline:    sparkline(row.Get("sparkline_in_7d.price")),
			ImageURL:     row.Get("image").String(),
			LastUpdated:  timestamp(row.Get("last_updated"), receivedAt),
		})
	}
	return out
}

// fromSimplePrice reads a /simple/price object keyed by asset id.
func fromSimplePrice(doc gjson.Result, receivedAt time.Time) []domain.CryptoAssetSnapshot {
	var out []domain.CryptoAssetSnapshot
	doc.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		info, ok := identify(key.String(), "", "")
		if !ok {
			return true
		}
		change := number(value.Get("usd_24h_change"))
		out = append(out, domain.CryptoAssetSnapshot{
			ID:           info.ID,
			Name:         info.Name,
			Symbol:       info.Symbol,
			PriceUSD:     math.Max(number(value.Get("usd")), 0),
			Change24hPct: change,
			Volume24h:    number(value.Get("usd_24h_vol")),
			MarketCap:    number(value.Get("usd_market_cap")),
			Risk:         domain.RiskFromChange(change),
			LastUpdated:  timestamp(value.Get("last_updated_at"), receivedAt),
		})
		return true
	})
	return out
}

// identify fills name and symbol from the known asset table when the
// payload leaves them out.
func identify(id, symbol, name string) (domain.AssetInfo, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	name = strings.TrimSpace(name)

	var known domain.AssetInfo
	var found bool
	if id != "" {
		known, found = domain.AssetByID(id)
	}
	if !found && symbol != "" {
		known, found = domain.AssetBySymbol(symbol)
	}

	switch {
	case id != "":
	case found:
		id = known.ID
	case symbol != "":
		id = strings.ToLower(symbol)
	default:
		return domain.AssetInfo{}, false
	}
	if symbol == "" {
		symbol = known.Symbol
	}
	if symbol == "" {
		symbol = strings.ToUpper(id)
	}
	if name == "" {
		name = known.Name
	}
	if name == "" {
		name = id
	}
	return domain.AssetInfo{ID: id, Name: name, Symbol: symbol}, true
}

// number coerces JSON numbers and numeric strings; anything else is 0.
func number(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return finite(r.Num)
	case gjson.String:
		return decimalFloat(r.Str)
	default:
		return 0
	}
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func sparkline(r gjson.Result) []float64 {
	if !r.IsArray() {
		return nil
	}
	var out []float64
	for _, v := range r.Array() {
		if v.Type != gjson.Number || math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			continue
		}
		out = append(out, v.Num)
	}
	return out
}

// timestamp accepts RFC 3339 strings and unix seconds or milliseconds.
func timestamp(r gjson.Result, fallback time.Time) time.Time {
	switch r.Type {
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, r.Str); err == nil {
			return t.UTC()
		}
	case gjson.Number:
		if n := r.Int(); n > 0 {
			if n > 1e12 {
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		}
	}
	return fallback.UTC()
}

// NormalizeGlobal maps a /global document. ok is false when the document has
// no data object.
func NormalizeGlobal(payload domain.RawPayload) (domain.GlobalMarketSnapshot, bool) {
	if !gjson.ValidBytes(payload.JSON) {
		return domain.GlobalMarketSnapshot{}, false
	}
	data := gjson.GetBytes(payload.JSON, "data")
	if !data.IsObject() {
		return domain.GlobalMarketSnapshot{}, false
	}

	pct := make(map[string]float64)
	data.Get("market_cap_percentage").ForEach(func(key, value gjson.Result) bool {
		pct[strings.ToLower(key.String())] = number(value)
		return true
	})

	return domain.GlobalMarketSnapshot{
		TotalMarketCapUSD:      number(data.Get("total_market_cap.usd")),
		TotalVolumeUSD:         number(data.Get("total_volume.usd")),
		MarketCapPercentage:    pct,
		ActiveCryptocurrencies: int(number(data.Get("active_cryptocurrencies"))),
		MarketCapChange24hPct:  number(data.Get("market_cap_change_percentage_24h_usd")),
		UpdatedAt:              timestamp(data.Get("updated_at"), payload.ReceivedAt),
	}, true
}
