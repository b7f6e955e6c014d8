package normalize

import (
	"reflect"
	"testing"
	"time"

	"market-pulse/internal/domain"
)

var received = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNormalizeExchangeTickers(t *testing.T) {
	t.Parallel()

	payload := domain.RawPayload{
		ReceivedAt: received,
		Tickers: []domain.ExchangeTicker{
			{Exchange: "binance", Pair: "BTCUSDT", Last: "67000.5", ChangePct: "11.2", Volume: "1000"},
			{Exchange: "okx", Pair: "PEPEFDUSD", Last: "0.00001", ChangePct: "-6", Volume: "abc"},
			{Exchange: "bybit", Pair: "BTCUSDC", Last: "1", ChangePct: "0", Volume: "1"},
		},
	}

	got := Normalize(domain.TierExchange, payload)
	if len(got) != 2 {
		t.Fatalf("expected duplicate asset to collapse, got %d records", len(got))
	}

	btc := got[0]
	if btc.ID != "bitcoin" || btc.Symbol != "BTC" || btc.Name != "Bitcoin" {
		t.Fatalf("unexpected identity: %+v", btc)
	}
	if btc.PriceUSD != 67000.5 || btc.Risk != domain.RiskHigh || !btc.LastUpdated.Equal(received) {
		t.Fatalf("unexpected values: %+v", btc)
	}

	pepe := got[1]
	if pepe.ID != "pepe" || pepe.Symbol != "PEPE" || pepe.Volume24h != 0 || pepe.Risk != domain.RiskMedium {
		t.Fatalf("unexpected unknown pair mapping: %+v", pepe)
	}
}

func TestNormalizeMarkets(t *testing.T) {
	t.Parallel()

	payload := domain.RawPayload{
		ReceivedAt: received,
		JSON: []byte(`[
			{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":"65000.25","price_change_percentage_24h":2,"total_volume":10,"market_cap":20,"image":"btc.png","last_updated":"2025-02-28T12:00:00.000Z","sparkline_in_7d":{"price":[1,"x",null,2]}},
			{"id":"weird","current_price":-4,"price_change_percentage_24h":"7.5"},
			{"symbol":"eth"},
			{"name":"no id or symbol"},
			42
		]`),
	}

	got := Normalize(domain.TierREST, payload)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
	}

	btc := got[0]
	if btc.PriceUSD != 65000.25 || btc.Risk != domain.RiskLow || btc.ImageURL != "btc.png" {
		t.Fatalf("unexpected btc: %+v", btc)
	}
	if !reflect.DeepEqual(btc.Sparkline, []float64{1, 2}) {
		t.Fatalf("expected non-numeric sparkline points dropped, got %v", btc.Sparkline)
	}
	if want := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC); !btc.LastUpdated.Equal(want) {
		t.Fatalf("expected last_updated %v, got %v", want, btc.LastUpdated)
	}

	weird := got[1]
	if weird.PriceUSD != 0 || weird.Change24hPct != 7.5 || weird.Risk != domain.RiskMedium {
		t.Fatalf("unexpected coercion: %+v", weird)
	}
	if weird.Name != "weird" || weird.Symbol != "WEIRD" || !weird.LastUpdated.Equal(received) {
		t.Fatalf("unexpected defaults: %+v", weird)
	}

	if eth := got[2]; eth.ID != "ethereum" || eth.Name != "Ethereum" {
		t.Fatalf("expected id resolved from symbol, got %+v", eth)
	}
}

func TestNormalizeSimplePrice(t *testing.T) {
	t.Parallel()

	payload := domain.RawPayload{
		ReceivedAt: received,
		JSON:       []byte(`{"bitcoin":{"usd":100,"usd_24h_vol":10,"usd_24h_change":-12,"usd_market_cap":5,"last_updated_at":1740000000}}`),
	}

	got := Normalize(domain.TierREST, payload)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].Symbol != "BTC" || got[0].Risk != domain.RiskHigh || got[0].MarketCap != 5 {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	if !got[0].LastUpdated.Equal(time.Unix(1740000000, 0)) {
		t.Fatalf("unexpected timestamp: %v", got[0].LastUpdated)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	payload := domain.RawPayload{
		ReceivedAt: received,
		JSON:       []byte(`[{"id":"solana","symbol":"sol","current_price":150,"price_change_percentage_24h":5.5}]`),
	}
	first := Normalize(domain.TierStatic, payload)
	second := Normalize(domain.TierStatic, payload)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated normalization differs:\n%+v\n%+v", first, second)
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if got := Normalize(domain.TierREST, domain.RawPayload{JSON: []byte(`{{`)}); got != nil {
		t.Fatalf("expected nil for invalid JSON, got %+v", got)
	}
	if got := Normalize(domain.Tier(9), domain.RawPayload{JSON: []byte(`[]`)}); got != nil {
		t.Fatalf("expected nil for unknown tier, got %+v", got)
	}
}

func TestNormalizeGlobal(t *testing.T) {
	t.Parallel()

	payload := domain.RawPayload{
		ReceivedAt: received,
		JSON:       []byte(`{"data":{"active_cryptocurrencies":14250,"total_market_cap":{"usd":2.6e12},"total_volume":{"usd":"8.9e10"},"market_cap_percentage":{"BTC":50.7},"market_cap_change_percentage_24h_usd":0.92,"updated_at":1717200000}}`),
	}

	got, ok := NormalizeGlobal(payload)
	if !ok {
		t.Fatal("expected global snapshot")
	}
	if got.ActiveCryptocurrencies != 14250 || got.TotalMarketCapUSD != 2.6e12 || got.TotalVolumeUSD != 8.9e10 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.MarketCapPercentage["btc"] != 50.7 {
		t.Fatalf("unexpected dominance: %v", got.MarketCapPercentage)
	}
	if !got.UpdatedAt.Equal(time.Unix(1717200000, 0)) {
		t.Fatalf("unexpected updated_at: %v", got.UpdatedAt)
	}

	if _, ok := NormalizeGlobal(domain.RawPayload{JSON: []byte(`{"status":"down"}`)}); ok {
		t.Fatal("expected missing data to be rejected")
	}
}
