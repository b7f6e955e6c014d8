package domain

import "time"

// CryptoAssetSnapshot is the canonical per-asset record consumed by every view.
type CryptoAssetSnapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	PriceUSD     float64   `json:"price_usd"`
	Change24hPct float64   `json:"change_24h_pct"`
	Volume24h    float64   `json:"volume_24h"`
	MarketCap    float64   `json:"market_cap"`
	Risk         RiskLevel `json:"risk"`
	Sparkline    []float64 `json:"sparkline,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

func (s CryptoAssetSnapshot) Clone() CryptoAssetSnapshot {
	if s.Sparkline != nil {
		s.Sparkline = append([]float64(nil), s.Sparkline...)
	}
	return s
}

// GlobalMarketSnapshot holds aggregate market totals.
type GlobalMarketSnapshot struct {
	TotalMarketCapUSD      float64            `json:"total_market_cap_usd"`
	TotalVolumeUSD         float64            `json:"total_volume_usd"`
	MarketCapPercentage    map[string]float64 `json:"market_cap_percentage"`
	ActiveCryptocurrencies int                `json:"active_cryptocurrencies"`
	MarketCapChange24hPct  float64            `json:"market_cap_change_24h_pct"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// ExchangeTicker is a raw exchange record, numbers kept as the exchange sent them.
type ExchangeTicker struct {
	Exchange   string    `json:"exchange"`
	Pair       string    `json:"pair"`
	Last       string    `json:"last"`
	ChangePct  string    `json:"change_pct"`
	Volume     string    `json:"volume"`
	ReceivedAt time.Time `json:"received_at"`
}

// RawPayload is an adapter's unnormalized output. Exchange adapters fill
// Tickers; REST and static adapters fill JSON.
type RawPayload struct {
	Tickers    []ExchangeTicker
	JSON       []byte
	ReceivedAt time.Time
}

func (p RawPayload) Empty() bool {
	return len(p.Tickers) == 0 && len(p.JSON) == 0
}
