package domain

import (
	"sort"
	"strings"
)

// AssetInfo identifies an asset across providers.
type AssetInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// KnownAssets maps ticker symbols to their REST-provider identity.
var KnownAssets = map[string]AssetInfo{
	"BTC":  {ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC"},
	"ETH":  {ID: "ethereum", Name: "Ethereum", Symbol: "ETH"},
	"SOL":  {ID: "solana", Name: "Solana", Symbol: "SOL"},
	"XRP":  {ID: "ripple", Name: "XRP", Symbol: "XRP"},
	"ADA":  {ID: "cardano", Name: "Cardano", Symbol: "ADA"},
	"DOGE": {ID: "dogecoin", Name: "Dogecoin", Symbol: "DOGE"},
	"DOT":  {ID: "polkadot", Name: "Polkadot", Symbol: "DOT"},
	"AVAX": {ID: "avalanche-2", Name: "Avalanche", Symbol: "AVAX"},
	"LINK": {ID: "chainlink", Name: "Chainlink", Symbol: "LINK"},
	"BNB":  {ID: "binancecoin", Name: "BNB", Symbol: "BNB"},
	"LTC":  {ID: "litecoin", Name: "Litecoin", Symbol: "LTC"},
	"TRX":  {ID: "tron", Name: "TRON", Symbol: "TRX"},
}

// QuoteSuffixes are stripped from exchange pairs, longest first.
var QuoteSuffixes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USD", "EUR", "BTC", "ETH"}

// DefaultAssetIDs is the id set polled when none is configured.
var DefaultAssetIDs = []string{"bitcoin", "ethereum", "solana", "cardano"}

var assetsByID map[string]AssetInfo

func init() {
	assetsByID = make(map[string]AssetInfo, len(KnownAssets))
	for _, a := range KnownAssets {
		assetsByID[a.ID] = a
	}
}

// AssetByID looks up a known asset by its REST-provider id.
func AssetByID(id string) (AssetInfo, bool) {
	a, ok := assetsByID[strings.ToLower(strings.TrimSpace(id))]
	return a, ok
}

// AssetBySymbol looks up a known asset by ticker symbol.
func AssetBySymbol(symbol string) (AssetInfo, bool) {
	a, ok := KnownAssets[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// SplitPair strips a known quote currency from an exchange pair. The second
// return is false when no suffix matched.
func SplitPair(pair string) (string, bool) {
	p := strings.ToUpper(strings.NewReplacer("-", "", "_", "", "/", "").Replace(strings.TrimSpace(pair)))
	for _, q := range QuoteSuffixes {
		if len(p) > len(q) && strings.HasSuffix(p, q) {
			return strings.TrimSuffix(p, q), true
		}
	}
	return p, false
}

// AssetForPair resolves an exchange pair such as "BTCUSDT". Unknown bases
// degrade to an identity derived from the stripped pair.
func AssetForPair(pair string) AssetInfo {
	base, _ := SplitPair(pair)
	if a, ok := KnownAssets[base]; ok {
		return a
	}
	return AssetInfo{ID: strings.ToLower(base), Name: base, Symbol: base}
}

// PairsForIDs returns the USDT pairs to subscribe for the given ids, sorted.
// Ids without a known symbol are skipped.
func PairsForIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		a, ok := AssetByID(id)
		if !ok {
			continue
		}
		pair := a.Symbol + "USDT"
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}
