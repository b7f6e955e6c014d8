package domain

import (
	"errors"
	"time"
)

// Tier identifies one of the prioritized data sources. Lower values win.
type Tier int

const (
	TierExchange Tier = 1
	TierREST     Tier = 2
	TierStatic   Tier = 3
)

// Tiers lists every tier in priority order.
var Tiers = []Tier{TierExchange, TierREST, TierStatic}

func (t Tier) String() string {
	switch t {
	case TierExchange:
		return "EXCHANGE"
	case TierREST:
		return "REST"
	case TierStatic:
		return "STATIC"
	default:
		return "UNKNOWN"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "EXCHANGE":
		*t = TierExchange
	case "REST":
		*t = TierREST
	case "STATIC":
		*t = TierStatic
	default:
		return errors.New("unknown tier: " + string(b))
	}
	return nil
}

type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
	StateDisconnected ConnState = "disconnected"
)

// ConnectionStatus is the per-adapter health record surfaced to consumers.
type ConnectionStatus struct {
	State             ConnState `json:"state"`
	Message           string    `json:"message,omitempty"`
	LastSuccess       time.Time `json:"last_success,omitzero"`
	ActiveConnections int       `json:"active_connections,omitempty"`
	Records           int       `json:"records"`
	Fetching          bool      `json:"fetching,omitempty"`
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) IsValid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// RiskFromChange derives the risk bucket from the absolute 24h change.
func RiskFromChange(change24hPct float64) RiskLevel {
	if change24hPct < 0 {
		change24hPct = -change24hPct
	}
	switch {
	case change24hPct > 10:
		return RiskHigh
	case change24hPct > 5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ErrNoData means no tier, not even the bundled dataset, produced a record.
var ErrNoData = errors.New("no market data available from any tier")

// FeedView is what a consumer sees after each evaluation.
type FeedView struct {
	ConsumerID  string                    `json:"consumer_id"`
	Records     []CryptoAssetSnapshot     `json:"records"`
	ActiveTier  Tier                      `json:"active_tier"`
	Connections map[Tier]ConnectionStatus `json:"connections"`
	LastUpdate  time.Time                 `json:"last_update,omitzero"`
	Err         string                    `json:"error,omitempty"`
}

// Clone returns a copy that shares nothing mutable with v.
func (v FeedView) Clone() FeedView {
	out := v
	out.Records = make([]CryptoAssetSnapshot, len(v.Records))
	for i, r := range v.Records {
		out.Records[i] = r.Clone()
	}
	out.Connections = make(map[Tier]ConnectionStatus, len(v.Connections))
	for k, s := range v.Connections {
		out.Connections[k] = s
	}
	return out
}

type GlobalView struct {
	Record     *GlobalMarketSnapshot `json:"record,omitempty"`
	Status     ConnectionStatus      `json:"status"`
	LastUpdate time.Time             `json:"last_update,omitzero"`
}
