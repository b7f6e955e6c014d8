// Package tier picks which provider tier feeds consumers.
package tier

import "market-pulse/internal/domain"

// Inputs are the latest known statuses of each tier.
type Inputs struct {
	Exchange domain.ConnectionStatus
	REST     domain.ConnectionStatus
	Static   domain.ConnectionStatus
}

// Select applies strict priority: the exchange tier when it has open links
// and records, then REST when connected with records, else static. It
// carries no memory of the previous choice.
func Select(in Inputs) domain.Tier {
	if in.Exchange.ActiveConnections > 0 && in.Exchange.Records >= 1 && in.Exchange.State != domain.StateError {
		return domain.TierExchange
	}
	if in.REST.State == domain.StateConnected && in.REST.Records >= 1 {
		return domain.TierREST
	}
	return domain.TierStatic
}

// Fallbacks lists the tiers to try after selected, in priority order.
func Fallbacks(selected domain.Tier) []domain.Tier {
	var out []domain.Tier
	for _, t := range domain.Tiers {
		if t > selected {
			out = append(out, t)
		}
	}
	return out
}
