package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE GATE - Cooldown, liquidity and edge checks for one signal
// ═══════════════════════════════════════════════════════════════════════════════
//
// Signal → Expiry → Cooldown → Side/Ask → Fair value → Edge → approve
//
// ═══════════════════════════════════════════════════════════════════════════════

// SkipReason explains why a signal was not traded
type SkipReason string

const (
	Approved          SkipReason = ""
	SkipNoMarket      SkipReason = "no_market"
	SkipMarketExpired SkipReason = "market_expired"
	SkipCooldown      SkipReason = "cooldown"
	SkipNoLiquid      SkipReason = "no_liquidity"
	SkipNoFair        SkipReason = "no_fair_value"
	SkipLowEdge       SkipReason = "low_edge"
	SkipExpired       SkipReason = "expired"
	SkipPaused        SkipReason = "paused"
	SkipHalted        SkipReason = "circuit_open"
)

// GateConfig holds the trading thresholds
type GateConfig struct {
	Cooldown     time.Duration
	MinEdgeCents int64
}

// Decision is the outcome of evaluating one signal against one market
type Decision struct {
	Reason       SkipReason
	Side         types.Side
	TokenID      string
	AskCents     int64
	FairCents    int64
	EdgeCents    int64
	CooldownLeft time.Duration
}

// Approved reports whether the signal should be traded
func (d Decision) Approved() bool {
	return d.Reason == Approved
}

// Gate evaluates signals; it holds no mutable state
type Gate struct {
	cfg    GateConfig
	pricer FairValuer
}

// NewGate creates a gate. A nil pricer uses LinearFairValue.
func NewGate(cfg GateConfig, pricer FairValuer) *Gate {
	if pricer == nil {
		pricer = LinearFairValue{}
	}
	return &Gate{cfg: cfg, pricer: pricer}
}

// Evaluate runs the checks in order and stops at the first failure
func (g *Gate) Evaluate(sig types.MomentumSignal, m *types.Market, spot decimal.Decimal, now time.Time) Decision {
	if m == nil {
		return Decision{Reason: SkipNoMarket}
	}

	// Discovery runs once; a closed window must not trade on a stale book
	if m.HasExpiry() && !now.Before(m.Expiry) {
		return Decision{Reason: SkipMarketExpired}
	}

	if !m.LastTradeTime.IsZero() {
		elapsed := now.Sub(m.LastTradeTime)
		if elapsed < g.cfg.Cooldown {
			return Decision{Reason: SkipCooldown, CooldownLeft: g.cfg.Cooldown - elapsed}
		}
	}

	side := types.SideYes
	if sig.Direction == types.Down {
		side = types.SideNo
	}
	d := Decision{Side: side, TokenID: m.Token(side)}

	ask := m.Ask(side)
	if !ask.Valid || ask.Value <= 0 {
		d.Reason = SkipNoLiquid
		return d
	}
	d.AskCents = ask.Value

	var tte time.Duration
	if m.HasExpiry() {
		tte = m.Expiry.Sub(now)
	}
	fair, ok := g.pricer.FairCents(PricingInput{
		Side:         side,
		MoveBps:      sig.MagnitudeBps,
		Spot:         spot,
		Strike:       m.Strike,
		TimeToExpiry: tte,
	})
	if !ok {
		d.Reason = SkipNoFair
		return d
	}
	d.FairCents = fair
	d.EdgeCents = fair - ask.Value

	if d.EdgeCents < g.cfg.MinEdgeCents {
		d.Reason = SkipLowEdge
	}
	return d
}
