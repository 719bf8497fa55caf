package feeds

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MOMENTUM DETECTION
// ═══════════════════════════════════════════════════════════════════════════════
//
// A signal fires when |change over window| >= threshold and either:
//   (a) the previous price was below threshold (this tick is the crossing), or
//   (b) nothing is pending for the asset (the crossing was missed, e.g. at startup)
//
// ═══════════════════════════════════════════════════════════════════════════════

// MomentumDetector holds thresholds only; all history lives in the series
type MomentumDetector struct {
	ThresholdBps int64
	Window       time.Duration
}

// NewMomentumDetector builds a detector from config units
func NewMomentumDetector(thresholdBps int64, windowSecs int) MomentumDetector {
	return MomentumDetector{
		ThresholdBps: thresholdBps,
		Window:       time.Duration(windowSecs) * time.Second,
	}
}

// Crossed reports whether a windowed change meets the threshold
func (d MomentumDetector) Crossed(changeBps int64) bool {
	if changeBps < 0 {
		changeBps = -changeBps
	}
	return changeBps >= d.ThresholdBps
}

// Observe adds price to the series and decides whether it raises a signal.
// pending reports whether the asset already has an undispatched signal.
func (d MomentumDetector) Observe(asset string, series *PriceSeries, price decimal.Decimal, pending bool, now time.Time) (types.MomentumSignal, bool) {
	// Change as it stood on the previous price, before this tick lands
	wasBelow := false
	if _, hasPrev := series.LastPrice(); hasPrev {
		if prev, ok := series.ChangeBps(d.Window); ok {
			wasBelow = !d.Crossed(prev)
		}
	}

	series.AddTick(price)

	change, ok := series.ChangeBps(d.Window)
	if !ok || !d.Crossed(change) {
		return types.MomentumSignal{}, false
	}

	if !wasBelow && pending {
		return types.MomentumSignal{}, false
	}

	direction := types.Up
	if change < 0 {
		direction = types.Down
	}

	return types.MomentumSignal{
		Asset:        asset,
		Direction:    direction,
		MagnitudeBps: change,
		CreatedAt:    now,
	}, true
}
