package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FAIR VALUE - Pluggable estimators for a binary outcome price
// ═══════════════════════════════════════════════════════════════════════════════

const (
	ModelLinear = "linear"
	ModelBinary = "binary"

	// DefaultAnnualVol is used when no volatility is configured
	DefaultAnnualVol = 0.50

	minutesPerYear = 525960.0
)

// PricingInput is everything an estimator may look at
type PricingInput struct {
	Side         types.Side
	MoveBps      int64
	Spot         decimal.Decimal
	Strike       decimal.Decimal // zero when unknown
	TimeToExpiry time.Duration
}

// FairValuer estimates the fair price in cents of the side being bought
type FairValuer interface {
	Name() string
	FairCents(in PricingInput) (int64, bool)
}

// NewFairValuer returns the estimator for a model name
func NewFairValuer(model string, annualVol float64) FairValuer {
	if model == ModelBinary {
		return BinaryOptionFairValue{AnnualVol: annualVol}
	}
	return LinearFairValue{}
}

// ─────────────────────────────────────────────────────────────────────────────
// Linear: 50¢ plus a cent per 10bps of move
// ─────────────────────────────────────────────────────────────────────────────

type LinearFairValue struct{}

func (LinearFairValue) Name() string { return ModelLinear }

func (LinearFairValue) FairCents(in PricingInput) (int64, bool) {
	move := in.MoveBps
	if move < 0 {
		move = -move
	}
	return 50 + move/10, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Binary option: P(spot finishes above strike) under a driftless lognormal
// ─────────────────────────────────────────────────────────────────────────────

type BinaryOptionFairValue struct {
	AnnualVol float64
}

func (BinaryOptionFairValue) Name() string { return ModelBinary }

func (b BinaryOptionFairValue) FairCents(in PricingInput) (int64, bool) {
	if !in.Spot.IsPositive() || !in.Strike.IsPositive() {
		return 0, false
	}

	vol := b.AnnualVol
	if vol == 0 {
		vol = DefaultAnnualVol
	}

	spot, _ := in.Spot.Float64()
	strike, _ := in.Strike.Float64()
	yes, no := BinaryFairValue(spot, strike, in.TimeToExpiry.Minutes(), vol)

	if in.Side == types.SideNo {
		return no, true
	}
	return yes, true
}

// BinaryFairValue returns (yes, no) cents for "spot above strike at expiry"
func BinaryFairValue(spot, strike, minutesRemaining, annualVol float64) (int64, int64) {
	if minutesRemaining <= 0 || annualVol <= 0 {
		if spot > strike {
			return 100, 0
		}
		return 0, 100
	}

	t := minutesRemaining / minutesPerYear
	sigmaRootT := annualVol * math.Sqrt(t)
	d2 := (math.Log(spot/strike) - 0.5*annualVol*annualVol*t) / sigmaRootT

	p := normalCDF(d2)
	return int64(math.Round(p * 100)), int64(math.Round((1 - p) * 100))
}

// normalCDF is the standard normal cumulative distribution
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
