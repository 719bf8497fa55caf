package feeds

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE SERIES - Rolling time window of spot observations
// ═══════════════════════════════════════════════════════════════════════════════

// RetentionHorizon is the oldest a tick may be after any mutation
const RetentionHorizon = 60 * time.Second

var bpsScale = decimal.NewFromInt(10000)

// PriceSeries tracks spot prices for one asset over the retention horizon.
// Not safe for concurrent use; core.State guards it.
type PriceSeries struct {
	ticks   []types.PriceTick
	head    int // first retained tick
	last    decimal.Decimal
	hasLast bool
	now     func() time.Time
}

// NewPriceSeries creates an empty series. A nil clock means time.Now.
func NewPriceSeries(clock func() time.Time) *PriceSeries {
	if clock == nil {
		clock = time.Now
	}
	return &PriceSeries{
		ticks: make([]types.PriceTick, 0, 256),
		now:   clock,
	}
}

// AddTick records a price at the current time and drops expired ticks
func (s *PriceSeries) AddTick(price decimal.Decimal) {
	now := s.now()

	// Keep observed_at non-decreasing even if the clock steps back
	if n := len(s.ticks); n > s.head && now.Before(s.ticks[n-1].ObservedAt) {
		now = s.ticks[n-1].ObservedAt
	}

	s.ticks = append(s.ticks, types.PriceTick{Price: price, ObservedAt: now})
	s.last = price
	s.hasLast = true

	cutoff := now.Add(-RetentionHorizon)
	for s.head < len(s.ticks) && s.ticks[s.head].ObservedAt.Before(cutoff) {
		s.head++
	}
	s.compact()
}

// compact reclaims the dead prefix once it dominates the buffer
func (s *PriceSeries) compact() {
	if s.head == 0 || s.head < len(s.ticks)/2 {
		return
	}
	live := copy(s.ticks, s.ticks[s.head:])
	s.ticks = s.ticks[:live]
	s.head = 0
}

// ChangeBps returns the move from the oldest tick inside the window to the
// last observed price, in basis points rounded half away from zero.
func (s *PriceSeries) ChangeBps(window time.Duration) (int64, bool) {
	if !s.hasLast {
		return 0, false
	}
	live := s.ticks[s.head:]
	if len(live) == 0 {
		return 0, false
	}

	cutoff := s.now().Add(-window)
	i := sort.Search(len(live), func(i int) bool {
		return !live[i].ObservedAt.Before(cutoff)
	})
	if i == len(live) {
		return 0, false
	}

	ref := live[i].Price
	if ref.IsZero() {
		return 0, false
	}
	return s.last.Sub(ref).Mul(bpsScale).DivRound(ref, 0).IntPart(), true
}

// PriceAt returns the most recent price observed at or before now-ago
func (s *PriceSeries) PriceAt(ago time.Duration) (decimal.Decimal, bool) {
	live := s.ticks[s.head:]
	target := s.now().Add(-ago)

	// first tick strictly after target
	i := sort.Search(len(live), func(i int) bool {
		return live[i].ObservedAt.After(target)
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return live[i-1].Price, true
}

// LastPrice returns the most recently observed price
func (s *PriceSeries) LastPrice() (decimal.Decimal, bool) {
	return s.last, s.hasLast
}

// Len returns the number of retained ticks
func (s *PriceSeries) Len() int {
	return len(s.ticks) - s.head
}
