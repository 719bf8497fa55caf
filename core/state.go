package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/feeds"
	"github.com/web3guy0/polymomentum/metrics"
	"github.com/web3guy0/polymomentum/risk"
	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE STATE - Series, markets and pending signals behind one lock
// ═══════════════════════════════════════════════════════════════════════════════
//
// Writers: price ingestor (ApplyPrices), book ingestor (ApplyBooks),
// decision loop (ExpireSignals, DrainSignals, Reserve), dispatcher (RecordOutcome).
// Critical sections touch memory only.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrAmbiguousToken is returned when one token belongs to two markets
var ErrAmbiguousToken = errors.New("token maps to more than one market")

// State is the shared engine state
type State struct {
	mu  sync.RWMutex
	now func() time.Time

	detector feeds.MomentumDetector

	series  map[string]*feeds.PriceSeries // asset → series
	markets map[string]*types.Market      // market id → market
	byToken map[string]string             // token → market id
	byAsset map[string]string             // asset → soonest market id
	pending map[string]types.MomentumSignal

	assets []string
	tokens []string
}

// Reservation is the result of Reserve
type Reservation struct {
	Decision risk.Decision
	Market   types.Market // snapshot after the optimistic update
	Spot     decimal.Decimal
}

// NewState indexes the discovered markets. Assets without a market are still
// tracked so their series warm up. A nil clock means time.Now.
func NewState(markets []types.Market, assets []string, detector feeds.MomentumDetector, clock func() time.Time) (*State, error) {
	if clock == nil {
		clock = time.Now
	}

	s := &State{
		now:      clock,
		detector: detector,
		series:   make(map[string]*feeds.PriceSeries),
		markets:  make(map[string]*types.Market, len(markets)),
		byToken:  make(map[string]string, 2*len(markets)),
		byAsset:  make(map[string]string),
		pending:  make(map[string]types.MomentumSignal),
	}

	for i := range markets {
		m := markets[i]
		if m.ID == "" {
			return nil, errors.New("market without id")
		}
		if _, dup := s.markets[m.ID]; dup {
			return nil, fmt.Errorf("duplicate market %s", m.ID)
		}
		m.Asset = strings.ToUpper(m.Asset)

		for _, tok := range []string{m.YesToken, m.NoToken} {
			if tok == "" {
				return nil, fmt.Errorf("market %s: missing token", m.ID)
			}
			if other, ok := s.byToken[tok]; ok {
				return nil, fmt.Errorf("%w: %s in %s and %s", ErrAmbiguousToken, tok, other, m.ID)
			}
			s.byToken[tok] = m.ID
			s.tokens = append(s.tokens, tok)
		}

		s.markets[m.ID] = &m
		if cur, ok := s.byAsset[m.Asset]; !ok || soonerThan(&m, s.markets[cur]) {
			s.byAsset[m.Asset] = m.ID
		}
		s.track(m.Asset)
	}

	for _, a := range assets {
		s.track(strings.ToUpper(a))
	}
	sort.Strings(s.assets)

	return s, nil
}

func (s *State) track(asset string) {
	if asset == "" {
		return
	}
	if _, ok := s.series[asset]; ok {
		return
	}
	s.series[asset] = feeds.NewPriceSeries(s.now)
	s.assets = append(s.assets, asset)
}

// soonerThan orders markets by expiry; markets without one sort last
func soonerThan(a, b *types.Market) bool {
	if !a.HasExpiry() {
		return false
	}
	if !b.HasExpiry() {
		return true
	}
	return a.Expiry.Before(b.Expiry)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FEED WRITERS
// ═══════════════════════════════════════════════════════════════════════════════

// ApplyPrices records one price frame and returns how many signals it raised
func (s *State) ApplyPrices(batch []feeds.PriceQuote) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	raised := 0
	for _, q := range batch {
		series, ok := s.series[q.Asset]
		if !ok {
			continue
		}

		_, pending := s.pending[q.Asset]
		sig, fired := s.detector.Observe(q.Asset, series, q.Price, pending, now)
		if fired {
			s.pending[q.Asset] = sig
			raised++
			metrics.SignalsTotal.WithLabelValues(sig.Asset, sig.Direction.String()).Inc()
			log.Info().
				Str("asset", sig.Asset).
				Str("dir", sig.Direction.String()).
				Int64("bps", sig.MagnitudeBps).
				Str("price", q.Price.String()).
				Msg("⚡ Momentum signal")
		}

		s.captureStrike(q.Asset, series, now)
	}
	return raised
}

// captureStrike fixes the window-open price once the window has started
func (s *State) captureStrike(asset string, series *feeds.PriceSeries, now time.Time) {
	id, ok := s.byAsset[asset]
	if !ok {
		return
	}
	m := s.markets[id]
	if !m.Strike.IsZero() || m.WindowStart.IsZero() || now.Before(m.WindowStart) {
		return
	}
	if px, ok := series.PriceAt(now.Sub(m.WindowStart)); ok {
		m.Strike = px
		log.Debug().Str("asset", asset).Str("strike", px.String()).Msg("Strike captured")
	}
}

// ApplyBooks records one book frame and returns how many markets changed
func (s *State) ApplyBooks(batch []feeds.TopOfBook) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, top := range batch {
		id, ok := s.byToken[top.TokenID]
		if !ok {
			continue
		}
		m := s.markets[id]
		if top.TokenID == m.YesToken {
			m.YesBid, m.YesAsk = top.BestBid, top.BestAsk
		} else {
			m.NoBid, m.NoAsk = top.BestBid, top.BestAsk
		}
		updated++
	}
	return updated
}

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION LOOP ACCESS
// ═══════════════════════════════════════════════════════════════════════════════

// ExpireSignals drops pending signals created more than ttl before now
func (s *State) ExpireSignals(now time.Time, ttl time.Duration) []types.MomentumSignal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []types.MomentumSignal
	for asset, sig := range s.pending {
		if now.Sub(sig.CreatedAt) > ttl {
			expired = append(expired, sig)
			delete(s.pending, asset)
		}
	}
	sortSignals(expired)
	return expired
}

// DrainSignals removes and returns every pending signal
func (s *State) DrainSignals() []types.MomentumSignal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	out := make([]types.MomentumSignal, 0, len(s.pending))
	for asset, sig := range s.pending {
		out = append(out, sig)
		delete(s.pending, asset)
	}
	sortSignals(out)
	return out
}

func sortSignals(sigs []types.MomentumSignal) {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Asset < sigs[j].Asset })
}

// Reserve resolves the signal's market, runs the gate and, when approved,
// stamps last_trade_time = now so no other signal can pass the cooldown.
func (s *State) Reserve(sig types.MomentumSignal, gate *risk.Gate, now time.Time) Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAsset[sig.Asset]
	if !ok {
		return Reservation{Decision: risk.Decision{Reason: risk.SkipNoMarket}}
	}
	m := s.markets[id]

	var spot decimal.Decimal
	if series, ok := s.series[sig.Asset]; ok {
		spot, _ = series.LastPrice()
	}

	d := gate.Evaluate(sig, m, spot, now)
	if d.Approved() {
		m.LastTradeTime = now
	}
	return Reservation{Decision: d, Market: *m, Spot: spot}
}

// RecordOutcome stores a fill against its market
func (s *State) RecordOutcome(marketID string, fill types.Fill, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return
	}
	if at.After(m.LastTradeTime) {
		m.LastTradeTime = at
	}
	if fill.OrderID != "" {
		m.LastOrderID = fill.OrderID
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOTS
// ═══════════════════════════════════════════════════════════════════════════════

// Assets returns every tracked asset, sorted
func (s *State) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.assets...)
}

// TokenIDs returns every outcome token of every market
func (s *State) TokenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tokens...)
}

// Market returns a copy of a market by id
func (s *State) Market(id string) (types.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return types.Market{}, false
	}
	return *m, true
}

// Markets returns copies of all markets ordered by asset then expiry
func (s *State) Markets() []types.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Expiry.Before(out[j].Expiry)
	})
	return out
}

// Spot returns the last observed price for an asset
func (s *State) Spot(asset string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[asset]
	if !ok {
		return decimal.Zero, false
	}
	return series.LastPrice()
}

// PendingCount returns the number of undispatched signals
func (s *State) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Pending returns the pending signal for an asset
func (s *State) Pending(asset string) (types.MomentumSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.pending[asset]
	return sig, ok
}
