package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/metrics"
	"github.com/web3guy0/polymomentum/risk"
	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION LOOP - Signals to orders
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every tick:
//   expire stale → drain → pause/breaker → resolve market → cooldown → side/ask → edge → dispatch
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultDecisionInterval = 100 * time.Millisecond
	DefaultSignalTTL        = 5 * time.Second
)

var hundred = decimal.NewFromInt(100)

// DecisionConfig holds loop timing and order sizing
type DecisionConfig struct {
	Size      decimal.Decimal // notional per trade in dollars
	Interval  time.Duration
	SignalTTL time.Duration
	DryRun    bool
}

// DecisionLoop consumes pending signals
type DecisionLoop struct {
	state      *State
	gate       *risk.Gate
	dispatcher *Dispatcher
	cfg        DecisionConfig
	now        func() time.Time

	paused atomic.Bool
}

// NewDecisionLoop creates the loop. A nil clock means time.Now.
func NewDecisionLoop(state *State, gate *risk.Gate, dispatcher *Dispatcher, cfg DecisionConfig, clock func() time.Time) *DecisionLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDecisionInterval
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = DefaultSignalTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &DecisionLoop{
		state:      state,
		gate:       gate,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        clock,
	}
}

// Pause stops trading; signals keep being drained and are dropped
func (l *DecisionLoop) Pause() { l.paused.Store(true) }

// Resume re-enables trading and closes a tripped breaker
func (l *DecisionLoop) Resume() {
	l.paused.Store(false)
	l.dispatcher.ResetBreaker()
}

// Paused reports whether trading is paused
func (l *DecisionLoop) Paused() bool { return l.paused.Load() }

// BreakerStats exposes the dispatcher's circuit breaker for /status
func (l *DecisionLoop) BreakerStats() (int, bool, string) {
	return l.dispatcher.BreakerStats()
}

// Run ticks until ctx is cancelled
func (l *DecisionLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", l.cfg.Interval).
		Bool("dry_run", l.cfg.DryRun).
		Msg("⚡ Decision loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Decision loop stopped")
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick runs one pass and returns the orders it dispatched
func (l *DecisionLoop) Tick(ctx context.Context) []types.Order {
	now := l.now()

	for _, sig := range l.state.ExpireSignals(now, l.cfg.SignalTTL) {
		metrics.DecisionsTotal.WithLabelValues(string(risk.SkipExpired)).Inc()
		log.Debug().
			Str("asset", sig.Asset).
			Dur("age", now.Sub(sig.CreatedAt)).
			Msg("Signal expired")
	}

	signals := l.state.DrainSignals()
	if len(signals) == 0 {
		return nil
	}

	if l.Paused() {
		metrics.DecisionsTotal.WithLabelValues(string(risk.SkipPaused)).Add(float64(len(signals)))
		return nil
	}
	if l.dispatcher.Halted() {
		metrics.DecisionsTotal.WithLabelValues(string(risk.SkipHalted)).Add(float64(len(signals)))
		log.Warn().Int("dropped", len(signals)).Msg("Circuit breaker open, signals dropped")
		return nil
	}

	var orders []types.Order
	for _, sig := range signals {
		if order, ok := l.decide(sig, now); ok {
			l.dispatcher.Dispatch(ctx, order)
			orders = append(orders, order)
		}
	}
	return orders
}

// decide reserves the market for sig and builds the order when approved
func (l *DecisionLoop) decide(sig types.MomentumSignal, now time.Time) (types.Order, bool) {
	res := l.state.Reserve(sig, l.gate, now)
	d := res.Decision

	if !d.Approved() {
		metrics.DecisionsTotal.WithLabelValues(string(d.Reason)).Inc()
		switch d.Reason {
		case risk.SkipCooldown:
			log.Info().
				Str("asset", sig.Asset).
				Dur("remaining", d.CooldownLeft.Round(time.Millisecond)).
				Msg("⏳ Cooldown active")
		case risk.SkipLowEdge:
			log.Info().
				Str("asset", sig.Asset).
				Int64("fair", d.FairCents).
				Int64("ask", d.AskCents).
				Int64("edge", d.EdgeCents).
				Msg("Edge too small")
		default:
			log.Debug().
				Str("asset", sig.Asset).
				Int64("bps", sig.MagnitudeBps).
				Str("reason", string(d.Reason)).
				Msg("Signal skipped")
		}
		return types.Order{}, false
	}

	price := decimal.NewFromInt(d.AskCents).Div(hundred)
	quantity := l.cfg.Size.Div(price).RoundFloor(2)

	order := types.Order{
		MarketID:     res.Market.ID,
		Asset:        sig.Asset,
		Side:         d.Side,
		TokenID:      d.TokenID,
		AskCents:     d.AskCents,
		FairCents:    d.FairCents,
		EdgeCents:    d.EdgeCents,
		MoveBps:      sig.MagnitudeBps,
		Price:        price,
		Quantity:     quantity,
		Notional:     quantity.Mul(price),
		DryRun:       l.cfg.DryRun,
		DispatchedAt: now,
	}

	metrics.DecisionsTotal.WithLabelValues("dispatched").Inc()
	log.Info().
		Str("asset", order.Asset).
		Str("dir", sig.Direction.String()).
		Int64("bps", order.MoveBps).
		Str("side", string(order.Side)).
		Int64("ask", order.AskCents).
		Int64("fair", order.FairCents).
		Int64("edge", order.EdgeCents).
		Str("size", "$"+l.cfg.Size.StringFixed(2)).
		Bool("dry_run", order.DryRun).
		Msg("🚀 Dispatching order")

	return order, true
}
