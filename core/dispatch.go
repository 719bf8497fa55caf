package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polymomentum/exec"
	"github.com/web3guy0/polymomentum/metrics"
	"github.com/web3guy0/polymomentum/risk"
	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DISPATCHER - Fire-and-forget order execution
// ═══════════════════════════════════════════════════════════════════════════════
//
// One goroutine per order. The decision loop never waits on an executor; the
// goroutine re-enters State only to record the outcome.
//
// ═══════════════════════════════════════════════════════════════════════════════

const defaultOrderTimeout = 10 * time.Second

// Journal records dispatches and their outcomes
type Journal interface {
	RecordDispatch(order types.Order, mode string) (string, error)
	RecordOutcome(id string, fill types.Fill, execErr error, at time.Time) error
}

// TradeNotifier is told about every dispatch and its result
type TradeNotifier interface {
	NotifyDispatch(order types.Order)
	NotifyFill(order types.Order, fill types.Fill)
	NotifyFailure(order types.Order, err error)
}

// Dispatcher runs orders against an executor
type Dispatcher struct {
	state    *State
	executor exec.Executor
	journal  Journal
	notifier TradeNotifier
	breaker  *risk.CircuitBreaker
	timeout  time.Duration
	now      func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher; journal and notifier may be nil
func NewDispatcher(state *State, executor exec.Executor, journal Journal, notifier TradeNotifier) *Dispatcher {
	return &Dispatcher{
		state:    state,
		executor: executor,
		journal:  journal,
		notifier: notifier,
		timeout:  defaultOrderTimeout,
		now:      time.Now,
	}
}

// SetClock overrides the completion timestamp source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetBreaker installs a circuit breaker fed by order outcomes
func (d *Dispatcher) SetBreaker(b *risk.CircuitBreaker) {
	d.breaker = b
}

// Halted reports whether the breaker is open
func (d *Dispatcher) Halted() bool {
	return d.breaker != nil && d.breaker.Open()
}

// BreakerStats reports the failure streak and whether dispatch is halted
func (d *Dispatcher) BreakerStats() (int, bool, string) {
	if d.breaker == nil {
		return 0, false, ""
	}
	return d.breaker.Stats()
}

// ResetBreaker closes the breaker after a manual resume
func (d *Dispatcher) ResetBreaker() {
	if d.breaker != nil {
		d.breaker.ForceReset()
	}
}

// Mode returns the executor mode label
func (d *Dispatcher) Mode() string {
	return d.executor.Mode()
}

// Dispatch starts executing order in the background
func (d *Dispatcher) Dispatch(ctx context.Context, order types.Order) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(ctx, order)
	}()
}

// Wait blocks until every in-flight order has completed
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, order types.Order) {
	mode := d.executor.Mode()

	// In-flight orders finish even if shutdown starts
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	// FAK orders go out first; journal and alerts only see the result
	start := time.Now()
	fill, err := d.executor.Buy(ctx, order.TokenID, order.Price, order.Quantity)
	metrics.OrderLatency.Observe(time.Since(start).Seconds())
	done := d.now()

	if err != nil {
		metrics.OrdersTotal.WithLabelValues(mode, "failed").Inc()
		if d.breaker != nil {
			d.breaker.RecordFailure(err)
		}
		log.Error().
			Err(err).
			Str("asset", order.Asset).
			Str("side", string(order.Side)).
			Int64("ask", order.AskCents).
			Msg("❌ Order failed")
	} else {
		metrics.OrdersTotal.WithLabelValues(mode, "filled").Inc()
		if d.breaker != nil {
			d.breaker.RecordSuccess()
		}
		d.state.RecordOutcome(order.MarketID, fill, done)
		log.Info().
			Str("asset", order.Asset).
			Str("side", string(order.Side)).
			Str("order_id", fill.OrderID).
			Str("filled", fill.FilledSize.StringFixed(2)).
			Str("cost", "$"+fill.FillCost.StringFixed(2)).
			Msg("✅ Order filled")
	}

	d.record(order, mode, fill, err, done)
	d.notify(order, fill, err)
}

// record journals the dispatch (stamped order.DispatchedAt) and its outcome
func (d *Dispatcher) record(order types.Order, mode string, fill types.Fill, execErr error, done time.Time) {
	if d.journal == nil {
		return
	}
	id, err := d.journal.RecordDispatch(order, mode)
	if err != nil || id == "" {
		log.Warn().Err(err).Msg("Journal write failed")
		return
	}
	if err := d.journal.RecordOutcome(id, fill, execErr, done); err != nil {
		log.Warn().Err(err).Msg("Journal update failed")
	}
}

func (d *Dispatcher) notify(order types.Order, fill types.Fill, execErr error) {
	if d.notifier == nil {
		return
	}
	d.notifier.NotifyDispatch(order)
	if execErr != nil {
		d.notifier.NotifyFailure(order, execErr)
		return
	}
	d.notifier.NotifyFill(order, fill)
}
