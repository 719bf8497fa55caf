package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type slowJournal struct {
	log   *eventLog
	delay time.Duration

	mu           sync.Mutex
	dispatchedAt time.Time
}

func (j *slowJournal) RecordDispatch(o types.Order, _ string) (string, error) {
	j.log.add("journal")
	time.Sleep(j.delay)
	j.mu.Lock()
	j.dispatchedAt = o.DispatchedAt
	j.mu.Unlock()
	return "row-1", nil
}

func (j *slowJournal) RecordOutcome(string, types.Fill, error, time.Time) error {
	j.log.add("journal_outcome")
	return nil
}

type slowNotifier struct {
	log   *eventLog
	delay time.Duration
}

func (n *slowNotifier) NotifyDispatch(types.Order) {
	n.log.add("notify_dispatch")
	time.Sleep(n.delay)
}

func (n *slowNotifier) NotifyFill(types.Order, types.Fill) { n.log.add("notify_fill") }

func (n *slowNotifier) NotifyFailure(types.Order, error) { n.log.add("notify_failure") }

type signalingExecutor struct {
	log    *eventLog
	called chan time.Time
}

func (e *signalingExecutor) Mode() string { return "paper" }

func (e *signalingExecutor) Buy(_ context.Context, _ string, price, quantity decimal.Decimal) (types.Fill, error) {
	e.log.add("buy")
	e.called <- time.Now()
	return types.Fill{FilledSize: quantity, FillCost: quantity.Mul(price), OrderID: "paper-1"}, nil
}

func TestDispatchSubmitsBeforeJournalAndAlerts(t *testing.T) {
	clk := newFakeClock()
	state := newTestState(t, clk, btcMarket(clk.Now()))

	events := &eventLog{}
	journal := &slowJournal{log: events, delay: 300 * time.Millisecond}
	notifier := &slowNotifier{log: events, delay: 700 * time.Millisecond}
	executor := &signalingExecutor{log: events, called: make(chan time.Time, 1)}

	d := NewDispatcher(state, executor, journal, notifier)
	d.SetClock(clk.Now)

	order := types.Order{
		MarketID:     "0xbtc",
		Asset:        "BTC",
		Side:         types.SideYes,
		TokenID:      "btc-yes",
		AskCents:     45,
		Price:        dec("0.45"),
		Quantity:     dec("55.55"),
		DispatchedAt: clk.Now(),
	}

	start := time.Now()
	d.Dispatch(context.Background(), order)

	select {
	case at := <-executor.called:
		if lag := at.Sub(start); lag > 200*time.Millisecond {
			t.Fatalf("order reached executor %v after dispatch", lag)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("executor never called")
	}
	d.Wait()

	want := []string{"buy", "journal", "journal_outcome", "notify_dispatch", "notify_fill"}
	got := events.Events()
	if len(got) != len(want) {
		t.Fatalf("events got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events got=%v want=%v", got, want)
		}
	}

	journal.mu.Lock()
	stamped := journal.dispatchedAt
	journal.mu.Unlock()
	if !stamped.Equal(order.DispatchedAt) {
		t.Fatalf("journal dispatched_at got=%v want=%v", stamped, order.DispatchedAt)
	}

	m, _ := state.Market("0xbtc")
	if m.LastOrderID != "paper-1" {
		t.Fatalf("last order id got=%q", m.LastOrderID)
	}
}
