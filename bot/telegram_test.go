package bot

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/storage"
	"github.com/web3guy0/polymomentum/types"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.msgs = append(f.msgs, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return f.msgs[len(f.msgs)-1]
}

type fakeControl struct {
	paused   bool
	failures int
	halted   bool
}

func (c *fakeControl) Pause()       { c.paused = true }
func (c *fakeControl) Resume()      { c.paused, c.halted, c.failures = false, false, 0 }
func (c *fakeControl) Paused() bool { return c.paused }

func (c *fakeControl) BreakerStats() (int, bool, string) {
	if c.halted {
		return c.failures, true, "max consecutive order failures: HTTP 500"
	}
	return c.failures, false, ""
}

type fakeStatus struct {
	markets []types.Market
	pending int
	spots   map[string]decimal.Decimal
}

func (s fakeStatus) Markets() []types.Market { return s.markets }
func (s fakeStatus) PendingCount() int       { return s.pending }

func (s fakeStatus) Spot(asset string) (decimal.Decimal, bool) {
	px, ok := s.spots[asset]
	return px, ok
}

type fakeHistory struct {
	rows  []storage.Dispatch
	err   error
	limit int
}

func (h *fakeHistory) Recent(limit int) ([]storage.Dispatch, error) {
	h.limit = limit
	return h.rows, h.err
}

func testOrder() types.Order {
	return types.Order{
		Asset:     "BTC",
		Side:      types.SideYes,
		AskCents:  45,
		FairCents: 55,
		EdgeCents: 10,
		MoveBps:   50,
		Quantity:  decimal.RequireFromString("55.55"),
		Notional:  decimal.RequireFromString("24.9975"),
	}
}

func TestFormatDispatch(t *testing.T) {
	msg := FormatDispatch("paper", testOrder())
	for _, want := range []string{"🟢 *BUY YES* (PAPER)", "*BTC* move +50bps", "Ask: *45¢* | Fair: *55¢* | Edge: *10¢*", "*$25.00* (55.55 contracts)"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("dispatch message missing %q:\n%s", want, msg)
		}
	}

	o := testOrder()
	o.Side = types.SideNo
	o.MoveBps = -30
	if msg := FormatDispatch("live", o); !strings.Contains(msg, "🔴 *BUY NO* (LIVE)") || !strings.Contains(msg, "-30bps") {
		t.Fatalf("unexpected NO message:\n%s", msg)
	}
}

func TestFormatFillAndFailure(t *testing.T) {
	fill := types.Fill{
		FilledSize: decimal.RequireFromString("55.55"),
		FillCost:   decimal.RequireFromString("24.9975"),
		OrderID:    "paper-1",
	}
	msg := FormatFill(testOrder(), fill)
	if !strings.Contains(msg, "✅ *FILLED*") || !strings.Contains(msg, "55.55 contracts for *$25.00*") || !strings.Contains(msg, "paper-1") {
		t.Fatalf("unexpected fill message:\n%s", msg)
	}

	msg = FormatFailure(testOrder(), errors.New("HTTP 400"))
	if !strings.Contains(msg, "❌ *ORDER FAILED*") || !strings.Contains(msg, "BTC YES @ 45¢") || !strings.Contains(msg, "HTTP 400") {
		t.Fatalf("unexpected failure message:\n%s", msg)
	}
}

func TestFormatStatus(t *testing.T) {
	markets := []types.Market{{Asset: "BTC", YesBid: types.CentsOf(44), YesAsk: types.CentsOf(46), NoAsk: types.CentsOf(56)}}

	msg := FormatStatus(StatusReport{
		Mode:    "paper",
		Pending: 2,
		Markets: markets,
		Spots:   map[string]decimal.Decimal{"BTC": decimal.RequireFromString("100150.5")},
	})
	if !strings.Contains(msg, "🟢 RUNNING") || !strings.Contains(msg, "Pending: *2*") {
		t.Fatalf("unexpected status:\n%s", msg)
	}
	if !strings.Contains(msg, "*BTC* YES 44¢/46¢ NO -/56¢ | spot $100150.5") {
		t.Fatalf("unexpected market line:\n%s", msg)
	}
	if strings.Contains(msg, "Failed orders") {
		t.Fatalf("clean breaker must not be reported:\n%s", msg)
	}

	if msg := FormatStatus(StatusReport{Mode: "paper", Paused: true}); !strings.Contains(msg, "⏸️ PAUSED") {
		t.Fatalf("paused status missing:\n%s", msg)
	}

	msg = FormatStatus(StatusReport{Mode: "live", Paused: true, Failures: 3, Halted: true, HaltReason: "HTTP 500"})
	if !strings.Contains(msg, "🚨 HALTED") || !strings.Contains(msg, "Failed orders in a row: *3*") || !strings.Contains(msg, "HTTP 500") {
		t.Fatalf("halted status missing:\n%s", msg)
	}
}

func TestFormatTrades(t *testing.T) {
	if msg := FormatTrades(nil); !strings.Contains(msg, "No trades yet") {
		t.Fatalf("empty trades got=%q", msg)
	}

	at := time.Date(2025, 1, 1, 12, 30, 5, 0, time.UTC)
	rows := []storage.Dispatch{
		{Asset: "BTC", Side: "YES", AskCents: 45, Notional: decimal.RequireFromString("24.9975"), Mode: "paper", Status: storage.StatusFilled, DispatchedAt: at},
		{Asset: "ETH", Side: "NO", AskCents: 40, Notional: decimal.RequireFromString("25"), Mode: "live", Status: storage.StatusFailed, DispatchedAt: at},
	}
	msg := FormatTrades(rows)
	for _, want := range []string{"✅ 12:30:05 BTC YES @ 45¢ $25.00 (paper)", "❌ 12:30:05 ETH NO @ 40¢ $25.00 (live)"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("trades missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatStartup(t *testing.T) {
	msg := FormatStartup("paper", []types.Market{{Asset: "ETH", Description: "ETH Up or Down"}})
	if !strings.Contains(msg, "Mode: *PAPER*") || !strings.Contains(msg, "ETH Up or Down") {
		t.Fatalf("unexpected startup:\n%s", msg)
	}
}

func TestHandleCommands(t *testing.T) {
	api := &fakeSender{}
	ctl := &fakeControl{}
	n := &Notifier{api: api, chatID: 42, mode: "paper"}
	n.Attach(fakeStatus{pending: 1}, ctl)

	n.handleCommand("pause")
	if !ctl.paused {
		t.Fatalf("/pause did not pause")
	}
	if got := api.Last(); got.ChatID != 42 || !strings.Contains(got.Text, "paused") {
		t.Fatalf("pause reply got=%+v", got)
	}

	n.handleCommand("status")
	if got := api.Last(); !strings.Contains(got.Text, "PAUSED") || got.ParseMode != tgbotapi.ModeMarkdown {
		t.Fatalf("status reply got=%+v", got)
	}

	ctl.failures, ctl.halted = 3, true
	n.handleCommand("status")
	if got := api.Last(); !strings.Contains(got.Text, "HALTED") || !strings.Contains(got.Text, "HTTP 500") {
		t.Fatalf("halted status reply got=%q", got.Text)
	}

	n.handleCommand("Resume")
	if ctl.paused || ctl.halted {
		t.Fatalf("/resume did not resume")
	}

	n.handleCommand("trades")
	if got := api.Last(); !strings.Contains(got.Text, "Journal not available") {
		t.Fatalf("trades without journal got=%q", got.Text)
	}
	history := &fakeHistory{}
	n.AttachHistory(history)
	n.handleCommand("trades")
	if got := api.Last(); !strings.Contains(got.Text, "No trades yet") || history.limit != recentTrades {
		t.Fatalf("trades reply got=%q limit=%d", got.Text, history.limit)
	}
	history.err = errors.New("db closed")
	n.handleCommand("trades")
	if got := api.Last(); !strings.Contains(got.Text, "read failed") {
		t.Fatalf("trades error reply got=%q", got.Text)
	}

	n.handleCommand("ping")
	if got := api.Last(); got.Text != "🏓 Pong!" {
		t.Fatalf("ping reply got=%q", got.Text)
	}

	n.handleCommand("bogus")
	if got := api.Last(); !strings.Contains(got.Text, "Unknown command") {
		t.Fatalf("unknown reply got=%q", got.Text)
	}
}

func TestStatusWithoutProvider(t *testing.T) {
	api := &fakeSender{}
	n := &Notifier{api: api, chatID: 1, mode: "paper"}

	n.handleCommand("status")
	if got := api.Last(); !strings.Contains(got.Text, "not available") {
		t.Fatalf("status reply got=%q", got.Text)
	}
}

func TestNewNotifierValidation(t *testing.T) {
	if _, err := NewNotifier("", 1, "paper"); err == nil {
		t.Fatalf("empty token must error")
	}
	if _, err := NewNotifier("token", 0, "paper"); err == nil {
		t.Fatalf("zero chat id must error")
	}
}
