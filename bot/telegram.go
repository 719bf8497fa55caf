package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/storage"
	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Dispatch alerts and basic control
// ═══════════════════════════════════════════════════════════════════════════════
//
//   📤 dispatch   ✅ fill   ❌ failure
//   /status /trades /pause /resume /ping
//
// ═══════════════════════════════════════════════════════════════════════════════

const recentTrades = 5

// StatusProvider reports engine state for /status
type StatusProvider interface {
	Markets() []types.Market
	PendingCount() int
	Spot(asset string) (decimal.Decimal, bool)
}

// Controller pauses and resumes trading
type Controller interface {
	Pause()
	Resume()
	Paused() bool
	BreakerStats() (consecutiveFailures int, tripped bool, reason string)
}

// TradeHistory lists journaled dispatches for /trades
type TradeHistory interface {
	Recent(limit int) ([]storage.Dispatch, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends trade alerts to one chat
type Notifier struct {
	mu     sync.RWMutex
	api    sender
	chatID int64
	mode   string

	status  StatusProvider
	control Controller
	history TradeHistory

	updates tgbotapi.UpdatesChannel
}

// NewNotifier connects to the Bot API
func NewNotifier(token string, chatID int64, mode string) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("telegram token not set")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	n := &Notifier{api: api, chatID: chatID, mode: mode}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	n.updates = api.GetUpdatesChan(u)

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return n, nil
}

// Attach wires the status source and trading control for commands
func (n *Notifier) Attach(status StatusProvider, control Controller) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
	n.control = control
}

// AttachHistory enables /trades
func (n *Notifier) AttachHistory(history TradeHistory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = history
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

func (n *Notifier) NotifyStartup(markets []types.Market) {
	n.sendMarkdown(FormatStartup(n.mode, markets))
}

func (n *Notifier) NotifyDispatch(order types.Order) {
	n.sendMarkdown(FormatDispatch(n.mode, order))
}

func (n *Notifier) NotifyFill(order types.Order, fill types.Fill) {
	n.sendMarkdown(FormatFill(order, fill))
}

func (n *Notifier) NotifyFailure(order types.Order, err error) {
	n.sendMarkdown(FormatFailure(order, err))
}

// FormatStartup renders the startup banner
func FormatStartup(mode string, markets []types.Market) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 *POLYMOMENTUM STARTED*\n━━━━━━━━━━━━━━━━━━━━\n\n📊 Mode: *%s*\n", strings.ToUpper(mode))
	for _, m := range markets {
		fmt.Fprintf(&b, "🎯 %s — %s\n", m.Asset, m.Description)
	}
	return b.String()
}

// FormatDispatch renders an outgoing order
func FormatDispatch(mode string, o types.Order) string {
	emoji := "🟢"
	if o.Side == types.SideNo {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s *BUY %s* (%s)

📊 *%s* move %+dbps
💵 Ask: *%d¢* | Fair: *%d¢* | Edge: *%d¢*
📦 Size: *$%s* (%s contracts)`,
		emoji, o.Side, strings.ToUpper(mode),
		o.Asset, o.MoveBps,
		o.AskCents, o.FairCents, o.EdgeCents,
		o.Notional.StringFixed(2), o.Quantity.StringFixed(2),
	)
}

// FormatFill renders an execution result
func FormatFill(o types.Order, f types.Fill) string {
	return fmt.Sprintf(`✅ *FILLED*

📊 %s %s
📦 %s contracts for *$%s*
🧾 %s`,
		o.Asset, o.Side,
		f.FilledSize.StringFixed(2), f.FillCost.StringFixed(2),
		f.OrderID,
	)
}

// FormatFailure renders a failed order
func FormatFailure(o types.Order, err error) string {
	return fmt.Sprintf("❌ *ORDER FAILED*\n\n📊 %s %s @ %d¢\n`%s`", o.Asset, o.Side, o.AskCents, err.Error())
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

// Run answers commands from the configured chat until ctx is cancelled
func (n *Notifier) Run(ctx context.Context) {
	if n.updates == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-n.updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != n.chatID {
				continue
			}
			n.handleCommand(update.Message.Command())
		}
	}
}

func (n *Notifier) handleCommand(cmd string) {
	n.mu.RLock()
	status, control, history := n.status, n.control, n.history
	n.mu.RUnlock()

	switch strings.ToLower(cmd) {
	case "start", "help":
		n.send("/status — engine state\n/trades — recent orders\n/pause — stop trading\n/resume — resume trading\n/ping — test")
	case "status":
		if status == nil {
			n.send("❌ Status not available")
			return
		}
		n.sendMarkdown(FormatStatus(buildReport(n.mode, status, control)))
	case "trades":
		if history == nil {
			n.send("❌ Journal not available")
			return
		}
		rows, err := history.Recent(recentTrades)
		if err != nil {
			log.Warn().Err(err).Msg("Journal read failed")
			n.send("❌ Journal read failed")
			return
		}
		n.sendMarkdown(FormatTrades(rows))
	case "pause":
		if control != nil {
			control.Pause()
		}
		n.send("⏸️ Trading paused")
		log.Info().Msg("Trading paused via Telegram")
	case "resume":
		if control != nil {
			control.Resume()
		}
		n.send("▶️ Trading resumed")
		log.Info().Msg("Trading resumed via Telegram")
	case "ping":
		n.send("🏓 Pong!")
	default:
		n.send("❓ Unknown command. Use /help")
	}
}

// StatusReport is the engine snapshot behind /status
type StatusReport struct {
	Mode       string
	Paused     bool
	Pending    int
	Markets    []types.Market
	Spots      map[string]decimal.Decimal
	Failures   int
	Halted     bool
	HaltReason string
}

func buildReport(mode string, status StatusProvider, control Controller) StatusReport {
	r := StatusReport{
		Mode:    mode,
		Pending: status.PendingCount(),
		Markets: status.Markets(),
		Spots:   make(map[string]decimal.Decimal),
	}
	for _, m := range r.Markets {
		if px, ok := status.Spot(m.Asset); ok {
			r.Spots[m.Asset] = px
		}
	}
	if control != nil {
		r.Paused = control.Paused()
		r.Failures, r.Halted, r.HaltReason = control.BreakerStats()
	}
	return r
}

// FormatStatus renders the /status reply
func FormatStatus(r StatusReport) string {
	state := "🟢 RUNNING"
	switch {
	case r.Halted:
		state = "🚨 HALTED (circuit breaker)"
	case r.Paused:
		state = "⏸️ PAUSED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *STATUS*\n━━━━━━━━━━━━━━━━━━━━\n\n%s\n📊 Mode: *%s*\n⏳ Pending: *%d*\n", state, strings.ToUpper(r.Mode), r.Pending)
	if r.Failures > 0 || r.Halted {
		fmt.Fprintf(&b, "⚠️ Failed orders in a row: *%d*\n", r.Failures)
	}
	if r.HaltReason != "" {
		fmt.Fprintf(&b, "`%s`\n", r.HaltReason)
	}
	for _, m := range r.Markets {
		fmt.Fprintf(&b, "\n*%s* YES %s/%s NO %s/%s", m.Asset,
			centsStr(m.YesBid), centsStr(m.YesAsk), centsStr(m.NoBid), centsStr(m.NoAsk))
		if px, ok := r.Spots[m.Asset]; ok {
			fmt.Fprintf(&b, " | spot $%s", px.String())
		}
	}
	return b.String()
}

// FormatTrades renders the /trades reply, newest first
func FormatTrades(rows []storage.Dispatch) string {
	if len(rows) == 0 {
		return "📭 No trades yet"
	}

	var b strings.Builder
	b.WriteString("🧾 *RECENT TRADES*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, r := range rows {
		emoji := "⏳"
		switch r.Status {
		case storage.StatusFilled:
			emoji = "✅"
		case storage.StatusFailed:
			emoji = "❌"
		}
		fmt.Fprintf(&b, "\n%s %s %s %s @ %d¢ $%s (%s)", emoji,
			r.DispatchedAt.UTC().Format("15:04:05"), r.Asset, r.Side, r.AskCents,
			r.Notional.StringFixed(2), r.Mode)
	}
	return b.String()
}

func centsStr(c types.Cents) string {
	if !c.Valid {
		return "-"
	}
	return fmt.Sprintf("%d¢", c.Value)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (n *Notifier) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
