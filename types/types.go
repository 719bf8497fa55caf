package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Direction of a detected spot move
type Direction int

const (
	Up Direction = iota + 1
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "UNKNOWN"
	}
}

// Outcome side of a binary market
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// PriceTick is a single spot observation
type PriceTick struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// MomentumSignal is a detected directional move waiting for the decision loop
type MomentumSignal struct {
	Asset        string
	Direction    Direction
	MagnitudeBps int64 // signed
	CreatedAt    time.Time
}

// Cents is an optional price in integer cents
type Cents struct {
	Value int64
	Valid bool
}

// CentsOf wraps a known price
func CentsOf(v int64) Cents {
	return Cents{Value: v, Valid: true}
}

// Market is a binary prediction market with its top-of-book state
type Market struct {
	ID          string // condition ID
	Description string
	YesToken    string
	NoToken     string
	Asset       string // "BTC", "ETH", ...
	Expiry      time.Time
	WindowStart time.Time
	Strike      decimal.Decimal // price to beat, zero until known

	YesAsk Cents
	YesBid Cents
	NoAsk  Cents
	NoBid  Cents

	LastTradeTime time.Time
	LastOrderID   string
}

// HasExpiry reports whether the market carries an end date
func (m *Market) HasExpiry() bool {
	return !m.Expiry.IsZero()
}

// Token returns the token ID for an outcome side
func (m *Market) Token(side Side) string {
	if side == SideYes {
		return m.YesToken
	}
	return m.NoToken
}

// Ask returns the best ask for an outcome side
func (m *Market) Ask(side Side) Cents {
	if side == SideYes {
		return m.YesAsk
	}
	return m.NoAsk
}

// Order is an approved buy handed to the execution layer
type Order struct {
	MarketID     string
	Asset        string
	Side         Side
	TokenID      string
	AskCents     int64
	FairCents    int64
	EdgeCents    int64
	MoveBps      int64
	Price        decimal.Decimal // ask in dollars
	Quantity     decimal.Decimal // contracts
	Notional     decimal.Decimal // dollars
	DryRun       bool
	DispatchedAt time.Time
}

// Fill is the execution result of a buy
type Fill struct {
	FilledSize decimal.Decimal
	FillCost   decimal.Decimal
	OrderID    string
}
