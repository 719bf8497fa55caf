package feeds

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERBOOK - Top-of-book extraction from CLOB snapshots
// ═══════════════════════════════════════════════════════════════════════════════

var centsScale = decimal.NewFromInt(100)

// PriceLevel is a single price level as sent on the wire
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookSnapshot is a full book for one outcome token.
// Bids/Asks are pointers so a frame without them is not mistaken for an empty book.
type BookSnapshot struct {
	EventType string        `json:"event_type"`
	Market    string        `json:"market"`
	AssetID   string        `json:"asset_id"`
	Bids      *[]PriceLevel `json:"bids"`
	Asks      *[]PriceLevel `json:"asks"`
}

// IsBook reports whether the frame is a usable book snapshot
func (b *BookSnapshot) IsBook() bool {
	if b.AssetID == "" || b.Bids == nil || b.Asks == nil {
		return false
	}
	return b.EventType == "" || b.EventType == "book"
}

// TopOfBook is the best bid/ask for one token
type TopOfBook struct {
	TokenID string
	BestBid types.Cents
	BestAsk types.Cents
}

// Top reduces the snapshot to best bid (highest) and best ask (lowest).
// Unparseable or non-positive prices are ignored.
func (b *BookSnapshot) Top() TopOfBook {
	top := TopOfBook{TokenID: b.AssetID}
	if b.Bids != nil {
		for _, lvl := range *b.Bids {
			px := ParsePriceCents(lvl.Price)
			if px <= 0 {
				continue
			}
			if !top.BestBid.Valid || px > top.BestBid.Value {
				top.BestBid = types.CentsOf(px)
			}
		}
	}
	if b.Asks != nil {
		for _, lvl := range *b.Asks {
			px := ParsePriceCents(lvl.Price)
			if px <= 0 {
				continue
			}
			if !top.BestAsk.Valid || px < top.BestAsk.Value {
				top.BestAsk = types.CentsOf(px)
			}
		}
	}
	return top
}

// ParsePriceCents converts a decimal dollar string to rounded cents, 0 if invalid
func ParsePriceCents(s string) int64 {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d.Mul(centsScale).Round(0).IntPart()
}
