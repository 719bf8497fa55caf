package exec

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// PaperClient fills every order immediately and in full at the limit price.
// Used in dry-run so dispatch takes the same path as live trading.
type PaperClient struct{}

// NewPaperClient creates a simulated executor
func NewPaperClient() *PaperClient {
	log.Info().Str("mode", "paper").Msg("📝 Paper execution enabled")
	return &PaperClient{}
}

func (p *PaperClient) Mode() string { return "paper" }

func (p *PaperClient) Buy(ctx context.Context, tokenID string, price, quantity decimal.Decimal) (types.Fill, error) {
	if err := ctx.Err(); err != nil {
		return types.Fill{}, err
	}
	if !price.IsPositive() || !quantity.IsPositive() {
		return types.Fill{}, fmt.Errorf("invalid paper order: %s @ %s", quantity, price)
	}

	fill := types.Fill{
		FilledSize: quantity,
		FillCost:   quantity.Mul(price),
		OrderID:    "paper-" + uuid.NewString(),
	}

	log.Info().
		Str("order_id", fill.OrderID).
		Str("token", shortToken(tokenID)).
		Str("price", price.StringFixed(2)).
		Str("size", quantity.StringFixed(2)).
		Msg("📝 DRY RUN: Order would be placed")

	return fill, nil
}

func shortToken(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
