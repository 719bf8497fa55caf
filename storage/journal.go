package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE JOURNAL - Append-only record of dispatched orders
// ═══════════════════════════════════════════════════════════════════════════════
//
// The engine writes here and never restores state from it; /trades only
// displays recent rows. Postgres when the DSN is a postgres:// URL, SQLite
// file otherwise.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Dispatch statuses
const (
	StatusDispatched = "dispatched"
	StatusFilled     = "filled"
	StatusFailed     = "failed"
)

// Dispatch is one order handed to an executor
type Dispatch struct {
	ID           string          `gorm:"primaryKey"`
	MarketID     string          `gorm:"index"`
	Asset        string          `gorm:"index"`
	Side         string          // "YES" or "NO"
	TokenID      string
	MoveBps      int64
	AskCents     int64
	FairCents    int64
	EdgeCents    int64
	Price        decimal.Decimal `gorm:"type:decimal(10,6)"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Notional     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Mode         string          // "paper" or "live"
	Status       string          `gorm:"index"`
	OrderID      string
	FilledSize   decimal.Decimal `gorm:"type:decimal(20,6)"`
	FillCost     decimal.Decimal `gorm:"type:decimal(20,6)"`
	ErrorMessage string
	DispatchedAt time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Journal struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema
func Open(dsn string) (*Journal, error) {
	if dsn == "" {
		return nil, errors.New("journal dsn required")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Journal connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Dispatch{}); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// RecordDispatch stores an order as dispatched and returns its journal id
func (j *Journal) RecordDispatch(order types.Order, mode string) (string, error) {
	rec := &Dispatch{
		ID:           uuid.NewString(),
		MarketID:     order.MarketID,
		Asset:        order.Asset,
		Side:         string(order.Side),
		TokenID:      order.TokenID,
		MoveBps:      order.MoveBps,
		AskCents:     order.AskCents,
		FairCents:    order.FairCents,
		EdgeCents:    order.EdgeCents,
		Price:        order.Price,
		Quantity:     order.Quantity,
		Notional:     order.Notional,
		Mode:         mode,
		Status:       StatusDispatched,
		DispatchedAt: order.DispatchedAt,
	}
	if err := j.db.Create(rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// RecordOutcome marks a dispatch filled or failed
func (j *Journal) RecordOutcome(id string, fill types.Fill, execErr error, at time.Time) error {
	updates := map[string]any{
		"completed_at": at,
	}
	if execErr != nil {
		updates["status"] = StatusFailed
		updates["error_message"] = execErr.Error()
	} else {
		updates["status"] = StatusFilled
		updates["order_id"] = fill.OrderID
		updates["filled_size"] = fill.FilledSize
		updates["fill_cost"] = fill.FillCost
	}
	return j.db.Model(&Dispatch{}).Where("id = ?", id).Updates(updates).Error
}

// Recent returns the latest dispatches, newest first
func (j *Journal) Recent(limit int) ([]Dispatch, error) {
	var out []Dispatch
	err := j.db.Order("dispatched_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying connection
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
