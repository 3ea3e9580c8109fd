package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackedWallet is an externally observed account whose position changes are
// mirrored. Created/removed by operator action; the core only reads it.
type TrackedWallet struct {
	Address        string          `gorm:"primaryKey" json:"address"`
	Nickname       string          `json:"nickname"`
	Enabled        bool            `gorm:"index" json:"enabled"`
	MaxPositionUSD decimal.Decimal `gorm:"type:decimal(20,8)" json:"max_position_usd"`
	StopLossRatio  decimal.Decimal `gorm:"type:decimal(10,6)" json:"stop_loss_ratio"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (TrackedWallet) TableName() string {
	return "tracked_wallets"
}
