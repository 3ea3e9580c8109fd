package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletPositionSnapshot is the last-known position state for one
// (wallet, symbol) pair on the observation venue. SignedSize carries the
// venue convention: positive = long, negative = short.
// Owned exclusively by the classifier; never persisted.
type WalletPositionSnapshot struct {
	Wallet        string
	Symbol        string
	SignedSize    decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	AccountEquity decimal.Decimal
	ObservedAt    time.Time
}

// Side derives the position direction from the signed size.
// A flat snapshot reports SideLong; callers must check Size first.
func (s WalletPositionSnapshot) Side() Side {
	if s.SignedSize.IsNegative() {
		return SideShort
	}
	return SideLong
}

// Size returns the absolute position size.
func (s WalletPositionSnapshot) Size() decimal.Decimal {
	return s.SignedSize.Abs()
}

// Ratio is the source wallet's exposure ratio for this snapshot.
func (s WalletPositionSnapshot) Ratio() decimal.Decimal {
	return ExposureRatio(s.SignedSize, s.EntryPrice, s.AccountEquity)
}

// ExposureRatio computes |size × entryPrice| / equity.
// Returns zero when equity is zero or negative: an undercapitalized or
// errored source account never produces a follow signal. Ratios above 1
// (leveraged source) are returned as-is; caps are applied by the decision
// engine, not here.
func ExposureRatio(size, entryPrice, equity decimal.Decimal) decimal.Decimal {
	if equity.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return size.Mul(entryPrice).Abs().Div(equity)
}

// FollowerPosition is the system's own mirrored position on the execution
// venue. At most one row exists per symbol, and SourceWallet is immutable
// until the position is closed (the symbol lock).
type FollowerPosition struct {
	Symbol       string          `gorm:"primaryKey" json:"symbol"`
	Side         Side            `gorm:"type:varchar(8)" json:"side"`
	Size         decimal.Decimal `gorm:"type:decimal(30,12)" json:"size"`
	EntryPrice   decimal.Decimal `gorm:"type:decimal(30,12)" json:"entry_price"`
	SourceWallet string          `gorm:"index" json:"source_wallet"`
	OpenedAt     time.Time       `json:"opened_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (FollowerPosition) TableName() string {
	return "follower_positions"
}

// Notional returns the position value at the given mark price.
func (p FollowerPosition) Notional(markPrice decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(markPrice)
}

// LossRatio computes the unrealized loss as a fraction of entry value,
// sign-adjusted for side. Positive means losing. Returns zero for a
// degenerate entry price.
func (p FollowerPosition) LossRatio(markPrice decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	loss := p.EntryPrice.Sub(markPrice).Div(p.EntryPrice)
	if p.Side == SideShort {
		loss = loss.Neg()
	}
	return loss
}

// TradeRecord is one row of the append-only trade history sink.
type TradeRecord struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol       string          `gorm:"index" json:"symbol"`
	Side         Side            `gorm:"type:varchar(8)" json:"side"`
	Kind         EventKind       `gorm:"type:varchar(12)" json:"kind"`
	Size         decimal.Decimal `gorm:"type:decimal(30,12)" json:"size"`
	Price        decimal.Decimal `gorm:"type:decimal(30,12)" json:"price"`
	SourceWallet string          `gorm:"index" json:"source_wallet"`
	Trigger      string          `json:"trigger"` // "follow" or "stop_loss"
	OrderRef     string          `json:"order_ref"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_history"
}
