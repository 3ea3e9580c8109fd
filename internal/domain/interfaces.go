package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the confirmed result of a market order.
type Fill struct {
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	OrderRef   string
}

// AccountState is the follower's own account snapshot on the execution venue.
type AccountState struct {
	Equity    decimal.Decimal
	Available decimal.Decimal
}

// VenuePosition is a follower position as reported by the execution venue.
type VenuePosition struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

// ExecutionClient is the external order-execution collaborator.
// Errors it returns should satisfy RetriableError so the coordinator can
// distinguish transient failures from terminal ones.
type ExecutionClient interface {
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, size decimal.Decimal, reduceOnly bool) (Fill, error)
	Balance(ctx context.Context) (AccountState, error)
	Positions(ctx context.Context) ([]VenuePosition, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// NotificationKind tags outbound operator notifications.
type NotificationKind string

const (
	NotifyDecisionRejected NotificationKind = "decision_rejected"
	NotifyOrderFilled      NotificationKind = "order_filled"
	NotifyOrderFailed      NotificationKind = "order_failed"
	NotifyStopLoss         NotificationKind = "stop_loss_triggered"
)

// Notification is a fire-and-forget structured event for the operator surface.
type Notification struct {
	Kind   NotificationKind
	Symbol string
	Wallet string
	Text   string
	At     time.Time
}

// Notifier delivers notifications without ever blocking the pipeline
// (enqueue-and-return contract).
type Notifier interface {
	Notify(n Notification)
}

// PositionStore is the persistence collaborator. All writes are single-row
// upserts/deletes keyed by natural keys.
type PositionStore interface {
	GetWallet(address string) (*TrackedWallet, error)
	AllWallets(enabledOnly bool) ([]TrackedWallet, error)

	GetPosition(symbol string) (*FollowerPosition, error)
	AllPositions() ([]FollowerPosition, error)
	UpsertPosition(pos *FollowerPosition) error
	DeletePosition(symbol string) error

	AppendTrade(rec *TradeRecord) error
}
