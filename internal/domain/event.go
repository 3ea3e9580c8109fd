package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing direction for this side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// EventKind classifies a position transition observed on a tracked wallet.
type EventKind string

const (
	EventOpen     EventKind = "OPEN"
	EventIncrease EventKind = "INCREASE"
	EventDecrease EventKind = "DECREASE"
	EventClose    EventKind = "CLOSE"
	// EventFlip never reaches the decision pipeline: the classifier
	// decomposes a reversal into CLOSE followed by OPEN.
	EventFlip EventKind = "FLIP"
)

// FollowEvent is an immutable classified transition for one (wallet, symbol)
// pair. Produced once per observed change, consumed once by the pipeline.
type FollowEvent struct {
	Kind   EventKind
	Wallet string
	Symbol string
	Side   Side

	// OldSize and NewSize are absolute position sizes (base units).
	OldSize decimal.Decimal
	NewSize decimal.Decimal

	// Price is the source entry price for opens, mark price for closes.
	Price decimal.Decimal

	// SourceRatio is the source wallet's exposure ratio for this symbol
	// at observation time (zero for CLOSE).
	SourceRatio decimal.Decimal

	ObservedAt time.Time
}

func (e FollowEvent) String() string {
	return fmt.Sprintf("[%s] %s %s %s | size %s -> %s @ %s",
		e.Kind, e.Symbol, e.Side, shortAddr(e.Wallet),
		e.OldSize.String(), e.NewSize.String(), e.Price.String())
}

// shortAddr truncates a wallet address for log output.
func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}
