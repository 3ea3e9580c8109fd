package domain

import (
	"github.com/shopspring/decimal"
)

// Verdict is the outcome of the follow decision engine.
type Verdict string

const (
	VerdictAccept Verdict = "ACCEPT"
	VerdictReject Verdict = "REJECT"
)

// RejectReason is a stable code reported with every rejection.
// Rejections are expected, non-error outcomes; they are never retried.
type RejectReason string

const (
	ReasonNotTracked          RejectReason = "wallet not tracked"
	ReasonWalletDisabled      RejectReason = "wallet disabled"
	ReasonSymbolLocked        RejectReason = "lock conflict"
	ReasonBelowMinSize        RejectReason = "below minimum size"
	ReasonInsufficientBalance RejectReason = "insufficient balance"
	ReasonNoPosition          RejectReason = "no open position"
	ReasonZeroTarget          RejectReason = "zero target size"
)

// Trigger values recorded with executed trades.
const (
	TriggerFollow   = "follow"
	TriggerStopLoss = "stop_loss"
)

// Decision is the ephemeral output of the follow decision engine.
// If accepted it fully describes the order intent for the coordinator.
type Decision struct {
	Verdict Verdict
	Reason  RejectReason

	Symbol string
	Wallet string
	Kind   EventKind
	Side   Side

	// Size is the order quantity in base units; Notional its USD value.
	Size     decimal.Decimal
	Notional decimal.Decimal

	// Reduce marks close/decrease intents (reduce-only on the venue).
	Reduce bool

	// Trigger distinguishes organic follows from forced stop-loss exits.
	Trigger string
}

// Accepted reports whether the decision carries an executable intent.
func (d Decision) Accepted() bool {
	return d.Verdict == VerdictAccept
}

// Reject builds a rejection decision for the given event.
func Reject(ev FollowEvent, reason RejectReason) Decision {
	return Decision{
		Verdict: VerdictReject,
		Reason:  reason,
		Symbol:  ev.Symbol,
		Wallet:  ev.Wallet,
		Kind:    ev.Kind,
		Side:    ev.Side,
		Trigger: TriggerFollow,
	}
}
