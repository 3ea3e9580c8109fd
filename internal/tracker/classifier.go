package tracker

import (
	"log/slog"
	"sync"

	"hypertrack/internal/domain"

	"github.com/shopspring/decimal"
)

// snapshotKey identifies one tracked position stream.
type snapshotKey struct {
	wallet string
	symbol string
}

// Classifier diffs incoming wallet position observations against the last
// known snapshot per (wallet, symbol) and emits typed transition events.
// Snapshot state lives only in memory: it is rebuilt from a fresh feed
// query on restart, so observations are never assumed durable.
type Classifier struct {
	mu        sync.Mutex
	snapshots map[snapshotKey]domain.WalletPositionSnapshot
	logger    *slog.Logger
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{
		snapshots: make(map[snapshotKey]domain.WalletPositionSnapshot),
		logger:    slog.Default().With("module", "classifier"),
	}
}

// Prime seeds the snapshot table without emitting events. Used at startup
// so the first poll after a restart does not replay the whole book as opens.
func (c *Classifier) Prime(snaps []domain.WalletPositionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range snaps {
		c.snapshots[snapshotKey{wallet: s.Wallet, symbol: s.Symbol}] = s
	}
}

// Classify compares the new snapshot with the stored one and returns the
// transition events it implies. A FLIP decomposes into CLOSE then OPEN, in
// that order. Duplicate or stale observations produce no events. The stored
// snapshot is always updated for genuine observations, so duplicate delivery
// of the same state is idempotent.
func (c *Classifier) Classify(snap domain.WalletPositionSnapshot) []domain.FollowEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := snapshotKey{wallet: snap.Wallet, symbol: snap.Symbol}
	old, seen := c.snapshots[key]

	if seen && !snap.ObservedAt.After(old.ObservedAt) {
		// Out-of-order or duplicate delivery: classification anomaly,
		// logged and dropped, never propagated as a failure.
		c.logger.Debug("stale observation dropped",
			slog.String("symbol", snap.Symbol),
			slog.String("wallet", snap.Wallet))
		return nil
	}

	c.snapshots[key] = snap

	if !seen {
		if snap.SignedSize.IsZero() {
			return nil // flat first sighting, nothing to mirror
		}
		return []domain.FollowEvent{openEvent(snap)}
	}

	oldSize := old.SignedSize
	newSize := snap.SignedSize

	switch {
	case oldSize.Equal(newSize):
		return nil

	case oldSize.IsZero():
		return []domain.FollowEvent{openEvent(snap)}

	case newSize.IsZero():
		return []domain.FollowEvent{closeEvent(old, snap)}

	case oldSize.Sign() != newSize.Sign():
		// Reversal without an intermediate flat state: close the old
		// side, then open the new one. Downstream lock and size logic
		// reuses plain OPEN/CLOSE semantics.
		return []domain.FollowEvent{closeEvent(old, snap), openEvent(snap)}

	case newSize.Abs().GreaterThan(oldSize.Abs()):
		return []domain.FollowEvent{sizeEvent(domain.EventIncrease, old, snap)}

	default:
		return []domain.FollowEvent{sizeEvent(domain.EventDecrease, old, snap)}
	}
}

// TrackedSymbols returns the symbols with a non-flat stored snapshot for
// the wallet. The poller uses this to synthesize flat observations for
// positions that vanished between polls.
func (c *Classifier) TrackedSymbols(wallet string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for key, snap := range c.snapshots {
		if key.wallet == wallet && !snap.SignedSize.IsZero() {
			out = append(out, key.symbol)
		}
	}
	return out
}

// Forget drops all snapshot state for a wallet, e.g. when it is untracked.
func (c *Classifier) Forget(wallet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.snapshots {
		if key.wallet == wallet {
			delete(c.snapshots, key)
		}
	}
}

func openEvent(snap domain.WalletPositionSnapshot) domain.FollowEvent {
	return domain.FollowEvent{
		Kind:        domain.EventOpen,
		Wallet:      snap.Wallet,
		Symbol:      snap.Symbol,
		Side:        snap.Side(),
		OldSize:     decimal.Zero,
		NewSize:     snap.Size(),
		Price:       snap.EntryPrice,
		SourceRatio: snap.Ratio(),
		ObservedAt:  snap.ObservedAt,
	}
}

func closeEvent(old, snap domain.WalletPositionSnapshot) domain.FollowEvent {
	price := snap.MarkPrice
	if price.IsZero() {
		price = old.EntryPrice
	}
	return domain.FollowEvent{
		Kind:       domain.EventClose,
		Wallet:     old.Wallet,
		Symbol:     old.Symbol,
		Side:       old.Side(),
		OldSize:    old.Size(),
		Price:      price,
		ObservedAt: snap.ObservedAt,
	}
}

func sizeEvent(kind domain.EventKind, old, snap domain.WalletPositionSnapshot) domain.FollowEvent {
	return domain.FollowEvent{
		Kind:        kind,
		Wallet:      snap.Wallet,
		Symbol:      snap.Symbol,
		Side:        snap.Side(),
		OldSize:     old.Size(),
		NewSize:     snap.Size(),
		Price:       snap.EntryPrice,
		SourceRatio: snap.Ratio(),
		ObservedAt:  snap.ObservedAt,
	}
}
