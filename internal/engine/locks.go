package engine

import (
	"sync"

	"hypertrack/internal/domain"
)

// LockTable maps each symbol to the wallet currently driving the follower's
// open position in it. It is a derived view over FollowerPosition rows, not
// independent state: rebuilt from the store at startup, updated only by the
// execution coordinator after confirmed fills. Mutual exclusion between
// competing events is provided by the per-symbol workers; the table is the
// passive invariant plus a fast lookup.
type LockTable struct {
	mu     sync.RWMutex
	owners map[string]string // symbol -> wallet address
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{owners: make(map[string]string)}
}

// Rebuild resets the table from persisted positions.
func (lt *LockTable) Rebuild(positions []domain.FollowerPosition) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.owners = make(map[string]string, len(positions))
	for _, p := range positions {
		lt.owners[p.Symbol] = p.SourceWallet
	}
}

// Owner returns the wallet holding the lock on symbol, if any.
func (lt *LockTable) Owner(symbol string) (string, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	owner, ok := lt.owners[symbol]
	return owner, ok
}

// Acquire claims the symbol for wallet. Returns false if a different wallet
// already owns it. Re-acquiring an owned lock is a no-op success.
func (lt *LockTable) Acquire(symbol, wallet string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if owner, ok := lt.owners[symbol]; ok && owner != wallet {
		return false
	}
	lt.owners[symbol] = wallet
	return true
}

// Release frees the symbol regardless of owner. Closing is always permitted
// to unwind a position, so release does not check ownership.
func (lt *LockTable) Release(symbol string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.owners, symbol)
}

// Len returns the number of held locks.
func (lt *LockTable) Len() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.owners)
}
