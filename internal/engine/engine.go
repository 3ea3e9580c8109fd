package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hypertrack/internal/domain"
	"hypertrack/internal/infra"

	"github.com/shopspring/decimal"
)

const workerInboxSize = 64

// Config holds the immutable decision parameters. It is read per decision
// and never mutated, so decisions are reproducible given the same inputs.
type Config struct {
	// MaxPositionUSD is the follower's own global per-order ceiling.
	MaxPositionUSD decimal.Decimal
	// MinOrderUSD is the venue's minimum tradable notional.
	MinOrderUSD decimal.Decimal
	// DefaultMaxPositionUSD applies when a wallet has no cap configured.
	DefaultMaxPositionUSD decimal.Decimal
	// DefaultStopLossRatio applies when a wallet has no threshold configured.
	DefaultStopLossRatio decimal.Decimal
	// BalanceCacheTTL bounds how often the venue balance endpoint is hit.
	BalanceCacheTTL time.Duration
}

// task is one unit of per-symbol work: either a classified event awaiting a
// decision, or a pre-built forced close from the stop-loss monitor.
type task struct {
	ev     *domain.FollowEvent
	forced *domain.Decision
}

func (t task) symbol() string {
	if t.forced != nil {
		return t.forced.Symbol
	}
	return t.ev.Symbol
}

// Engine is the follow decision core. All events for one symbol are routed
// through a single-owner worker goroutine, so the lock-check-then-acquire
// sequence is race-free; different symbols process in parallel.
type Engine struct {
	cfg      Config
	store    domain.PositionStore
	exec     domain.ExecutionClient
	notifier domain.Notifier
	locks    *LockTable
	coord    *Coordinator

	inbox   chan task
	done    chan struct{}
	workers map[string]chan task
	wg      sync.WaitGroup

	balMu        sync.Mutex
	balance      domain.AccountState
	balFetchedAt time.Time

	logger *slog.Logger
}

// New creates an engine wired to its collaborators. Call Rebuild before Run
// when resuming with persisted positions.
func New(cfg Config, store domain.PositionStore, exec domain.ExecutionClient, notifier domain.Notifier) *Engine {
	if cfg.BalanceCacheTTL <= 0 {
		cfg.BalanceCacheTTL = 60 * time.Second
	}
	locks := NewLockTable()
	return &Engine{
		cfg:      cfg,
		store:    store,
		exec:     exec,
		notifier: notifier,
		locks:    locks,
		coord:    NewCoordinator(exec, store, locks, notifier),
		inbox:    make(chan task, workerInboxSize),
		done:     make(chan struct{}),
		workers:  make(map[string]chan task),
		logger:   slog.Default().With("module", "engine"),
	}
}

// Locks exposes the lock table view (startup rebuild, tests).
func (e *Engine) Locks() *LockTable {
	return e.locks
}

// Rebuild restores the lock view from persisted positions.
func (e *Engine) Rebuild() error {
	positions, err := e.store.AllPositions()
	if err != nil {
		return err
	}
	e.locks.Rebuild(positions)
	e.logger.Info("lock table rebuilt", slog.Int("positions", len(positions)))
	return nil
}

// Submit queues a classified event for processing in observation order.
// Returns ErrShuttingDown once shutdown has been signaled.
func (e *Engine) Submit(ev domain.FollowEvent) error {
	select {
	case <-e.done:
		return domain.ErrShuttingDown
	default:
	}
	select {
	case e.inbox <- task{ev: &ev}:
		return nil
	case <-e.done:
		return domain.ErrShuttingDown
	}
}

// ForceClose queues a synthetic close for a breached position. It bypasses
// the decision checks entirely but runs on the same per-symbol worker, so a
// forced exit never interleaves with an organic event for that symbol.
func (e *Engine) ForceClose(pos domain.FollowerPosition) error {
	d := domain.Decision{
		Verdict:  domain.VerdictAccept,
		Symbol:   pos.Symbol,
		Wallet:   pos.SourceWallet,
		Kind:     domain.EventClose,
		Side:     pos.Side.Opposite(),
		Size:     pos.Size,
		Notional: pos.Size.Mul(pos.EntryPrice),
		Reduce:   true,
		Trigger:  domain.TriggerStopLoss,
	}
	select {
	case <-e.done:
		return domain.ErrShuttingDown
	default:
	}
	select {
	case e.inbox <- task{forced: &d}:
		return nil
	case <-e.done:
		return domain.ErrShuttingDown
	}
}

// Run dispatches tasks to per-symbol workers until ctx is canceled, then
// drains: no new tasks are accepted, in-flight work completes (orders
// mid-retry are not abandoned), workers exit.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("decision engine started")
	for {
		select {
		case <-ctx.Done():
			close(e.done)
			for _, ch := range e.workers {
				close(ch)
			}
			e.wg.Wait()
			e.logger.Info("decision engine stopped")
			return
		case t := <-e.inbox:
			e.worker(t.symbol()) <- t
		}
	}
}

// worker returns the symbol's task channel, spawning its goroutine lazily.
// Only the dispatcher touches the map, so no locking is needed.
func (e *Engine) worker(symbol string) chan task {
	ch, ok := e.workers[symbol]
	if !ok {
		ch = make(chan task, workerInboxSize)
		e.workers[symbol] = ch
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for t := range ch {
				e.handle(t)
			}
		}()
	}
	return ch
}

func (e *Engine) handle(t task) {
	// External calls run against a fresh context: shutdown stops intake,
	// it does not cancel work already dequeued.
	ctx := context.Background()

	if t.forced != nil {
		if err := e.coord.Execute(ctx, *t.forced); err != nil {
			e.logger.Error("forced close failed",
				slog.String("symbol", t.forced.Symbol), slog.Any("error", err))
		}
		return
	}

	ev := *t.ev
	decision := e.decide(ctx, ev)

	if !decision.Accepted() {
		infra.GlobalMetrics.RecordDecisionRejected()
		e.logger.Info("follow rejected",
			slog.String("symbol", ev.Symbol),
			slog.String("kind", string(ev.Kind)),
			slog.String("reason", string(decision.Reason)))
		e.notifier.Notify(domain.Notification{
			Kind:   domain.NotifyDecisionRejected,
			Symbol: ev.Symbol,
			Wallet: ev.Wallet,
			Text:   string(ev.Kind) + " " + ev.Symbol + ": " + string(decision.Reason),
			At:     time.Now(),
		})
		return
	}

	infra.GlobalMetrics.RecordDecisionAccepted()
	if err := e.coord.Execute(ctx, decision); err != nil {
		e.logger.Error("execution failed",
			slog.String("symbol", ev.Symbol), slog.Any("error", err))
	}
}

// decide runs the follow checks in order, short-circuiting on the first
// failure. It is synchronous and non-blocking apart from venue queries.
func (e *Engine) decide(ctx context.Context, ev domain.FollowEvent) domain.Decision {
	wallet, err := e.store.GetWallet(ev.Wallet)
	if err != nil {
		e.logger.Error("wallet lookup failed", slog.Any("error", err))
		return domain.Reject(ev, domain.ReasonNotTracked)
	}
	if wallet == nil {
		return domain.Reject(ev, domain.ReasonNotTracked)
	}
	if !wallet.Enabled {
		return domain.Reject(ev, domain.ReasonWalletDisabled)
	}

	// Closing is always permitted to unwind a position regardless of lock
	// state: failing to close risks an ungoverned open position.
	if ev.Kind == domain.EventClose {
		return e.decideClose(ev)
	}

	if owner, held := e.locks.Owner(ev.Symbol); held && owner != ev.Wallet {
		return domain.Reject(ev, domain.ReasonSymbolLocked)
	}

	acct := e.accountState(ctx)

	target := acct.Equity.Mul(ev.SourceRatio)
	target = capNotional(target, wallet.MaxPositionUSD, e.cfg.DefaultMaxPositionUSD)
	target = capNotional(target, e.cfg.MaxPositionUSD, decimal.Zero)

	mark := e.markPrice(ctx, ev)
	if mark.LessThanOrEqual(decimal.Zero) {
		return domain.Reject(ev, domain.ReasonZeroTarget)
	}

	kind := ev.Kind
	side := ev.Side
	notional := target
	reduce := false

	if ev.Kind == domain.EventIncrease || ev.Kind == domain.EventDecrease {
		held, err := e.store.GetPosition(ev.Symbol)
		if err != nil {
			e.logger.Error("position lookup failed", slog.Any("error", err))
			return domain.Reject(ev, domain.ReasonNoPosition)
		}
		switch {
		case held == nil && ev.Kind == domain.EventDecrease:
			return domain.Reject(ev, domain.ReasonNoPosition)
		case held == nil:
			// A source increase with nothing held locally (e.g. the
			// original open was rejected) is a late entry: follow with
			// the full target as an open.
			kind = domain.EventOpen
		default:
			// Only the delta between the new target and what we already
			// hold is submitted, preserving proportional tracking.
			heldNotional := held.Notional(mark)
			delta := target.Sub(heldNotional)
			switch {
			case delta.IsZero():
				return domain.Reject(ev, domain.ReasonZeroTarget)
			case delta.IsNegative():
				reduce = true
				side = held.Side.Opposite()
				notional = delta.Abs()
				if notional.GreaterThan(heldNotional) {
					notional = heldNotional
				}
			default:
				side = held.Side
				notional = delta
			}
		}
	}

	if notional.LessThan(e.cfg.MinOrderUSD) {
		return domain.Reject(ev, domain.ReasonBelowMinSize)
	}

	if !reduce {
		if acct.Equity.LessThanOrEqual(decimal.Zero) || acct.Available.LessThan(notional) {
			return domain.Reject(ev, domain.ReasonInsufficientBalance)
		}
	}

	return domain.Decision{
		Verdict:  domain.VerdictAccept,
		Symbol:   ev.Symbol,
		Wallet:   ev.Wallet,
		Kind:     kind,
		Side:     side,
		Size:     notional.Div(mark),
		Notional: notional,
		Reduce:   reduce,
		Trigger:  domain.TriggerFollow,
	}
}

func (e *Engine) decideClose(ev domain.FollowEvent) domain.Decision {
	held, err := e.store.GetPosition(ev.Symbol)
	if err != nil {
		e.logger.Error("position lookup failed", slog.Any("error", err))
		return domain.Reject(ev, domain.ReasonNoPosition)
	}
	if held == nil {
		// Nothing to unwind; a close with no position is a non-event.
		return domain.Reject(ev, domain.ReasonNoPosition)
	}

	return domain.Decision{
		Verdict:  domain.VerdictAccept,
		Symbol:   ev.Symbol,
		Wallet:   ev.Wallet,
		Kind:     domain.EventClose,
		Side:     held.Side.Opposite(),
		Size:     held.Size,
		Notional: held.Size.Mul(ev.Price),
		Reduce:   true,
		Trigger:  domain.TriggerFollow,
	}
}

// accountState returns the follower balance, cached for BalanceCacheTTL.
// On fetch failure the last known value is used.
func (e *Engine) accountState(ctx context.Context) domain.AccountState {
	e.balMu.Lock()
	defer e.balMu.Unlock()

	if time.Since(e.balFetchedAt) < e.cfg.BalanceCacheTTL {
		return e.balance
	}

	acct, err := e.exec.Balance(ctx)
	if err != nil {
		e.logger.Warn("balance fetch failed, using cached value", slog.Any("error", err))
		return e.balance
	}
	e.balance = acct
	e.balFetchedAt = time.Now()
	return acct
}

func (e *Engine) markPrice(ctx context.Context, ev domain.FollowEvent) decimal.Decimal {
	mark, err := e.exec.MarkPrice(ctx, ev.Symbol)
	if err != nil || mark.LessThanOrEqual(decimal.Zero) {
		// Fall back to the observed source price.
		return ev.Price
	}
	return mark
}

// capNotional applies a ceiling; a non-positive ceiling falls back to def,
// and a non-positive def means unbounded.
func capNotional(v, ceiling, def decimal.Decimal) decimal.Decimal {
	limit := ceiling
	if limit.LessThanOrEqual(decimal.Zero) {
		limit = def
	}
	if limit.LessThanOrEqual(decimal.Zero) {
		return v
	}
	if v.GreaterThan(limit) {
		return limit
	}
	return v
}
