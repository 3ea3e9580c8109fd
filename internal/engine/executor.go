package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hypertrack/internal/domain"
	"hypertrack/internal/infra"

	"github.com/shopspring/decimal"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 3 * time.Second
)

// Coordinator turns an accepted decision into an order on the execution
// venue and reconciles the confirmed fill into local state. Only transient
// failure classes are retried; validation failures propagate immediately.
// No position state is written without a confirmed fill.
type Coordinator struct {
	exec     domain.ExecutionClient
	store    domain.PositionStore
	locks    *LockTable
	notifier domain.Notifier
	logger   *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
}

// NewCoordinator creates a coordinator with the default bounded retry
// policy (5 attempts, fixed 3s spacing).
func NewCoordinator(exec domain.ExecutionClient, store domain.PositionStore, locks *LockTable, notifier domain.Notifier) *Coordinator {
	return &Coordinator{
		exec:        exec,
		store:       store,
		locks:       locks,
		notifier:    notifier,
		logger:      slog.Default().With("module", "executor"),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
}

// Execute submits the order with bounded retry and, on success, atomically
// updates position state, the lock view, trade history and notifications.
func (c *Coordinator) Execute(ctx context.Context, d domain.Decision) error {
	fill, err := c.submit(ctx, d)
	if err != nil {
		// State unchanged; the triggering event is discarded, not
		// requeued, to avoid unbounded backlog against a failing venue.
		c.alert(d, err)
		return err
	}

	if fill.FilledSize.LessThanOrEqual(decimal.Zero) {
		fill.FilledSize = d.Size
	}
	if fill.AvgPrice.LessThanOrEqual(decimal.Zero) && d.Size.IsPositive() {
		fill.AvgPrice = d.Notional.Div(d.Size)
	}

	if err := c.reconcile(d, fill); err != nil {
		return err
	}

	infra.GlobalMetrics.RecordOrderFilled()
	c.notifyFill(d, fill)
	return nil
}

// submit runs the bounded retry loop: up to maxAttempts tries with fixed
// spacing, retrying only retryable failure classes.
func (c *Coordinator) submit(ctx context.Context, d domain.Decision) (domain.Fill, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		fill, err := c.exec.SubmitMarketOrder(ctx, d.Symbol, d.Side, d.Size, d.Reduce)
		if err == nil {
			return fill, nil
		}
		lastErr = err

		if !domain.IsRetriable(err) {
			c.logger.Error("order rejected, not retrying",
				slog.String("symbol", d.Symbol), slog.Any("error", err))
			return domain.Fill{}, err
		}

		c.logger.Warn("order submission failed",
			slog.String("symbol", d.Symbol),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		infra.GlobalMetrics.RecordOrderRetry()

		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return domain.Fill{}, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	return domain.Fill{}, fmt.Errorf("order submission exhausted %d attempts: %w", c.maxAttempts, lastErr)
}

// reconcile applies a confirmed fill to the position row, the lock view and
// the trade history sink.
func (c *Coordinator) reconcile(d domain.Decision, fill domain.Fill) error {
	switch d.Kind {
	case domain.EventOpen:
		if err := c.applyOpen(d, fill); err != nil {
			return err
		}
	case domain.EventIncrease:
		if err := c.applyIncrease(d, fill); err != nil {
			return err
		}
	case domain.EventDecrease:
		if err := c.applyDecrease(d, fill); err != nil {
			return err
		}
	case domain.EventClose:
		if err := c.applyClose(d); err != nil {
			return err
		}
	}

	rec := &domain.TradeRecord{
		Symbol:       d.Symbol,
		Side:         d.Side,
		Kind:         d.Kind,
		Size:         fill.FilledSize,
		Price:        fill.AvgPrice,
		SourceWallet: d.Wallet,
		Trigger:      d.Trigger,
		OrderRef:     fill.OrderRef,
	}
	if err := c.store.AppendTrade(rec); err != nil {
		// History is append-only telemetry; a write failure must not
		// undo an already-confirmed fill.
		c.logger.Error("trade history append failed", slog.Any("error", err))
	}
	return nil
}

func (c *Coordinator) applyOpen(d domain.Decision, fill domain.Fill) error {
	existing, err := c.store.GetPosition(d.Symbol)
	if err != nil {
		return err
	}

	pos := &domain.FollowerPosition{
		Symbol:       d.Symbol,
		Side:         d.Side,
		Size:         fill.FilledSize,
		EntryPrice:   fill.AvgPrice,
		SourceWallet: d.Wallet,
		OpenedAt:     time.Now(),
	}
	if existing != nil && existing.Side == d.Side {
		// Re-open into an existing same-side position: merge sizes with
		// a weighted average entry.
		pos.Size = existing.Size.Add(fill.FilledSize)
		pos.EntryPrice = weightedEntry(existing.Size, existing.EntryPrice, fill)
		pos.OpenedAt = existing.OpenedAt
	}

	if err := c.store.UpsertPosition(pos); err != nil {
		return err
	}
	c.locks.Acquire(d.Symbol, d.Wallet)
	if existing == nil {
		infra.GlobalMetrics.AddOpenPositions(1)
	}
	return nil
}

func (c *Coordinator) applyIncrease(d domain.Decision, fill domain.Fill) error {
	pos, err := c.store.GetPosition(d.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("increase fill for unknown position %s", d.Symbol)
	}
	pos.EntryPrice = weightedEntry(pos.Size, pos.EntryPrice, fill)
	pos.Size = pos.Size.Add(fill.FilledSize)
	return c.store.UpsertPosition(pos)
}

func (c *Coordinator) applyDecrease(d domain.Decision, fill domain.Fill) error {
	pos, err := c.store.GetPosition(d.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("decrease fill for unknown position %s", d.Symbol)
	}

	pos.Size = pos.Size.Sub(fill.FilledSize)
	if pos.Size.LessThanOrEqual(decimal.Zero) {
		if err := c.store.DeletePosition(d.Symbol); err != nil {
			return err
		}
		c.locks.Release(d.Symbol)
		infra.GlobalMetrics.AddOpenPositions(-1)
		return nil
	}
	return c.store.UpsertPosition(pos)
}

func (c *Coordinator) applyClose(d domain.Decision) error {
	if err := c.store.DeletePosition(d.Symbol); err != nil {
		return err
	}
	c.locks.Release(d.Symbol)
	infra.GlobalMetrics.AddOpenPositions(-1)
	return nil
}

func (c *Coordinator) alert(d domain.Decision, err error) {
	infra.GlobalMetrics.RecordError()
	c.notifier.Notify(domain.Notification{
		Kind:   domain.NotifyOrderFailed,
		Symbol: d.Symbol,
		Wallet: d.Wallet,
		Text:   fmt.Sprintf("%s %s %s failed: %v", d.Kind, d.Side, d.Symbol, err),
		At:     time.Now(),
	})
}

func (c *Coordinator) notifyFill(d domain.Decision, fill domain.Fill) {
	kind := domain.NotifyOrderFilled
	if d.Trigger == domain.TriggerStopLoss {
		kind = domain.NotifyStopLoss
	}
	c.notifier.Notify(domain.Notification{
		Kind:   kind,
		Symbol: d.Symbol,
		Wallet: d.Wallet,
		Text: fmt.Sprintf("%s %s %s filled: size %s @ %s",
			d.Kind, d.Side, d.Symbol, fill.FilledSize.String(), fill.AvgPrice.String()),
		At: time.Now(),
	})
	c.logger.Info("order filled",
		slog.String("symbol", d.Symbol),
		slog.String("kind", string(d.Kind)),
		slog.String("side", string(d.Side)),
		slog.String("size", fill.FilledSize.String()),
		slog.String("price", fill.AvgPrice.String()),
		slog.String("trigger", d.Trigger))
}

// weightedEntry averages the existing entry with the fill price by size.
func weightedEntry(oldSize, oldEntry decimal.Decimal, fill domain.Fill) decimal.Decimal {
	total := oldSize.Add(fill.FilledSize)
	if total.LessThanOrEqual(decimal.Zero) {
		return fill.AvgPrice
	}
	return oldSize.Mul(oldEntry).Add(fill.FilledSize.Mul(fill.AvgPrice)).Div(total)
}
