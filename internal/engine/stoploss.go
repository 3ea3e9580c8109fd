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

// StopLossMonitor is an independent periodic watchdog. It inspects every
// open follower position against the owning wallet's configured loss
// threshold and forces closure when breached. Forced exits bypass the
// decision engine's lock and balance checks: the protections designed for
// entries must never block an exit.
type StopLossMonitor struct {
	store        domain.PositionStore
	exec         domain.ExecutionClient
	engine       *Engine
	defaultRatio decimal.Decimal
	interval     time.Duration
	logger       *slog.Logger

	// inFlight suppresses re-triggering a symbol whose forced close is
	// still queued or mid-retry.
	mu       sync.Mutex
	inFlight map[string]time.Time
}

// NewStopLossMonitor creates a monitor scanning every interval. The
// interval should equal the feed poll interval so breach checks never run
// against staler prices than the decision pipeline sees.
func NewStopLossMonitor(store domain.PositionStore, exec domain.ExecutionClient, eng *Engine, defaultRatio decimal.Decimal, interval time.Duration) *StopLossMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StopLossMonitor{
		store:        store,
		exec:         exec,
		engine:       eng,
		defaultRatio: defaultRatio,
		interval:     interval,
		logger:       slog.Default().With("module", "stoploss"),
		inFlight:     make(map[string]time.Time),
	}
}

// Run scans on a fixed ticker until ctx is canceled.
func (m *StopLossMonitor) Run(ctx context.Context) {
	m.logger.Info("stop-loss monitor started", slog.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stop-loss monitor stopped")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *StopLossMonitor) scan(ctx context.Context) {
	positions, err := m.store.AllPositions()
	if err != nil {
		m.logger.Error("position scan failed", slog.Any("error", err))
		return
	}

	m.clearSettled(positions)

	for _, pos := range positions {
		if m.pending(pos.Symbol) {
			continue
		}

		mark, err := m.exec.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			m.logger.Warn("mark price unavailable",
				slog.String("symbol", pos.Symbol), slog.Any("error", err))
			continue
		}

		threshold := m.thresholdFor(pos.SourceWallet)
		loss := pos.LossRatio(mark)
		if loss.LessThan(threshold) {
			continue
		}

		m.logger.Warn("stop-loss breached, forcing close",
			slog.String("symbol", pos.Symbol),
			slog.String("loss_ratio", loss.String()),
			slog.String("threshold", threshold.String()))
		infra.GlobalMetrics.RecordStopLoss()

		if err := m.engine.ForceClose(pos); err != nil {
			m.logger.Error("forced close submit failed",
				slog.String("symbol", pos.Symbol), slog.Any("error", err))
			continue
		}
		m.markPending(pos.Symbol)
	}
}

// CheckPosition evaluates a single position against its threshold.
// Exposed for the breach arithmetic tests.
func (m *StopLossMonitor) CheckPosition(pos domain.FollowerPosition, mark decimal.Decimal) bool {
	return pos.LossRatio(mark).GreaterThanOrEqual(m.thresholdFor(pos.SourceWallet))
}

func (m *StopLossMonitor) thresholdFor(wallet string) decimal.Decimal {
	w, err := m.store.GetWallet(wallet)
	if err == nil && w != nil && w.StopLossRatio.IsPositive() {
		return w.StopLossRatio
	}
	return m.defaultRatio
}

func (m *StopLossMonitor) pending(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[symbol]
	return ok
}

func (m *StopLossMonitor) markPending(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[symbol] = time.Now()
}

// clearSettled drops in-flight markers for symbols no longer held (the
// forced close landed) and markers older than the full retry budget. A
// position that survives the budget may trigger again on the next scan.
func (m *StopLossMonitor) clearSettled(positions []domain.FollowerPosition) {
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	budget := time.Duration(defaultMaxAttempts) * defaultRetryDelay
	for symbol, at := range m.inFlight {
		if !held[symbol] || time.Since(at) > budget {
			delete(m.inFlight, symbol)
		}
	}
}
