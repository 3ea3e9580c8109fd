package tracker

import (
	"context"
	"log/slog"
	"time"

	"hypertrack/internal/domain"
	"hypertrack/internal/infra"

	"github.com/shopspring/decimal"
)

const defaultPollInterval = 2 * time.Second

// WalletSource is the observation venue client.
type WalletSource interface {
	WalletPositions(ctx context.Context, wallet string) ([]domain.WalletPositionSnapshot, error)
}

// Sink receives the classified follow events, in per-wallet order.
type Sink interface {
	Submit(ev domain.FollowEvent) error
}

// WalletLister enumerates the wallets to poll.
type WalletLister interface {
	AllWallets(enabledOnly bool) ([]domain.TrackedWallet, error)
}

// Poller drives the observation loop: every interval it snapshots each
// enabled wallet, diffs against the classifier state and submits the
// resulting events downstream. A per-wallet fetch error is logged and
// skipped; the wallet's stored snapshots stay untouched so no phantom
// close is emitted.
type Poller struct {
	source     WalletSource
	wallets    WalletLister
	classifier *Classifier
	sink       Sink
	interval   time.Duration
	nudge      <-chan string
	logger     *slog.Logger
}

// NewPoller creates a poller. nudge may be nil; when set, receiving a
// wallet address triggers an immediate poll of that wallet.
func NewPoller(source WalletSource, wallets WalletLister, classifier *Classifier, sink Sink, interval time.Duration, nudge <-chan string) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		source:     source,
		wallets:    wallets,
		classifier: classifier,
		sink:       sink,
		interval:   interval,
		nudge:      nudge,
		logger:     slog.Default().With("module", "poller"),
	}
}

// Prime seeds the classifier with the current state of every enabled
// wallet without emitting events. Call once at startup so pre-existing
// source positions are not replayed as fresh opens.
func (p *Poller) Prime(ctx context.Context) error {
	wallets, err := p.wallets.AllWallets(true)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		snaps, err := p.source.WalletPositions(ctx, w.Address)
		if err != nil {
			p.logger.Warn("Prime fetch failed", "wallet", w.Address, slog.Any("error", err))
			continue
		}
		p.classifier.Prime(snaps)
	}
	p.logger.Info("🚀 Classifier primed", slog.Int("wallets", len(wallets)))
	return nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		case wallet, ok := <-p.nudge:
			if !ok {
				p.nudge = nil
				continue
			}
			p.pollOne(ctx, wallet)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	wallets, err := p.wallets.AllWallets(true)
	if err != nil {
		p.logger.Error("Failed to list wallets", slog.Any("error", err))
		return
	}
	for _, w := range wallets {
		p.pollOne(ctx, w.Address)
	}
}

func (p *Poller) pollOne(ctx context.Context, wallet string) {
	snaps, err := p.source.WalletPositions(ctx, wallet)
	if err != nil {
		p.logger.Warn("Wallet poll failed", "wallet", wallet, slog.Any("error", err))
		return
	}

	observedAt := time.Now()
	seen := make(map[string]bool, len(snaps))
	for _, snap := range snaps {
		seen[snap.Symbol] = true
		p.emit(p.classifier.Classify(snap))
	}

	// Positions the classifier still holds but the venue no longer
	// reports were closed; feed a flat snapshot so the diff emits CLOSE.
	for _, symbol := range p.classifier.TrackedSymbols(wallet) {
		if seen[symbol] {
			continue
		}
		p.emit(p.classifier.Classify(domain.WalletPositionSnapshot{
			Wallet:     wallet,
			Symbol:     symbol,
			SignedSize: decimal.Zero,
			ObservedAt: observedAt,
		}))
	}
}

func (p *Poller) emit(events []domain.FollowEvent) {
	for _, ev := range events {
		infra.GlobalMetrics.RecordEventClassified()
		p.logger.Info("📡 "+ev.String(), "kind", string(ev.Kind))
		if err := p.sink.Submit(ev); err != nil {
			p.logger.Warn("Event submit failed", slog.Any("error", err), "symbol", ev.Symbol)
		}
	}
}
