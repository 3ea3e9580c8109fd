package app

import (
	"context"
	"log/slog"
	"time"

	"hypertrack/internal/domain"
	"hypertrack/internal/engine"
	"hypertrack/internal/infra"
	"hypertrack/internal/infra/hyperliquid"
	"hypertrack/internal/infra/lighter"
	"hypertrack/internal/infra/storage"
	"hypertrack/internal/infra/telegram"
	"hypertrack/internal/tracker"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Source   *hyperliquid.Client
	Exec     *lighter.Client
	Notifier *telegram.Notifier
	Engine   *engine.Engine
	Monitor  *engine.StopLossMonitor
	Poller   *tracker.Poller
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, clients).
func (b *Bootstrap) Initialize(nudge chan string) error {
	slog.Info("🚀 Bootstrapping HyperTrack...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Venue Clients
	b.Source = hyperliquid.NewClient(cfg)
	b.Exec = lighter.NewClient(cfg)

	// 5. Notifier (optional; nil token runs headless)
	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg)
		if err != nil {
			return err
		}
		b.Notifier = notifier
		slog.Info("✅ Telegram notifier ready")
	}

	// 6. Decision Engine
	engCfg := engine.Config{
		MaxPositionUSD:        cfg.Trading.MaxPositionUSD,
		MinOrderUSD:           cfg.Trading.MinOrderUSD,
		DefaultMaxPositionUSD: cfg.Trading.DefaultMaxPositionUSD,
		DefaultStopLossRatio:  cfg.Trading.DefaultStopLossRatio,
		BalanceCacheTTL:       time.Duration(cfg.Trading.BalanceCacheSec) * time.Second,
	}
	b.Engine = engine.New(engCfg, store, b.Exec, b.notifierOrVoid())
	if err := b.Engine.Rebuild(); err != nil {
		return err
	}
	slog.Info("✅ Decision engine ready", slog.Int("locks", b.Engine.Locks().Len()))

	// 7. Feed + Stop-Loss Monitor
	pollInterval := time.Duration(cfg.API.Hyperliquid.PollIntervalSec) * time.Second
	b.Poller = tracker.NewPoller(b.Source, store, tracker.NewClassifier(), b.Engine, pollInterval, nudge)
	b.Monitor = engine.NewStopLossMonitor(store, b.Exec, b.Engine, cfg.Trading.DefaultStopLossRatio, pollInterval)

	return nil
}

// Reconcile compares persisted follower positions against the execution
// venue at startup and trusts the venue: rows for positions the venue no
// longer reports are dropped so the lock view matches reality.
func (b *Bootstrap) Reconcile(ctx context.Context) error {
	venuePositions, err := b.Exec.Positions(ctx)
	if err != nil {
		return err
	}
	onVenue := make(map[string]bool, len(venuePositions))
	for _, p := range venuePositions {
		onVenue[p.Symbol] = true
	}

	stored, err := b.Storage.AllPositions()
	if err != nil {
		return err
	}
	dropped := 0
	for _, pos := range stored {
		if onVenue[pos.Symbol] {
			continue
		}
		slog.Warn("Stored position missing on venue, dropping",
			slog.String("symbol", pos.Symbol))
		if err := b.Storage.DeletePosition(pos.Symbol); err != nil {
			return err
		}
		dropped++
	}
	if dropped > 0 {
		if err := b.Engine.Rebuild(); err != nil {
			return err
		}
	}

	infra.GlobalMetrics.SetOpenPositions(int32(len(stored) - dropped))
	slog.Info("🔄 Startup reconciliation done",
		slog.Int("stored", len(stored)), slog.Int("dropped", dropped))
	return nil
}

// TrackedWallets returns the enabled wallet addresses for stream
// subscription and records the gauge.
func (b *Bootstrap) TrackedWallets() ([]string, error) {
	wallets, err := b.Storage.AllWallets(true)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addrs = append(addrs, w.Address)
	}
	infra.GlobalMetrics.SetTrackedWallets(int32(len(addrs)))
	return addrs, nil
}

func (b *Bootstrap) notifierOrVoid() domain.Notifier {
	if b.Notifier != nil {
		return b.Notifier
	}
	return voidNotifier{}
}

// voidNotifier swallows notifications when no Telegram token is configured.
type voidNotifier struct{}

func (voidNotifier) Notify(domain.Notification) {}
