package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hypertrack/internal/app"
	"hypertrack/internal/infra/hyperliquid"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	nudge := make(chan string, 64)
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(nudge); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Startup Reconciliation (venue is the source of truth)
	if err := bootstrap.Reconcile(ctx); err != nil {
		slog.Error("❌ Reconciliation failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 5. Notifier
	if bootstrap.Notifier != nil {
		bootstrap.Notifier.Run(ctx)
		defer bootstrap.Notifier.Close()
	}

	// 6. Decision Engine (The Hotpath Loop)
	go bootstrap.Engine.Run(ctx)
	slog.InfoContext(ctx, "✅ Decision engine started")

	// 7. Observation Feed: prime then poll
	if err := bootstrap.Poller.Prime(ctx); err != nil {
		slog.Error("❌ Classifier priming failed", slog.Any("error", err))
		os.Exit(1)
	}
	go bootstrap.Poller.Run(ctx)
	slog.InfoContext(ctx, "✅ Wallet poller started")

	// 8. Optional WebSocket stream nudging the poller on live fills
	if bootstrap.Config.API.Hyperliquid.WSURL != "" {
		wallets, err := bootstrap.TrackedWallets()
		if err != nil {
			slog.Error("Failed to list tracked wallets", slog.Any("error", err))
		} else if len(wallets) > 0 {
			stream := hyperliquid.NewStream(bootstrap.Config, wallets, nudge)
			if err := stream.Connect(ctx); err != nil {
				slog.Error("Failed to connect Hyperliquid stream", slog.Any("error", err))
			}
			defer stream.Disconnect()
			slog.InfoContext(ctx, "✅ Fill stream started", slog.Int("wallets", len(wallets)))
		}
	}

	// 9. Stop-Loss Monitor
	go bootstrap.Monitor.Run(ctx)
	slog.InfoContext(ctx, "✅ Stop-loss monitor started")

	slog.InfoContext(ctx, "✨ HyperTrack fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
