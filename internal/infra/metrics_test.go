package infra

import (
	"testing"
)

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordEventClassified()
	m.RecordEventClassified()
	m.RecordDecisionAccepted()
	m.RecordDecisionRejected()
	m.RecordOrderFilled()
	m.RecordOrderRetry()
	m.RecordOrderRetry()
	m.RecordStopLoss()

	snap := m.Snapshot()

	if snap.EventsClassified != 2 {
		t.Errorf("Expected 2 events, got %d", snap.EventsClassified)
	}
	if snap.DecisionsAccepted != 1 || snap.DecisionsRejected != 1 {
		t.Errorf("Expected 1/1 decisions, got %d/%d", snap.DecisionsAccepted, snap.DecisionsRejected)
	}
	if snap.OrdersFilled != 1 {
		t.Errorf("Expected 1 fill, got %d", snap.OrdersFilled)
	}
	if snap.OrderRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", snap.OrderRetries)
	}
	if snap.StopLossTriggers != 1 {
		t.Errorf("Expected 1 stop-loss trigger, got %d", snap.StopLossTriggers)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := &Metrics{}

	m.SetTrackedWallets(5)
	m.SetOpenPositions(2)

	snap := m.Snapshot()
	if snap.TrackedWallets != 5 {
		t.Errorf("Expected 5 wallets, got %d", snap.TrackedWallets)
	}
	if snap.OpenPositions != 2 {
		t.Errorf("Expected 2 positions, got %d", snap.OpenPositions)
	}

	m.AddOpenPositions(1)
	m.AddOpenPositions(-2)
	snap = m.Snapshot()
	if snap.OpenPositions != 1 {
		t.Errorf("Expected 1 position after deltas, got %d", snap.OpenPositions)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordEventClassified()
	m.RecordError()
	m.SetTrackedWallets(3)

	m.Reset()
	snap := m.Snapshot()

	if snap.EventsClassified != 0 {
		t.Error("Expected 0 events after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.TrackedWallets != 0 {
		t.Error("Expected 0 wallets after reset")
	}
}
