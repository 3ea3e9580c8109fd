package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsClassified  atomic.Uint64
	decisionsAccepted atomic.Uint64
	decisionsRejected atomic.Uint64
	ordersFilled      atomic.Uint64
	orderRetries      atomic.Uint64
	stopLossTriggers  atomic.Uint64
	errorsTotal       atomic.Uint64

	// Gauges
	trackedWallets atomic.Int32
	openPositions  atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordEventClassified records a classified follow event.
func (m *Metrics) RecordEventClassified() {
	m.eventsClassified.Add(1)
}

// RecordDecisionAccepted records an accepted follow decision.
func (m *Metrics) RecordDecisionAccepted() {
	m.decisionsAccepted.Add(1)
}

// RecordDecisionRejected records a rejected follow decision.
func (m *Metrics) RecordDecisionRejected() {
	m.decisionsRejected.Add(1)
}

// RecordOrderFilled records a confirmed fill.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRetry records a retried order submission attempt.
func (m *Metrics) RecordOrderRetry() {
	m.orderRetries.Add(1)
}

// RecordStopLoss records a stop-loss trigger.
func (m *Metrics) RecordStopLoss() {
	m.stopLossTriggers.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// SetTrackedWallets sets the current tracked wallet count.
func (m *Metrics) SetTrackedWallets(count int32) {
	m.trackedWallets.Store(count)
}

// SetOpenPositions sets the current open position count.
func (m *Metrics) SetOpenPositions(count int32) {
	m.openPositions.Store(count)
}

// AddOpenPositions adjusts the open position count by delta.
func (m *Metrics) AddOpenPositions(delta int32) {
	m.openPositions.Add(delta)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsClassified  uint64
	DecisionsAccepted uint64
	DecisionsRejected uint64
	OrdersFilled      uint64
	OrderRetries      uint64
	StopLossTriggers  uint64
	ErrorsTotal       uint64
	TrackedWallets    int32
	OpenPositions     int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		EventsClassified:  m.eventsClassified.Load(),
		DecisionsAccepted: m.decisionsAccepted.Load(),
		DecisionsRejected: m.decisionsRejected.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		OrderRetries:      m.orderRetries.Load(),
		StopLossTriggers:  m.stopLossTriggers.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		TrackedWallets:    m.trackedWallets.Load(),
		OpenPositions:     m.openPositions.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsClassified.Store(0)
	m.decisionsAccepted.Store(0)
	m.decisionsRejected.Store(0)
	m.ordersFilled.Store(0)
	m.orderRetries.Store(0)
	m.stopLossTriggers.Store(0)
	m.errorsTotal.Store(0)
	m.trackedWallets.Store(0)
	m.openPositions.Store(0)
}
