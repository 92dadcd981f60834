package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsPublished atomic.Uint64
	tradesFilled    atomic.Uint64
	tradesRejected  atomic.Uint64
	errorsTotal     atomic.Uint64
	priceTicks      atomic.Uint64

	// Trade latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	feedConnected     atomic.Int32 // 1 = connected, 0 = not
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordPublished records n deliveries of live events.
func (m *Metrics) RecordPublished(n int) {
	if n > 0 {
		m.eventsPublished.Add(uint64(n))
	}
}

// RecordTradeFilled records a committed trade and its latency.
func (m *Metrics) RecordTradeFilled(latencyNs int64) {
	m.tradesFilled.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordTradeRejected records a trade rejected before commit.
func (m *Metrics) RecordTradeRejected() {
	m.tradesRejected.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordPriceTick records an applied price snapshot.
func (m *Metrics) RecordPriceTick() {
	m.priceTicks.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetFeedConnected records whether the external price feed is connected.
func (m *Metrics) SetFeedConnected(connected bool) {
	if connected {
		m.feedConnected.Store(1)
	} else {
		m.feedConnected.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsPublished   uint64    `json:"events_published"`
	TradesFilled      uint64    `json:"trades_filled"`
	TradesRejected    uint64    `json:"trades_rejected"`
	ErrorsTotal       uint64    `json:"errors_total"`
	PriceTicks        uint64    `json:"price_ticks"`
	AvgTradeLatencyNs int64     `json:"avg_trade_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	FeedConnected     bool      `json:"feed_connected"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsPublished:   m.eventsPublished.Load(),
		TradesFilled:      m.tradesFilled.Load(),
		TradesRejected:    m.tradesRejected.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		PriceTicks:        m.priceTicks.Load(),
		AvgTradeLatencyNs: avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		FeedConnected:     m.feedConnected.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsPublished.Store(0)
	m.tradesFilled.Store(0)
	m.tradesRejected.Store(0)
	m.errorsTotal.Store(0)
	m.priceTicks.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.feedConnected.Store(0)
}
