// Package health aggregates connection, latency, and cache-performance
// numbers into an operational snapshot. Read-only over the core: it never
// mutates gateway or registry state and may be sampled concurrently with
// everything else.
package health

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/gateway"
)

// healthyLatencyThreshold is the average broadcast latency above which the
// service reports degraded.
const healthyLatencyThreshold = 100 * time.Millisecond

type subscriptionSource interface {
	Count() int
	CountByTenant() map[string]int
}

type connectionSource interface {
	Snapshot() gateway.Stats
}

// Monitor accumulates dispatcher observations and samples the gateway and
// registry on demand.
type Monitor struct {
	clock     clockwork.Clock
	conns     connectionSource
	subs      subscriptionSource
	startedAt time.Time

	mu            sync.Mutex
	fanoutCount   int64
	fanoutTotal   time.Duration
	processingSum float64
	eventCount    int64
	cacheHits     int64
	cacheMisses   int64
}

func NewMonitor(conns connectionSource, subs subscriptionSource, clock clockwork.Clock) *Monitor {
	return &Monitor{
		clock:     clock,
		conns:     conns,
		subs:      subs,
		startedAt: clock.Now(),
	}
}

// RecordEvent accumulates producer-reported processing time and cache
// performance for one consumed event.
func (m *Monitor) RecordEvent(processingTimeMs float64, cacheHit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventCount++
	m.processingSum += processingTimeMs
	if cacheHit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

// RecordFanout accumulates one event's ingestion-to-last-delivery latency.
func (m *Monitor) RecordFanout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanoutCount++
	m.fanoutTotal += d
}

// Uptime returns time since the monitor was constructed at startup.
func (m *Monitor) Uptime() time.Duration {
	return m.clock.Since(m.startedAt)
}

// Report is the operational health snapshot.
type Report struct {
	Status                     string         `json:"status"`
	Healthy                    bool           `json:"healthy"`
	UptimeSeconds              float64        `json:"uptime_seconds"`
	TotalConnections           int            `json:"total_connections"`
	AuthenticatedConnections   int            `json:"authenticated_connections"`
	UnauthenticatedConnections int            `json:"unauthenticated_connections"`
	ConnectionsByTenant        map[string]int `json:"connections_by_tenant"`
	ActiveSubscriptions        int            `json:"active_subscriptions"`
	SubscriptionsByTenant      map[string]int `json:"subscriptions_by_tenant"`
	AvgConnectionDurationSecs  float64        `json:"avg_connection_duration_seconds"`
	AvgBroadcastLatencyMs      float64        `json:"avg_broadcast_latency_ms"`
	AvgProcessingTimeMs        float64        `json:"avg_processing_time_ms"`
	EventsObserved             int64          `json:"events_observed"`
	CacheHitRate               float64        `json:"cache_hit_rate"`
}

// Snapshot assembles the current report. Safe to call concurrently with
// all core operations.
func (m *Monitor) Snapshot() Report {
	connStats := m.conns.Snapshot()

	m.mu.Lock()
	var avgFanout time.Duration
	if m.fanoutCount > 0 {
		avgFanout = m.fanoutTotal / time.Duration(m.fanoutCount)
	}
	var avgProcessing float64
	if m.eventCount > 0 {
		avgProcessing = m.processingSum / float64(m.eventCount)
	}
	var cacheHitRate float64
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		cacheHitRate = float64(m.cacheHits) / float64(total)
	}
	eventCount := m.eventCount
	m.mu.Unlock()

	healthy := avgFanout < healthyLatencyThreshold
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	return Report{
		Status:                     status,
		Healthy:                    healthy,
		UptimeSeconds:              m.clock.Since(m.startedAt).Seconds(),
		TotalConnections:           connStats.Total,
		AuthenticatedConnections:   connStats.Authenticated,
		UnauthenticatedConnections: connStats.Unauthenticated,
		ConnectionsByTenant:        connStats.ByTenant,
		ActiveSubscriptions:        m.subs.Count(),
		SubscriptionsByTenant:      m.subs.CountByTenant(),
		AvgConnectionDurationSecs:  connStats.AvgDuration.Seconds(),
		AvgBroadcastLatencyMs:      float64(avgFanout.Microseconds()) / 1000.0,
		AvgProcessingTimeMs:        avgProcessing,
		EventsObserved:             eventCount,
		CacheHitRate:               cacheHitRate,
	}
}
