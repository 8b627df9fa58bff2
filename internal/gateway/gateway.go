package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/metrics"
)

const verifyTimeout = 5 * time.Second

// Purger removes all state a component derives from a connection. The
// gateway calls every registered purger inside the disconnect transaction
// so no orphaned entries survive a disconnect.
type Purger interface {
	PurgeConnection(connectionID uuid.UUID)
}

// Gateway owns the connection table: admission, identity assignment, and
// the disconnect transaction that cascades into every registry.
type Gateway struct {
	limits   *AdmissionLimits
	verifier domain.TokenVerifier
	clock    clockwork.Clock

	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection

	purgersMu sync.RWMutex
	purgers   []Purger
}

func NewGateway(limits *AdmissionLimits, verifier domain.TokenVerifier, clock clockwork.Clock) *Gateway {
	return &Gateway{
		limits:   limits,
		verifier: verifier,
		clock:    clock,
		conns:    make(map[uuid.UUID]*Connection),
	}
}

// RegisterPurger adds a component to the disconnect cascade.
func (g *Gateway) RegisterPurger(p Purger) {
	g.purgersMu.Lock()
	defer g.purgersMu.Unlock()
	g.purgers = append(g.purgers, p)
}

// Admit claims an admission slot for the IP before any transport work.
// On refusal nothing is allocated; the caller closes with 1008.
func (g *Gateway) Admit(clientIP string) *domain.AdmissionError {
	if err := g.limits.Acquire(clientIP); err != nil {
		metrics.AdmissionRejectsTotal.WithLabelValues(err.Reason).Inc()
		slog.Warn("Connection refused at admission", "client_ip", clientIP, "reason", err.Reason)
		return err
	}
	return nil
}

// Abort returns an admission slot when the transport handshake fails
// between Admit and Register.
func (g *Gateway) Abort(clientIP string) {
	g.limits.Release(clientIP)
}

// Register completes admission after the transport handshake: assigns the
// connection identity, verifies the token if one was supplied, and starts
// the outbound writer. A well-formed but expired/invalid token leaves the
// connection admitted but unauthenticated.
func (g *Gateway) Register(ctx context.Context, ws *websocket.Conn, clientIP, token string) (*Connection, *domain.Claims) {
	conn := newConnection(ws, clientIP, g.clock)

	var claims *domain.Claims
	if token != "" {
		vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
		defer cancel()
		verified, err := g.verifier.Verify(vctx, token)
		switch {
		case err == nil:
			claims = verified
			conn.Authenticated = true
			conn.UserID = verified.UserID
			metrics.TokenVerificationsTotal.WithLabelValues("ok").Inc()
		default:
			metrics.TokenVerificationsTotal.WithLabelValues("rejected").Inc()
			slog.Info("Token rejected, connection stays unauthenticated",
				"connection_id", conn.ID.String(), "error", err)
		}
	}

	conn.start(func() {
		g.Disconnect(conn.ID, domain.CloseNormal, "transport error")
	})

	g.mu.Lock()
	g.conns[conn.ID] = conn
	total := len(g.conns)
	g.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	if conn.Authenticated {
		metrics.AuthenticatedConnections.Inc()
	}

	slog.Info("Connection admitted",
		"connection_id", conn.ID.String(),
		"client_ip", clientIP,
		"authenticated", conn.Authenticated,
		"total_connections", total,
	)
	return conn, claims
}

// SetTenant records the tenant a connection subscribed under.
func (g *Gateway) SetTenant(connectionID uuid.UUID, tenantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if conn, ok := g.conns[connectionID]; ok {
		conn.TenantID = tenantID
	}
}

// Get looks up a live connection by id.
func (g *Gateway) Get(connectionID uuid.UUID) (*Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[connectionID]
	return conn, ok
}

// Send queues a frame for one connection. Returns false when the
// connection is gone or stopped, signalling the caller to self-heal.
func (g *Gateway) Send(connectionID uuid.UUID, payload []byte) bool {
	g.mu.RLock()
	conn, ok := g.conns[connectionID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return conn.Enqueue(payload)
}

// RecordActivity bumps a connection's message count and last-activity
// timestamp after a message passes validation.
func (g *Gateway) RecordActivity(connectionID uuid.UUID) {
	g.mu.RLock()
	conn, ok := g.conns[connectionID]
	g.mu.RUnlock()
	if ok {
		conn.Touch()
	}
}

// Disconnect removes the connection and cascades the removal through
// every registered purger as one logical transaction. Idempotent: the
// purges are safe to repeat, and the slot release and close frame happen
// only on the call that actually removes the connection. The cascade runs
// even for ids the gateway no longer holds, so state created for a
// connection that lost a teardown race is still reclaimed.
func (g *Gateway) Disconnect(connectionID uuid.UUID, code int, reason string) {
	g.mu.Lock()
	conn, ok := g.conns[connectionID]
	if ok {
		delete(g.conns, connectionID)
	}
	total := len(g.conns)
	g.mu.Unlock()

	if ok {
		conn.stop(code, reason)
		g.limits.Release(conn.ClientIP)
	}

	g.purgersMu.RLock()
	purgers := g.purgers
	g.purgersMu.RUnlock()
	for _, p := range purgers {
		p.PurgeConnection(connectionID)
	}

	if !ok {
		return
	}

	metrics.ActiveConnections.Set(float64(total))
	if conn.Authenticated {
		metrics.AuthenticatedConnections.Dec()
	}
	metrics.DisconnectsTotal.WithLabelValues(fmt.Sprintf("%d", code)).Inc()

	slog.Info("Connection closed",
		"connection_id", connectionID.String(),
		"close_code", code,
		"reason", reason,
		"duration", g.clock.Since(conn.CreatedAt).String(),
		"messages", conn.MessageCount(),
	)
}

// Stats is the gateway's contribution to the health snapshot.
type Stats struct {
	Total           int
	Authenticated   int
	Unauthenticated int
	ByTenant        map[string]int
	AvgDuration     time.Duration
}

// Snapshot aggregates connection counts and durations. Read-only.
func (g *Gateway) Snapshot() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{ByTenant: make(map[string]int)}
	var totalDuration time.Duration
	now := g.clock.Now()

	for _, conn := range g.conns {
		stats.Total++
		if conn.Authenticated {
			stats.Authenticated++
		} else {
			stats.Unauthenticated++
		}
		if conn.TenantID != "" {
			stats.ByTenant[conn.TenantID]++
		}
		totalDuration += now.Sub(conn.CreatedAt)
	}
	if stats.Total > 0 {
		stats.AvgDuration = totalDuration / time.Duration(stats.Total)
	}
	return stats
}

// CloseAll terminates every connection during shutdown.
func (g *Gateway) CloseAll(reason string) {
	g.mu.RLock()
	ids := make([]uuid.UUID, 0, len(g.conns))
	for id := range g.conns {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		g.Disconnect(id, domain.CloseNormal, reason)
	}
}
