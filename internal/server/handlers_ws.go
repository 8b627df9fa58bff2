package server

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/gateway"
	"github.com/leadstream/leadstream/internal/metrics"
)

const heartbeatInterval = 30 * time.Second

// connectionFeatures is advertised in the welcome frame.
var connectionFeatures = []string{
	"real_time_scoring",
	"churn_alerts",
	"property_matching",
	"lead_insights",
}

// handleIntelligenceSocket admits, authenticates, and serves one client
// connection. Admission limits are checked before the transport upgrade;
// refusal allocates nothing.
func (s *Server) handleIntelligenceSocket(c echo.Context) error {
	tenantID := c.Param("tenant")
	token := c.QueryParam("token")
	clientIP := c.RealIP()

	if admErr := s.gateway.Admit(clientIP); admErr != nil {
		ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return nil
		}
		closeWith(ws, domain.ClosePolicy, admErr.Reason)
		return nil
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.gateway.Abort(clientIP)
		return err
	}

	if token == "" {
		s.gateway.Abort(clientIP)
		closeWith(ws, domain.CloseUnauthorized, "authentication token required")
		return nil
	}

	conn, claims := s.gateway.Register(c.Request().Context(), ws, clientIP, token)

	topics := domain.ParseTopics(c.QueryParam("topics"))
	leadIDs := splitList(c.QueryParam("lead_ids"))
	sub, subErr := s.registry.Subscribe(conn.ID, tenantID, claims, topics, leadIDs)
	if subErr != nil {
		s.gateway.Disconnect(conn.ID, domain.CloseForbidden, "tenant access forbidden")
		return nil
	}
	s.gateway.SetTenant(conn.ID, tenantID)

	s.sendJSON(conn, domain.ConnectionEstablished{
		Type:           domain.ServerConnectionEstablished,
		ConnectionID:   conn.ID,
		SubscriptionID: sub.ID,
		TenantID:       tenantID,
		Topics:         topicNames(topics),
		Features:       connectionFeatures,
		Timestamp:      s.clock.Now().UTC(),
	})

	s.serveConnection(conn, sub.ID, tenantID)
	return nil
}

// serveConnection runs the per-connection receive loop: a bounded wait
// per iteration, heartbeat on idle, intent dispatch on a validated
// message, disconnect cleanup on transport close. An unexpected fault is
// caught here, at the worker boundary, and closes only this connection.
func (s *Server) serveConnection(conn *gateway.Connection, subscriptionID uuid.UUID, tenantID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Connection worker panic recovered",
				"connection_id", conn.ID.String(), "panic", r)
			s.gateway.Disconnect(conn.ID, domain.CloseInternalError, "internal error")
		}
	}()

	quit := make(chan struct{})
	defer close(quit)

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				select {
				case errCh <- err:
				case <-quit:
				}
				return
			}
			select {
			case msgCh <- data:
			case <-quit:
				return
			}
		}
	}()

	heartbeat := s.clock.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case raw := <-msgCh:
			s.handleClientMessage(conn, subscriptionID, tenantID, raw)
			// Heartbeats mark idleness; inbound traffic restarts the clock.
			heartbeat.Reset(s.heartbeatInterval)
		case <-heartbeat.Chan():
			metrics.HeartbeatsTotal.Inc()
			s.sendHeartbeat(conn)
		case err := <-errCh:
			reason := "client disconnected"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "transport error"
			}
			s.gateway.Disconnect(conn.ID, domain.CloseNormal, reason)
			return
		}
	}
}

// handleClientMessage validates one inbound frame and dispatches its
// intent. All validation failures are soft: one error frame, connection
// stays open.
func (s *Server) handleClientMessage(conn *gateway.Connection, subscriptionID uuid.UUID, tenantID string, raw []byte) {
	msg, verr := s.validator.Validate(conn.ID, raw)
	if verr != nil {
		s.sendError(conn, verr.Code, verr.Message)
		return
	}

	switch msg.Type {
	case domain.ClientPing:
		s.sendHeartbeat(conn)

	case domain.ClientRequestMetrics:
		report := s.monitor.Snapshot()
		s.sendJSON(conn, domain.MetricsResponse{
			Type:              domain.ServerMetricsResponse,
			TenantID:          tenantID,
			TenantConnections: report.ConnectionsByTenant[tenantID],
			TotalConnections:  report.TotalConnections,
			AvgLatencyMs:      report.AvgBroadcastLatencyMs,
			CacheHitRate:      report.CacheHitRate,
			Healthy:           report.Healthy,
			Timestamp:         s.clock.Now().UTC(),
		})

	case domain.ClientSubscribeLead:
		s.mutateLeadFilter(conn, subscriptionID, msg.LeadID, false)

	case domain.ClientUnsubscribeLead:
		s.mutateLeadFilter(conn, subscriptionID, msg.LeadID, true)

	default:
		s.sendError(conn, domain.CodeUnknownType, "unknown message type: "+msg.Type)
	}
}

func (s *Server) mutateLeadFilter(conn *gateway.Connection, subscriptionID uuid.UUID, leadID string, remove bool) {
	var err error
	if remove {
		err = s.registry.RemoveLeadFilter(subscriptionID, leadID)
	} else {
		err = s.registry.AddLeadFilter(subscriptionID, leadID)
	}
	if err != nil {
		s.sendError(conn, domain.CodeSubscriptionError, err.Error())
		return
	}
	s.sendJSON(conn, domain.SubscriptionUpdated{
		Type:           domain.ServerSubscriptionUpdated,
		SubscriptionID: subscriptionID,
		LeadID:         leadID,
		Removed:        remove,
		Timestamp:      s.clock.Now().UTC(),
	})
}

func (s *Server) sendHeartbeat(conn *gateway.Connection) {
	s.sendJSON(conn, domain.Heartbeat{
		Type:         domain.ServerHeartbeat,
		Timestamp:    s.clock.Now().UTC(),
		MessageCount: conn.MessageCount(),
	})
}

func (s *Server) sendError(conn *gateway.Connection, code, message string) {
	s.sendJSON(conn, domain.ErrorMessage{
		Type:    domain.ServerError,
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(conn *gateway.Connection, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal server message", "error", err)
		return
	}
	conn.Enqueue(payload)
}

// closeWith sends a close frame on a connection that never became a
// Connection: admission refusal and missing-token paths.
func closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
	_ = ws.Close()
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func topicNames(topics map[domain.Topic]struct{}) []string {
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
