package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// --- Client -> server ---

// Client intent types. Anything else is answered with an UNKNOWN_TYPE
// soft error.
const (
	ClientPing            = "ping"
	ClientRequestMetrics  = "request_metrics"
	ClientSubscribeLead   = "subscribe_lead"
	ClientUnsubscribeLead = "unsubscribe_lead"
)

// ClientMessage is the decoded form of one inbound frame. The validator
// decodes it exactly once; handlers switch on Type.
type ClientMessage struct {
	Type   string `json:"type"`
	LeadID string `json:"lead_id,omitempty"`
}

// --- Server -> client ---

// Server message types.
const (
	ServerConnectionEstablished = "connection_established"
	ServerHeartbeat             = "heartbeat"
	ServerError                 = "error"
	ServerMetricsResponse       = "metrics_response"
	ServerSubscriptionUpdated   = "subscription_updated"
	ServerIntelligenceEvent     = "intelligence_event"
)

// ConnectionEstablished is the welcome frame sent right after a successful
// subscribe on connect.
type ConnectionEstablished struct {
	Type           string    `json:"type"`
	ConnectionID   uuid.UUID `json:"connection_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	Topics         []string  `json:"topics"`
	Features       []string  `json:"features"`
	Timestamp      time.Time `json:"timestamp"`
}

type Heartbeat struct {
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int64     `json:"message_count"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SubscriptionUpdated struct {
	Type           string    `json:"type"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	LeadID         string    `json:"lead_id"`
	Removed        bool      `json:"removed"`
	Timestamp      time.Time `json:"timestamp"`
}

type MetricsResponse struct {
	Type              string    `json:"type"`
	TenantID          string    `json:"tenant_id"`
	TenantConnections int       `json:"tenant_connections"`
	TotalConnections  int       `json:"total_connections"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	CacheHitRate      float64   `json:"cache_hit_rate"`
	Healthy           bool      `json:"healthy"`
	Timestamp         time.Time `json:"timestamp"`
}

// EventEnvelope is the frame shape delivered to subscribers for one
// intelligence event.
type EventEnvelope struct {
	Type             string          `json:"type"`
	EventID          uuid.UUID       `json:"event_id"`
	EventType        Topic           `json:"event_type"`
	TenantID         string          `json:"tenant_id"`
	LeadID           string          `json:"lead_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	CacheHit         bool            `json:"cache_hit"`
	Timestamp        time.Time       `json:"timestamp"`
}

// NewEventEnvelope wraps a producer event for delivery.
func NewEventEnvelope(ev *IntelligenceEvent) EventEnvelope {
	return EventEnvelope{
		Type:             ServerIntelligenceEvent,
		EventID:          ev.EventID,
		EventType:        ev.EventType,
		TenantID:         ev.TenantID,
		LeadID:           ev.LeadID,
		Payload:          ev.Payload,
		ProcessingTimeMs: ev.ProcessingTimeMs,
		CacheHit:         ev.CacheHit,
		Timestamp:        ev.Timestamp,
	}
}
