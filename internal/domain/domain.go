package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Topics ---

// Topic is a named category of intelligence event a subscription opts into.
type Topic string

const (
	TopicLeadScoring      Topic = "lead_scoring"
	TopicChurnPrediction  Topic = "churn_prediction"
	TopicPropertyMatching Topic = "property_matching"
	TopicLeadIntelligence Topic = "lead_intelligence"
	TopicSystemMetrics    Topic = "system_metrics"

	// TopicAll matches every event type for the tenant regardless of the
	// other topics declared on the subscription.
	TopicAll Topic = "all"
)

var knownTopics = map[Topic]struct{}{
	TopicLeadScoring:      {},
	TopicChurnPrediction:  {},
	TopicPropertyMatching: {},
	TopicLeadIntelligence: {},
	TopicSystemMetrics:    {},
	TopicAll:              {},
}

// ParseTopic validates a topic name against the fixed enumeration.
func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.TrimSpace(s))
	_, ok := knownTopics[t]
	return t, ok
}

// ParseTopics parses a comma-separated topic list, silently dropping
// unknown names. An empty or all-unknown input yields the default {all}.
func ParseTopics(raw string) map[Topic]struct{} {
	topics := make(map[Topic]struct{})
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		if t, ok := ParseTopic(part); ok {
			topics[t] = struct{}{}
		}
	}
	if len(topics) == 0 {
		topics[TopicAll] = struct{}{}
	}
	return topics
}

// --- Model types ---

// Claims is the identity extracted from a verified auth token.
// Tenant grants arrive inside the token; there is no separate grant store.
type Claims struct {
	UserID  string
	Tenants []string
	Admin   bool
}

// HasTenant reports whether the claims grant access to the given tenant.
func (c *Claims) HasTenant(tenantID string) bool {
	if c == nil {
		return false
	}
	if c.Admin {
		return true
	}
	for _, t := range c.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// Subscription is a connection's live topic/tenant/lead-filter interest.
// ConnectionID is a back-reference, never ownership: the connection is
// owned by the gateway and may already be gone when a lookup happens.
type Subscription struct {
	ID           uuid.UUID
	ConnectionID uuid.UUID
	TenantID     string
	UserID       string
	Topics       map[Topic]struct{}
	LeadFilters  map[string]struct{}
	CreatedAt    time.Time
	LastUpdate   time.Time
	UpdateCount  int
}

// MatchesTopic reports whether the subscription covers the given event type.
func (s *Subscription) MatchesTopic(t Topic) bool {
	if _, ok := s.Topics[TopicAll]; ok {
		return true
	}
	_, ok := s.Topics[t]
	return ok
}

// MatchesLead reports whether the subscription's lead filters admit the
// given lead. An empty filter set matches every lead for the tenant, and
// events without a lead id bypass filtering entirely.
func (s *Subscription) MatchesLead(leadID string) bool {
	if len(s.LeadFilters) == 0 || leadID == "" {
		return true
	}
	_, ok := s.LeadFilters[leadID]
	return ok
}

// IntelligenceEvent is one event from the external producer stream.
// Transient: consumed once by the dispatcher, never persisted here.
type IntelligenceEvent struct {
	EventID          uuid.UUID       `json:"event_id"`
	TenantID         string          `json:"tenant_id"`
	LeadID           string          `json:"lead_id,omitempty"`
	EventType        Topic           `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	Timestamp        time.Time       `json:"timestamp"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	CacheHit         bool            `json:"cache_hit"`
}

// --- Interfaces ---

// TokenVerifier is the external authentication collaborator: token in,
// claims out. Implementations must treat expired tokens as ErrInvalidToken.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// EventSink accepts producer events for fan-out.
type EventSink interface {
	Dispatch(event *IntelligenceEvent)
}
