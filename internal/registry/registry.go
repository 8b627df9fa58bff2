// Package registry tracks per-connection topic/tenant/lead-filter
// subscriptions. Three indexes (by subscription id, by tenant, by lead id)
// are kept consistent under one mutex; the dispatcher snapshots candidates
// under a read lock and delivers outside it.
package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/metrics"
)

// Candidate is one delivery target snapshotted during broadcast matching.
type Candidate struct {
	SubscriptionID uuid.UUID
	ConnectionID   uuid.UUID
}

type Registry struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	subs     map[uuid.UUID]*domain.Subscription
	byConn   map[uuid.UUID]uuid.UUID           // connection id -> subscription id
	byTenant map[string]map[uuid.UUID]struct{} // tenant id -> subscription ids
	byLead   map[string]map[uuid.UUID]struct{} // lead id -> subscription ids
}

func New(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:    clock,
		subs:     make(map[uuid.UUID]*domain.Subscription),
		byConn:   make(map[uuid.UUID]uuid.UUID),
		byTenant: make(map[string]map[uuid.UUID]struct{}),
		byLead:   make(map[string]map[uuid.UUID]struct{}),
	}
}

// Subscribe records a connection's subscription, replacing any previous
// one for the same connection. Refused with ErrForbiddenTenant when the
// claims do not grant the tenant; admins bypass the check. A nil or empty
// topic set defaults to {all}.
func (r *Registry) Subscribe(connectionID uuid.UUID, tenantID string, claims *domain.Claims, topics map[domain.Topic]struct{}, leadFilters []string) (*domain.Subscription, error) {
	if !claims.HasTenant(tenantID) {
		return nil, domain.ErrForbiddenTenant
	}

	if len(topics) == 0 {
		topics = map[domain.Topic]struct{}{domain.TopicAll: {}}
	}
	filters := make(map[string]struct{}, len(leadFilters))
	for _, leadID := range leadFilters {
		if leadID != "" {
			filters[leadID] = struct{}{}
		}
	}

	now := r.clock.Now()
	sub := &domain.Subscription{
		ID:           uuid.New(),
		ConnectionID: connectionID,
		TenantID:     tenantID,
		UserID:       claims.UserID,
		Topics:       topics,
		LeadFilters:  filters,
		CreatedAt:    now,
		LastUpdate:   now,
	}

	r.mu.Lock()
	if prevID, ok := r.byConn[connectionID]; ok {
		r.removeLocked(prevID)
	}
	r.insertLocked(sub)
	total := len(r.subs)
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(total))
	metrics.SubscriptionMutationsTotal.WithLabelValues("subscribe").Inc()
	slog.Debug("Subscription created",
		"subscription_id", sub.ID.String(),
		"connection_id", connectionID.String(),
		"tenant_id", tenantID,
		"topics", len(topics),
		"lead_filters", len(filters),
	)
	return sub, nil
}

// Unsubscribe removes a subscription by id. Idempotent.
func (r *Registry) Unsubscribe(subscriptionID uuid.UUID) {
	r.mu.Lock()
	_, ok := r.subs[subscriptionID]
	if ok {
		r.removeLocked(subscriptionID)
	}
	total := len(r.subs)
	r.mu.Unlock()

	if ok {
		metrics.ActiveSubscriptions.Set(float64(total))
		metrics.SubscriptionMutationsTotal.WithLabelValues("unsubscribe").Inc()
	}
}

// AddLeadFilter narrows the subscription to an additional lead id.
func (r *Registry) AddLeadFilter(subscriptionID uuid.UUID, leadID string) error {
	if leadID == "" {
		return domain.NewValidationError(domain.CodeSubscriptionError, "lead_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[subscriptionID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}

	sub.LeadFilters[leadID] = struct{}{}
	leads, ok := r.byLead[leadID]
	if !ok {
		leads = make(map[uuid.UUID]struct{})
		r.byLead[leadID] = leads
	}
	leads[subscriptionID] = struct{}{}

	sub.UpdateCount++
	sub.LastUpdate = r.clock.Now()
	metrics.SubscriptionMutationsTotal.WithLabelValues("add_filter").Inc()
	return nil
}

// RemoveLeadFilter widens the subscription by dropping one lead id.
// Removing an absent filter still counts as an update.
func (r *Registry) RemoveLeadFilter(subscriptionID uuid.UUID, leadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[subscriptionID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}

	delete(sub.LeadFilters, leadID)
	if leads, ok := r.byLead[leadID]; ok {
		delete(leads, subscriptionID)
		if len(leads) == 0 {
			delete(r.byLead, leadID)
		}
	}

	sub.UpdateCount++
	sub.LastUpdate = r.clock.Now()
	metrics.SubscriptionMutationsTotal.WithLabelValues("remove_filter").Inc()
	return nil
}

// PurgeConnection removes the connection's subscription from all three
// indexes. Part of the gateway's disconnect cascade.
func (r *Registry) PurgeConnection(connectionID uuid.UUID) {
	r.mu.Lock()
	subID, ok := r.byConn[connectionID]
	if ok {
		r.removeLocked(subID)
	}
	total := len(r.subs)
	r.mu.Unlock()

	if ok {
		metrics.ActiveSubscriptions.Set(float64(total))
		metrics.SubscriptionMutationsTotal.WithLabelValues("purge").Inc()
	}
}

// Get returns the subscription by id.
func (r *Registry) Get(subscriptionID uuid.UUID) (*domain.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[subscriptionID]
	return sub, ok
}

// ForConnection returns a connection's active subscription, if any.
func (r *Registry) ForConnection(connectionID uuid.UUID) (*domain.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subID, ok := r.byConn[connectionID]
	if !ok {
		return nil, false
	}
	sub, ok := r.subs[subID]
	return sub, ok
}

// Candidates snapshots the delivery targets for one event: tenant match,
// topic match (or all), and lead-filter match when the event carries a
// lead id.
func (r *Registry) Candidates(event *domain.IntelligenceEvent) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenantSubs, ok := r.byTenant[event.TenantID]
	if !ok {
		return nil
	}

	candidates := make([]Candidate, 0, len(tenantSubs))
	for subID := range tenantSubs {
		sub := r.subs[subID]
		if !sub.MatchesTopic(event.EventType) || !sub.MatchesLead(event.LeadID) {
			continue
		}
		candidates = append(candidates, Candidate{SubscriptionID: subID, ConnectionID: sub.ConnectionID})
	}
	return candidates
}

// CountByTenant returns live subscription counts per tenant.
func (r *Registry) CountByTenant() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int, len(r.byTenant))
	for tenantID, subs := range r.byTenant {
		counts[tenantID] = len(subs)
	}
	return counts
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// insertLocked adds the subscription to all three indexes. Caller holds mu.
func (r *Registry) insertLocked(sub *domain.Subscription) {
	r.subs[sub.ID] = sub
	r.byConn[sub.ConnectionID] = sub.ID

	tenants, ok := r.byTenant[sub.TenantID]
	if !ok {
		tenants = make(map[uuid.UUID]struct{})
		r.byTenant[sub.TenantID] = tenants
	}
	tenants[sub.ID] = struct{}{}

	for leadID := range sub.LeadFilters {
		leads, ok := r.byLead[leadID]
		if !ok {
			leads = make(map[uuid.UUID]struct{})
			r.byLead[leadID] = leads
		}
		leads[sub.ID] = struct{}{}
	}
}

// removeLocked deletes the subscription from all three indexes. Caller
// holds mu; the subscription must exist.
func (r *Registry) removeLocked(subscriptionID uuid.UUID) {
	sub, ok := r.subs[subscriptionID]
	if !ok {
		return
	}
	delete(r.subs, subscriptionID)
	delete(r.byConn, sub.ConnectionID)

	if tenants, ok := r.byTenant[sub.TenantID]; ok {
		delete(tenants, subscriptionID)
		if len(tenants) == 0 {
			delete(r.byTenant, sub.TenantID)
		}
	}
	for leadID := range sub.LeadFilters {
		if leads, ok := r.byLead[leadID]; ok {
			delete(leads, subscriptionID)
			if len(leads) == 0 {
				delete(r.byLead, leadID)
			}
		}
	}
}
