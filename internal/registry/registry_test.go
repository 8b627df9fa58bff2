package registry

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadstream/leadstream/internal/domain"
)

func tenantClaims(tenants ...string) *domain.Claims {
	return &domain.Claims{UserID: "user-1", Tenants: tenants}
}

func scoringEvent(tenantID, leadID string) *domain.IntelligenceEvent {
	return &domain.IntelligenceEvent{
		EventID:   uuid.New(),
		TenantID:  tenantID,
		LeadID:    leadID,
		EventType: domain.TopicLeadScoring,
	}
}

func TestSubscribe_DefaultsToAllTopics(t *testing.T) {
	r := New(clockwork.NewFakeClock())

	sub, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)

	assert.True(t, sub.MatchesTopic(domain.TopicLeadScoring))
	assert.True(t, sub.MatchesTopic(domain.TopicChurnPrediction))
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, 1, r.Count())
}

func TestSubscribe_ForbiddenTenant(t *testing.T) {
	r := New(clockwork.NewFakeClock())

	_, err := r.Subscribe(uuid.New(), "T2", tenantClaims("T1"), nil, nil)
	assert.ErrorIs(t, err, domain.ErrForbiddenTenant)

	// Unauthenticated connections carry nil claims and get the same refusal.
	_, err = r.Subscribe(uuid.New(), "T1", nil, nil, nil)
	assert.ErrorIs(t, err, domain.ErrForbiddenTenant)

	assert.Equal(t, 0, r.Count())
}

func TestSubscribe_AdminBypassesTenantCheck(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	admin := &domain.Claims{UserID: "ops", Admin: true}

	sub, err := r.Subscribe(uuid.New(), "T9", admin, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "T9", sub.TenantID)
}

func TestSubscribe_ReplacesPreviousForConnection(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	connID := uuid.New()

	first, err := r.Subscribe(connID, "T1", tenantClaims("T1", "T2"), nil, []string{"lead-1"})
	require.NoError(t, err)
	second, err := r.Subscribe(connID, "T2", tenantClaims("T1", "T2"), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Count())
	_, ok := r.Get(first.ID)
	assert.False(t, ok)

	current, ok := r.ForConnection(connID)
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)

	// The old tenant and lead indexes were cleaned along with it.
	assert.Empty(t, r.Candidates(scoringEvent("T1", "lead-1")))
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	sub, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)

	r.Unsubscribe(sub.ID)
	r.Unsubscribe(sub.ID)
	r.Unsubscribe(uuid.New())

	assert.Equal(t, 0, r.Count())
}

func TestCandidates_TenantIsolation(t *testing.T) {
	r := New(clockwork.NewFakeClock())

	subT1, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)
	_, err = r.Subscribe(uuid.New(), "T2", tenantClaims("T2"), nil, nil)
	require.NoError(t, err)

	candidates := r.Candidates(scoringEvent("T1", ""))
	require.Len(t, candidates, 1)
	assert.Equal(t, subT1.ID, candidates[0].SubscriptionID)

	assert.Empty(t, r.Candidates(scoringEvent("T3", "")))
}

func TestCandidates_TopicFiltering(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	claims := tenantClaims("T1")

	churnOnly := map[domain.Topic]struct{}{domain.TopicChurnPrediction: {}}
	everything := map[domain.Topic]struct{}{domain.TopicAll: {}}

	_, err := r.Subscribe(uuid.New(), "T1", claims, churnOnly, nil)
	require.NoError(t, err)
	wide, err := r.Subscribe(uuid.New(), "T1", claims, everything, nil)
	require.NoError(t, err)

	candidates := r.Candidates(scoringEvent("T1", ""))
	require.Len(t, candidates, 1)
	assert.Equal(t, wide.ID, candidates[0].SubscriptionID)

	churnEvent := &domain.IntelligenceEvent{TenantID: "T1", EventType: domain.TopicChurnPrediction}
	assert.Len(t, r.Candidates(churnEvent), 2)
}

func TestCandidates_LeadFilters(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	claims := tenantClaims("T1")

	_, err := r.Subscribe(uuid.New(), "T1", claims, nil, []string{"lead-1"})
	require.NoError(t, err)
	unfiltered, err := r.Subscribe(uuid.New(), "T1", claims, nil, nil)
	require.NoError(t, err)

	// Matching lead: both deliver.
	assert.Len(t, r.Candidates(scoringEvent("T1", "lead-1")), 2)

	// Non-matching lead: only the unfiltered subscription delivers.
	candidates := r.Candidates(scoringEvent("T1", "lead-2"))
	require.Len(t, candidates, 1)
	assert.Equal(t, unfiltered.ID, candidates[0].SubscriptionID)

	// No lead on the event: filters do not apply.
	assert.Len(t, r.Candidates(scoringEvent("T1", "")), 2)
}

func TestAddLeadFilter(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	sub, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)

	// An unfiltered subscription sees every lead. Adding a filter narrows it.
	require.NoError(t, r.AddLeadFilter(sub.ID, "lead-1"))

	assert.Len(t, r.Candidates(scoringEvent("T1", "lead-1")), 1)
	assert.Empty(t, r.Candidates(scoringEvent("T1", "lead-2")))

	got, _ := r.Get(sub.ID)
	assert.Equal(t, 1, got.UpdateCount)
}

func TestAddLeadFilter_Validation(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	sub, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)

	err = r.AddLeadFilter(sub.ID, "")
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.CodeSubscriptionError, verr.Code)

	err = r.AddLeadFilter(uuid.New(), "lead-1")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestRemoveLeadFilter(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	sub, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, []string{"lead-1", "lead-2"})
	require.NoError(t, err)

	require.NoError(t, r.RemoveLeadFilter(sub.ID, "lead-1"))

	assert.NotContains(t, r.byLead, "lead-1")
	assert.Empty(t, r.Candidates(scoringEvent("T1", "lead-1")))
	assert.Len(t, r.Candidates(scoringEvent("T1", "lead-2")), 1)

	// Dropping the last filter returns the subscription to unfiltered.
	require.NoError(t, r.RemoveLeadFilter(sub.ID, "lead-2"))
	assert.Len(t, r.Candidates(scoringEvent("T1", "lead-99")), 1)

	// Removing an absent filter is an update, not an error.
	require.NoError(t, r.RemoveLeadFilter(sub.ID, "lead-never"))
	got, _ := r.Get(sub.ID)
	assert.Equal(t, 3, got.UpdateCount)

	err = r.RemoveLeadFilter(uuid.New(), "lead-1")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestPurgeConnection_CleansAllIndexes(t *testing.T) {
	r := New(clockwork.NewFakeClock())
	connID := uuid.New()

	sub, err := r.Subscribe(connID, "T1", tenantClaims("T1"), nil, []string{"lead-1"})
	require.NoError(t, err)

	r.PurgeConnection(connID)
	r.PurgeConnection(connID)

	assert.Equal(t, 0, r.Count())
	_, ok := r.Get(sub.ID)
	assert.False(t, ok)
	_, ok = r.ForConnection(connID)
	assert.False(t, ok)
	assert.Empty(t, r.Candidates(scoringEvent("T1", "lead-1")))
	assert.Empty(t, r.CountByTenant())
	assert.Empty(t, r.byConn)
	assert.Empty(t, r.byTenant)
	assert.Empty(t, r.byLead)
}

func TestCountByTenant(t *testing.T) {
	r := New(clockwork.NewFakeClock())

	_, err := r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)
	_, err = r.Subscribe(uuid.New(), "T1", tenantClaims("T1"), nil, nil)
	require.NoError(t, err)
	_, err = r.Subscribe(uuid.New(), "T2", tenantClaims("T2"), nil, nil)
	require.NoError(t, err)

	counts := r.CountByTenant()
	assert.Equal(t, map[string]int{"T1": 2, "T2": 1}, counts)
}
