package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTopics(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Topic
	}{
		{"empty defaults to all", "", []Topic{TopicAll}},
		{"single topic", "lead_scoring", []Topic{TopicLeadScoring}},
		{"multiple topics", "lead_scoring,churn_prediction", []Topic{TopicLeadScoring, TopicChurnPrediction}},
		{"unknown names dropped", "lead_scoring,nonsense", []Topic{TopicLeadScoring}},
		{"all unknown defaults to all", "nonsense,garbage", []Topic{TopicAll}},
		{"whitespace tolerated", " lead_scoring , system_metrics ", []Topic{TopicLeadScoring, TopicSystemMetrics}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTopics(tt.raw)
			assert.Len(t, got, len(tt.want))
			for _, topic := range tt.want {
				assert.Contains(t, got, topic)
			}
		})
	}
}

func TestSubscriptionMatchesTopic(t *testing.T) {
	sub := &Subscription{Topics: map[Topic]struct{}{TopicLeadScoring: {}}}
	assert.True(t, sub.MatchesTopic(TopicLeadScoring))
	assert.False(t, sub.MatchesTopic(TopicChurnPrediction))

	// "all" matches every event type regardless of other topics
	sub.Topics[TopicAll] = struct{}{}
	assert.True(t, sub.MatchesTopic(TopicChurnPrediction))
	assert.True(t, sub.MatchesTopic(TopicSystemMetrics))
}

func TestSubscriptionMatchesLead(t *testing.T) {
	sub := &Subscription{LeadFilters: map[string]struct{}{}}

	// Empty filter set matches every lead
	assert.True(t, sub.MatchesLead("L9"))
	assert.True(t, sub.MatchesLead(""))

	sub.LeadFilters["L9"] = struct{}{}
	assert.True(t, sub.MatchesLead("L9"))
	assert.False(t, sub.MatchesLead("L10"))

	// Events without a lead id bypass filtering
	assert.True(t, sub.MatchesLead(""))
}

func TestClaimsHasTenant(t *testing.T) {
	claims := &Claims{UserID: "u1", Tenants: []string{"T1", "T2"}}
	assert.True(t, claims.HasTenant("T1"))
	assert.False(t, claims.HasTenant("T3"))

	admin := &Claims{UserID: "u2", Admin: true}
	assert.True(t, admin.HasTenant("T3"))

	var nilClaims *Claims
	assert.False(t, nilClaims.HasTenant("T1"))
}
