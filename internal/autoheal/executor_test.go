package autoheal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReplayer struct {
	tenant string
	ids    []string
	err    error
}

func (r *fakeReplayer) Replay(_ context.Context, tenantID string, deliveryIDs []string) (int, error) {
	r.tenant = tenantID
	r.ids = deliveryIDs
	if r.err != nil {
		return 0, r.err
	}
	return len(deliveryIDs), nil
}

type fakeEscalator struct {
	incidents []*Incident
}

func (e *fakeEscalator) Escalate(_ context.Context, incident *Incident, _ map[string]interface{}) error {
	e.incidents = append(e.incidents, incident)
	return nil
}

func TestReplayRespectsCapAndAllowList(t *testing.T) {
	replayer := &fakeReplayer{}
	executor := NewExecutor(ModeLive, replayer, nil, zap.NewNop())

	incident := &Incident{TenantID: "acme", Endpoint: "ep"}
	stats := &WindowStats{
		RecentDeliveries: []Delivery{
			{ID: "d1", TriageLabel: "transient"},
			{ID: "d2", TriageLabel: "permanent"},
			{ID: "d3", TriageLabel: "transient"},
			{ID: "d4", TriageLabel: "transient"},
		},
	}
	limits := Limits{MaxReplayDeliveries: 2, AllowedTriageLabels: []string{"transient"}}

	executed, success, details := executor.Execute(context.Background(), incident, stats, StrategyReplayRecent, limits)
	assert.True(t, executed)
	assert.True(t, success)

	assert.Equal(t, "acme", replayer.tenant)
	assert.Equal(t, []string{"d1", "d3"}, replayer.ids)
	assert.Equal(t, 2, details["eligible_deliveries"])
	assert.Equal(t, 1, details["skipped_by_triage_label"])
}

func TestReplayWithNothingEligible(t *testing.T) {
	replayer := &fakeReplayer{}
	executor := NewExecutor(ModeLive, replayer, nil, zap.NewNop())

	stats := &WindowStats{
		RecentDeliveries: []Delivery{{ID: "d1", TriageLabel: "permanent"}},
	}
	limits := Limits{MaxReplayDeliveries: 10, AllowedTriageLabels: []string{"transient"}}

	executed, success, _ := executor.Execute(context.Background(), &Incident{}, stats, StrategyReplayRecent, limits)
	assert.True(t, executed)
	assert.False(t, success)
	assert.Nil(t, replayer.ids)
}

func TestSimulatedModeDoesNotTouchPipeline(t *testing.T) {
	replayer := &fakeReplayer{}
	executor := NewExecutor(ModeSimulated, replayer, nil, zap.NewNop())

	stats := &WindowStats{
		RecentDeliveries: []Delivery{{ID: "d1", TriageLabel: "transient"}},
	}
	limits := Limits{MaxReplayDeliveries: 10, AllowedTriageLabels: []string{"transient"}}

	executed, success, details := executor.Execute(context.Background(), &Incident{TenantID: "acme"}, stats, StrategyReplayRecent, limits)
	assert.True(t, executed)
	assert.True(t, success)
	assert.Equal(t, true, details["would_apply"])
	assert.Nil(t, replayer.ids, "simulated replay must not dispatch deliveries")

	// Simulated rate limiting installs nothing either.
	executor.Execute(context.Background(), &Incident{TenantID: "acme"}, stats, StrategyRateLimitSource, limits)
	assert.Nil(t, executor.TenantLimiter("acme"))
}

func TestEscalateHandsIncidentOver(t *testing.T) {
	escalator := &fakeEscalator{}
	executor := NewExecutor(ModeLive, nil, escalator, zap.NewNop())

	incident := &Incident{TenantID: "acme", Severity: "critical"}
	executed, success, _ := executor.Execute(context.Background(), incident, &WindowStats{}, StrategyEscalateOperator, Limits{})
	assert.True(t, executed)
	assert.True(t, success)
	require.Len(t, escalator.incidents, 1)
	assert.Equal(t, "critical", escalator.incidents[0].Severity)
}

func TestRateLimitAndSilenceInstallState(t *testing.T) {
	executor := NewExecutor(ModeLive, nil, nil, zap.NewNop())
	incident := &Incident{TenantID: "acme", Endpoint: "ep"}

	executed, success, _ := executor.Execute(context.Background(), incident, &WindowStats{}, StrategyRateLimitSource, Limits{})
	assert.True(t, executed)
	assert.True(t, success)
	assert.NotNil(t, executor.TenantLimiter("acme"))

	executed, success, _ = executor.Execute(context.Background(), incident, &WindowStats{}, StrategySilenceDupes, Limits{})
	assert.True(t, executed)
	assert.True(t, success)
	_, silenced := executor.SilencedUntil("ep")
	assert.True(t, silenced)
}
