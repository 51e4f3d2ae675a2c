package autoheal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectStrategyTree(t *testing.T) {
	tests := []struct {
		name     string
		incident Incident
		stats    WindowStats
		want     Strategy
	}{
		{
			name:     "large failure cluster escalates",
			incident: Incident{FailureClusterDetected: true, RecentFailures: 51},
			want:     StrategyEscalateOperator,
		},
		{
			name:     "cluster at the boundary falls through",
			incident: Incident{FailureClusterDetected: true, RecentFailures: 50},
			want:     StrategyDeferAndMonitor,
		},
		{
			name:     "small spike without cluster defers",
			incident: Incident{SpikeDetected: true, RecentFailures: 4},
			want:     StrategyDeferAndMonitor,
		},
		{
			name:     "mostly transient failures replay",
			incident: Incident{RecentFailures: 25},
			stats:    WindowStats{TransientFailureRatio: 0.8},
			want:     StrategyReplayRecent,
		},
		{
			name:     "too many failures disable replay",
			incident: Incident{RecentFailures: 26},
			stats:    WindowStats{TransientFailureRatio: 0.8},
			want:     StrategyDeferAndMonitor,
		},
		{
			name:  "permanent failures escalate",
			stats: WindowStats{PermanentFailureRatio: 0.85},
			want:  StrategyEscalateOperator,
		},
		{
			name:  "dominant tenant rate limited",
			stats: WindowStats{DominantTenant: "acme", DominantTenantShare: 0.7},
			want:  StrategyRateLimitSource,
		},
		{
			name:  "duplicate storm silenced",
			stats: WindowStats{DuplicateErrorRatio: 0.95},
			want:  StrategySilenceDupes,
		},
		{
			name: "nothing matches defers",
			want: StrategyDeferAndMonitor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(&tt.incident, &tt.stats))
		})
	}
}

func TestPredictProbabilityBlend(t *testing.T) {
	incident := &Incident{Severity: "warning"}
	stats := &WindowStats{EndpointSuccessRate: 0.9, TriageConfidence: 0.8}

	// 0.5*0.75 + 0.3*0.9 + 0.2*0.8
	p := PredictProbability(incident, stats, StrategyReplayRecent)
	assert.InDelta(t, 0.805, p, 0.001)
}

func TestPredictProbabilityCriticalPenalty(t *testing.T) {
	stats := &WindowStats{EndpointSuccessRate: 0.9, TriageConfidence: 0.8}

	critical := &Incident{Severity: "critical"}
	warning := &Incident{Severity: "warning"}

	penalized := PredictProbability(critical, stats, StrategyReplayRecent)
	base := PredictProbability(warning, stats, StrategyReplayRecent)
	assert.InDelta(t, base*0.6, penalized, 0.001)

	// Escalation is exempt from the penalty.
	escalate := PredictProbability(critical, stats, StrategyEscalateOperator)
	assert.InDelta(t, PredictProbability(warning, stats, StrategyEscalateOperator), escalate, 0.001)
}

func TestPredictProbabilityClamped(t *testing.T) {
	worst := PredictProbability(
		&Incident{Severity: "critical"},
		&WindowStats{},
		StrategyDeferAndMonitor,
	)
	assert.GreaterOrEqual(t, worst, 0.05)

	best := PredictProbability(
		&Incident{},
		&WindowStats{EndpointSuccessRate: 1, TriageConfidence: 1},
		StrategyEscalateOperator,
	)
	assert.LessOrEqual(t, best, 0.99)
}
