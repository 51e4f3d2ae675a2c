package learning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUnknownAlertTypeUsesDefault(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())
	assert.Equal(t, DefaultThreshold, o.Threshold("webhook_failure"))
}

func TestSustainedAutoFailureRaisesThreshold(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())

	prev := o.Threshold("webhook_failure")
	for i := 0; i < 10; i++ {
		next := o.RecordOutcome("webhook_failure", fmt.Sprintf("a%d", i), false, true)
		assert.GreaterOrEqual(t, next+1e-9, prev, "threshold must not drop while automation keeps failing")
		prev = next
	}

	assert.Greater(t, o.Threshold("webhook_failure"), DefaultThreshold)
	assert.LessOrEqual(t, o.Threshold("webhook_failure"), 0.99)
}

func TestHighAutoSuccessLowersThreshold(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())

	for i := 0; i < 20; i++ {
		o.RecordOutcome("timeout", fmt.Sprintf("a%d", i), true, true)
	}

	assert.Less(t, o.Threshold("timeout"), DefaultThreshold)
	assert.GreaterOrEqual(t, o.Threshold("timeout"), 0.5)
}

func TestThresholdStaysClamped(t *testing.T) {
	o := NewOptimizer(0.1, 100, zap.NewNop()) // fast decay amplifies every step

	for i := 0; i < 200; i++ {
		o.RecordOutcome("flood", fmt.Sprintf("f%d", i), false, true)
	}
	assert.LessOrEqual(t, o.Threshold("flood"), 0.99)

	for i := 0; i < 400; i++ {
		o.RecordOutcome("calm", fmt.Sprintf("c%d", i), true, true)
		o.RecordFeedback("calm", true)
	}
	assert.GreaterOrEqual(t, o.Threshold("calm"), 0.5)
}

func TestFeedbackNudgesThreshold(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())

	// Without any outcomes, negative feedback should push the gate up.
	raised := o.RecordFeedback("webhook_failure", false)
	assert.Greater(t, raised, DefaultThreshold)

	o2 := NewOptimizer(0.8, 100, zap.NewNop())
	lowered := o2.RecordFeedback("webhook_failure", true)
	assert.Less(t, lowered, DefaultThreshold)
}

func TestSmallSamplesDoNotSteer(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())

	// Fewer automatic outcomes than the minimum sample leave the target alone.
	for i := 0; i < 4; i++ {
		o.RecordOutcome("sparse", fmt.Sprintf("s%d", i), false, true)
	}
	assert.InDelta(t, DefaultThreshold, o.Threshold("sparse"), 1e-9)
}

func TestPerformanceSnapshot(t *testing.T) {
	o := NewOptimizer(0.8, 100, zap.NewNop())

	o.RecordOutcome("timeout", "a", true, true)
	o.RecordOutcome("timeout", "b", false, false)
	o.RecordFeedback("timeout", true)

	perf := o.Performance("timeout")
	assert.Equal(t, "timeout", perf.AlertType)
	assert.Equal(t, 2, perf.TotalActions)
	assert.Equal(t, 1, perf.SuccessfulActions)
	assert.Equal(t, 1, perf.AutoActions)
	assert.Equal(t, 1, perf.PositiveFeedback)
	assert.InDelta(t, 0.5, perf.SuccessRate1h, 0.001)

	all := o.AllPerformance()
	require.Len(t, all, 1)
}

func TestHistoryBounded(t *testing.T) {
	o := NewOptimizer(0.8, 10, zap.NewNop())

	for i := 0; i < 50; i++ {
		o.RecordOutcome("burst", fmt.Sprintf("b%d", i), i%2 == 0, true)
	}

	s := o.perType["burst"]
	assert.Len(t, s.history, 10)
	assert.Equal(t, 50, s.totalActions)
}
