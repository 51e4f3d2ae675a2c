package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteScheduleUpsert(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.SaveSchedules(ctx, testSchedules("acme")))

	schedules, err := b.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)

	// Second save with changed fields updates in place.
	schedules["acme"].IntervalSeconds = 300
	schedules["acme"].Paused = true
	require.NoError(t, b.SaveSchedules(ctx, schedules))

	schedules, err = b.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, 300, schedules["acme"].IntervalSeconds)
	assert.True(t, schedules["acme"].Paused)
}

func TestSQLiteAuditRoundTrip(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AppendAudit(ctx, []AuditRecord{
		{TenantID: "acme", EventType: "first", Details: JSONB{"k": "v"}},
		{TenantID: "acme", EventType: "second"},
	}))

	records, err := b.LoadAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "second", records[0].EventType)
	assert.Equal(t, "v", records[1].Details["k"])

	all, err := b.LoadAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteLocalRuns(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, b.AppendLocalRun(ctx, &LocalRun{
		ID: "r1", TenantID: "acme", Action: "scheduled_local_action",
		Status: RunStatusOK, DurationMs: 12, RanAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, b.AppendLocalRun(ctx, &LocalRun{
		ID: "r2", TenantID: "acme", Action: "scheduled_local_action",
		Status: RunStatusFailed, Error: "boom", RanAt: time.Now().UTC(),
	}))

	runs, err := b.LoadLocalRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
}

func TestSQLiteAnomalyAggregates(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()

	id1, err := b.SaveAnomalyEvent(ctx, &AnomalyEvent{
		TenantID: "acme", Endpoint: "ep", Severity: "warning",
		SpikeDetected: true, Details: JSONB{},
	})
	require.NoError(t, err)
	assert.Greater(t, id1, int64(0))

	_, err = b.SaveAnomalyEvent(ctx, &AnomalyEvent{
		TenantID: "acme", Endpoint: "ep", Severity: "critical",
		ClusterDetected: true, Details: JSONB{},
	})
	require.NoError(t, err)

	_, err = b.SaveRemediationAction(ctx, &RemediationAction{
		AnomalyID: id1, TenantID: "acme", Strategy: "REPLAY_RECENT",
		Executed: true, Success: true, Probability: 0.8, Details: JSONB{},
	})
	require.NoError(t, err)
	_, err = b.SaveRemediationAction(ctx, &RemediationAction{
		AnomalyID: id1, TenantID: "acme", Strategy: "REPLAY_RECENT",
		Executed: true, Success: false, Probability: 0.7, Details: JSONB{},
	})
	require.NoError(t, err)

	stats, err := b.AnomalyStats(ctx, "acme", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.BySeverity["warning"])
	assert.Equal(t, 1, stats.BySeverity["critical"])
	assert.Equal(t, 1, stats.SpikeCount)
	assert.Equal(t, 1, stats.ClusterCount)

	eff, err := b.RemediationEffectiveness(ctx, "acme", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, eff.Executed)
	assert.Equal(t, 1, eff.Succeeded)
	assert.InDelta(t, 0.5, eff.SuccessRate, 0.001)
	assert.InDelta(t, 0.5, eff.ByStrategy["REPLAY_RECENT"], 0.001)

	// Other tenants see nothing.
	other, err := b.AnomalyStats(ctx, "globex", 7)
	require.NoError(t, err)
	assert.Equal(t, 0, other.Total)
}

func TestSQLiteIntegrityCheck(t *testing.T) {
	b := newSQLiteBackend(t)
	assert.NoError(t, b.IntegrityCheck(context.Background()))
}
