package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/store"
)

func newService(t *testing.T) (*Service, *audit.Log, *store.Store) {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir(), 5, zap.NewNop())
	require.NoError(t, err)
	st := store.NewWithBackends(backend, nil, zap.NewNop(), nil)

	chain, err := audit.NewLog(filepath.Join(t.TempDir(), "chain.jsonl"))
	require.NoError(t, err)

	return NewService(chain, st, zap.NewNop()), chain, st
}

func TestSummaryRollsUpByType(t *testing.T) {
	svc, chain, _ := newService(t)

	events := []map[string]interface{}{
		{"type": "autoheal_cycle", "executed": true, "success": true},
		{"type": "autoheal_cycle", "executed": true, "success": false},
		{"type": "autoheal_cycle", "executed": false},
		{"type": "schedule_auto_paused"},
		{"other": "shape"},
	}
	for _, e := range events {
		_, err := chain.AppendEvent(e)
		require.NoError(t, err)
	}

	summary, err := svc.Summary(24)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalEvents)
	assert.Equal(t, 3, summary.ByType["autoheal_cycle"])
	assert.Equal(t, 1, summary.ByType["schedule_auto_paused"])
	assert.Equal(t, 1, summary.ByType["unknown"])

	assert.Equal(t, 3, summary.Autoheal.Cycles)
	assert.Equal(t, 2, summary.Autoheal.Executed)
	assert.Equal(t, 1, summary.Autoheal.Succeeded)
	assert.Equal(t, 1, summary.Autoheal.Skipped)
}

func TestSummaryDefaultsHours(t *testing.T) {
	svc, _, _ := newService(t)

	summary, err := svc.Summary(0)
	require.NoError(t, err)
	assert.Equal(t, 24, summary.Hours)
	assert.Equal(t, 0, summary.TotalEvents)
}

func TestTenantReportFiltersRuns(t *testing.T) {
	svc, _, st := newService(t)
	ctx := context.Background()

	require.NoError(t, st.AppendLocalRun(ctx, &store.LocalRun{
		ID: "r1", TenantID: "acme", Status: store.RunStatusOK, RanAt: time.Now().UTC(),
	}))
	require.NoError(t, st.AppendLocalRun(ctx, &store.LocalRun{
		ID: "r2", TenantID: "globex", Status: store.RunStatusOK, RanAt: time.Now().UTC(),
	}))

	report, err := svc.TenantReport(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", report.TenantID)
	require.Len(t, report.RecentRuns, 1)
	assert.Equal(t, "r1", report.RecentRuns[0].ID)
	require.NotNil(t, report.Anomalies)
	require.NotNil(t, report.Effectiveness)
}

func TestAuditEntriesClampsLimit(t *testing.T) {
	svc, chain, _ := newService(t)

	for i := 0; i < 3; i++ {
		_, err := chain.AppendEvent(map[string]interface{}{"n": i})
		require.NoError(t, err)
	}

	entries, err := svc.AuditEntries(-5)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
