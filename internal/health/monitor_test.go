package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/replication"
	"github.com/opscore/command-center/internal/store"
)

type okSink struct{}

func (okSink) Deliver(context.Context, *replication.Item) error { return nil }
func (okSink) Describe() string                                 { return "ok" }

type fixedHeartbeat struct{ at time.Time }

func (h fixedHeartbeat) LastLoopAt() time.Time { return h.at }

func newFixture(t *testing.T, queueCap int) (*Monitor, *store.Store, *replication.Worker) {
	t.Helper()

	backend, err := store.NewFileBackend(t.TempDir(), 5, zap.NewNop())
	require.NoError(t, err)
	st := store.NewWithBackends(backend, nil, zap.NewNop(), nil)

	chain, err := audit.NewLog(filepath.Join(t.TempDir(), "chain.jsonl"))
	require.NoError(t, err)

	worker := replication.NewWorker(okSink{}, queueCap, 0, 0, zap.NewNop(), nil)

	monitor := NewMonitor(
		st, worker, fixedHeartbeat{at: time.Now()}, chain,
		time.Minute, 3*time.Minute, true,
		zap.NewNop(), nil,
	)
	return monitor, st, worker
}

func seedSchedules(t *testing.T, st *store.Store, specs map[string]struct{ paused, autoPaused bool }) {
	t.Helper()
	schedules := map[string]*store.Schedule{}
	for tenant, s := range specs {
		schedules[tenant] = &store.Schedule{
			TenantID:        tenant,
			IntervalSeconds: 60,
			Paused:          s.paused,
			AutoPaused:      s.autoPaused,
			UpdatedAt:       time.Now().UTC(),
		}
	}
	require.NoError(t, st.SaveSchedules(context.Background(), schedules))
}

func fillQueue(t *testing.T, w *replication.Worker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, w.Enqueue("audit", "insert", map[string]interface{}{"n": i}, "acme"))
	}
}

func TestTickHealthySnapshot(t *testing.T) {
	monitor, st, _ := newFixture(t, 10)
	seedSchedules(t, st, map[string]struct{ paused, autoPaused bool }{
		"acme": {},
	})

	snapshot := monitor.Tick(context.Background())
	assert.Equal(t, StatusOK, snapshot.DB)
	assert.Equal(t, "presence", snapshot.DBCheck)
	assert.Equal(t, string(replication.BackpressureOK), snapshot.Replication)
	assert.Equal(t, StatusOK, snapshot.Scheduler)
	assert.False(t, snapshot.Degraded)

	assert.Equal(t, snapshot, monitor.Latest())
}

func TestStaleHeartbeatDegradesScheduler(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir(), 5, zap.NewNop())
	require.NoError(t, err)
	st := store.NewWithBackends(backend, nil, zap.NewNop(), nil)
	chain, err := audit.NewLog(filepath.Join(t.TempDir(), "chain.jsonl"))
	require.NoError(t, err)
	worker := replication.NewWorker(okSink{}, 10, 0, 0, zap.NewNop(), nil)

	monitor := NewMonitor(
		st, worker, fixedHeartbeat{at: time.Now().Add(-time.Hour)}, chain,
		time.Minute, 3*time.Minute, false,
		zap.NewNop(), nil,
	)

	snapshot := monitor.Tick(context.Background())
	assert.Equal(t, StatusDegraded, snapshot.Scheduler)
	assert.True(t, snapshot.Degraded)
}

func TestCriticalBackpressureAutoPauses(t *testing.T) {
	monitor, st, worker := newFixture(t, 10)
	ctx := context.Background()

	seedSchedules(t, st, map[string]struct{ paused, autoPaused bool }{
		"acme":   {},
		"globex": {},
		"initech": {paused: true},
	})

	fillQueue(t, worker, 9) // 0.9 occupancy
	require.Equal(t, replication.BackpressureCritical, worker.Backpressure())

	snapshot := monitor.Tick(ctx)
	assert.True(t, snapshot.Degraded)

	schedules, err := st.LoadSchedules(ctx)
	require.NoError(t, err)

	assert.True(t, schedules["acme"].Paused)
	assert.True(t, schedules["acme"].AutoPaused)
	assert.True(t, schedules["globex"].Paused)
	assert.True(t, schedules["globex"].AutoPaused)

	// The manual pause stays manual.
	assert.True(t, schedules["initech"].Paused)
	assert.False(t, schedules["initech"].AutoPaused)
}

func TestRecoveryResumesOnlyAutoPaused(t *testing.T) {
	monitor, st, worker := newFixture(t, 10)
	ctx := context.Background()

	seedSchedules(t, st, map[string]struct{ paused, autoPaused bool }{
		"acme":   {paused: true, autoPaused: true},
		"initech": {paused: true},
	})

	require.Equal(t, 0.0, worker.BackpressureRatio())
	monitor.Tick(ctx)

	schedules, err := st.LoadSchedules(ctx)
	require.NoError(t, err)

	assert.False(t, schedules["acme"].Paused)
	assert.False(t, schedules["acme"].AutoPaused)
	assert.True(t, schedules["initech"].Paused)
}

func TestReconcileAutoPausedRepauses(t *testing.T) {
	monitor, st, _ := newFixture(t, 10)
	ctx := context.Background()

	// A crash mid-pause can leave auto_paused set without paused.
	seedSchedules(t, st, map[string]struct{ paused, autoPaused bool }{
		"acme":   {autoPaused: true},
		"globex": {},
	})

	require.NoError(t, monitor.ReconcileAutoPaused(ctx))

	schedules, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	assert.True(t, schedules["acme"].Paused)
	assert.True(t, schedules["acme"].AutoPaused)
	assert.False(t, schedules["globex"].Paused)
}
