package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir(), 5, zap.NewNop())
	require.NoError(t, err)
	return store.NewWithBackends(backend, nil, zap.NewNop(), nil)
}

func TestUpsertSchedule(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil, 1, time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.UpsertSchedule(ctx, "acme", 60))
	require.NoError(t, s.UpsertSchedule(ctx, "acme", 120))

	schedules, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, 120, schedules["acme"].IntervalSeconds)
}

func TestSetPausedClearsAutoPaused(t *testing.T) {
	st := newTestStore(t)
	s := New(st, nil, 1, time.Second, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.UpsertSchedule(ctx, "acme", 60))

	schedules, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	schedules["acme"].Paused = true
	schedules["acme"].AutoPaused = true
	require.NoError(t, st.SaveSchedules(ctx, schedules))

	// An operator resume is manual; auto-resume must not fight it later.
	require.NoError(t, s.SetPaused(ctx, "acme", false))

	schedules, err = st.LoadSchedules(ctx)
	require.NoError(t, err)
	assert.False(t, schedules["acme"].Paused)
	assert.False(t, schedules["acme"].AutoPaused)
}

func TestDueSchedulesRun(t *testing.T) {
	st := newTestStore(t)
	ran := make(chan string, 10)
	runner := RunnerFunc(func(_ context.Context, tenantID string) error {
		ran <- tenantID
		return nil
	})

	s := New(st, runner, 2, 20*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.UpsertSchedule(ctx, "acme", 3600))
	require.NoError(t, s.UpsertSchedule(ctx, "paused-tenant", 3600))
	require.NoError(t, s.SetPaused(ctx, "paused-tenant", true))

	go s.Start(ctx)

	select {
	case tenant := <-ran:
		assert.Equal(t, "acme", tenant)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run never fired")
	}

	// The run was recorded and the schedule's bookkeeping updated.
	require.Eventually(t, func() bool {
		runs, err := st.LoadLocalRuns(ctx, 10)
		return err == nil && len(runs) >= 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		schedules, err := st.LoadSchedules(ctx)
		return err == nil && schedules["acme"].LastRunAt != nil
	}, 2*time.Second, 20*time.Millisecond)

	// The paused tenant never fires.
	cancel()
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case tenant := <-ran:
			assert.NotEqual(t, "paused-tenant", tenant)
			continue
		default:
		}
		break
	}

	assert.False(t, s.LastLoopAt().IsZero())
}
