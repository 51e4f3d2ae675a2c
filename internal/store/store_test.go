package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/config"
)

func testStoreConfig(mode, dir string) config.StoreConfig {
	return config.StoreConfig{
		Mode:         mode,
		SQLitePath:   filepath.Join(dir, "test.db"),
		DataDir:      dir,
		BackupRetain: 5,
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	failures map[string]int
}

func (r *countingRecorder) RecordStoreFailure(file, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[file+"/"+kind]++
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[key]
}

func newDualStore(t *testing.T) (*Store, string, string, *countingRecorder) {
	t.Helper()
	primaryDir := t.TempDir()
	secondaryDir := t.TempDir()

	primary, err := NewFileBackend(primaryDir, 5, zap.NewNop())
	require.NoError(t, err)
	secondary, err := NewFileBackend(secondaryDir, 5, zap.NewNop())
	require.NoError(t, err)

	recorder := &countingRecorder{}
	return NewWithBackends(primary, secondary, zap.NewNop(), recorder), primaryDir, secondaryDir, recorder
}

func TestDualWriteReachesBothBackends(t *testing.T) {
	st, primaryDir, secondaryDir, _ := newDualStore(t)
	ctx := context.Background()

	assert.True(t, st.DualWrite())
	assert.Equal(t, "dual", st.Mode())

	require.NoError(t, st.SaveSchedules(ctx, testSchedules("acme")))

	for _, dir := range []string{primaryDir, secondaryDir} {
		_, err := os.Stat(filepath.Join(dir, "schedules.json"))
		assert.NoError(t, err)
	}
}

func TestReadFallsBackToSecondary(t *testing.T) {
	st, primaryDir, _, recorder := newDualStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveSchedules(ctx, testSchedules("acme")))

	// Wreck the primary beyond self-heal: corrupt data, no backups.
	primary := filepath.Join(primaryDir, "schedules.json")
	require.NoError(t, os.WriteFile(primary, []byte("{not json"), 0o644))
	backups, _ := filepath.Glob(primary + ".*.bak")
	for _, backup := range backups {
		require.NoError(t, os.Remove(backup))
	}

	loaded, err := st.LoadSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "acme")

	assert.True(t, st.Degraded())
	assert.Equal(t, 1, recorder.count("schedules/load"))

	st.ClearDegraded()
	assert.False(t, st.Degraded())
}

func TestUnknownModeFailsFast(t *testing.T) {
	_, err := New(testStoreConfig("postgres", t.TempDir()), zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store mode")
}

func TestFileModeRoundTrip(t *testing.T) {
	st, err := New(testStoreConfig("file", t.TempDir()), zap.NewNop(), nil)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	assert.Equal(t, "file", st.Mode())
	assert.False(t, st.DualWrite())
	assert.Equal(t, "presence", st.IntegrityKind())

	run := &LocalRun{ID: "r1", TenantID: "acme", Action: "scheduled_local_action", Status: RunStatusOK}
	require.NoError(t, st.AppendLocalRun(ctx, run))

	runs, err := st.LoadLocalRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "acme", runs[0].TenantID)
}
