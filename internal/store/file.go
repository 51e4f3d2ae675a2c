package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoBackup means a primary file was unreadable and no backup parsed
// either. Callers get their supplied default and the condition surfaces
// through health state, never as a fatal error.
var ErrNoBackup = errors.New("no parseable backup found")

const (
	schedulesFile   = "schedules.json"
	auditFile       = "audit_trail.json"
	localRunsFile   = "local_runs.json"
	anomaliesFile   = "anomaly_events.json"
	remediationFile = "remediation_actions.json"
)

// RestoreHook is invoked after a successful self-heal so the host can write
// an audit entry documenting the restore.
type RestoreHook func(file, backup string)

// FileBackend writes one JSON document per logical collection with atomic
// temp-file-then-rename replacement and timestamped rotating backups.
type FileBackend struct {
	mu     sync.Mutex
	dir    string
	retain int
	logger *zap.Logger

	onRestore RestoreHook
}

func NewFileBackend(dir string, retain int, logger *zap.Logger) (*FileBackend, error) {
	if retain <= 0 {
		retain = 5
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileBackend{dir: dir, retain: retain, logger: logger}, nil
}

func (b *FileBackend) SetRestoreHook(hook RestoreHook) {
	b.mu.Lock()
	b.onRestore = hook
	b.mu.Unlock()
}

func (b *FileBackend) Name() string { return "file" }

// saveDocument rotates the current primary into a timestamped backup, then
// atomically replaces the primary via a .tmp write and rename.
func (b *FileBackend) saveDocument(name string, v interface{}) error {
	path := filepath.Join(b.dir, name)

	if _, err := os.Stat(path); err == nil {
		backup := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format("20060102T150405.000000000"))
		if data, err := os.ReadFile(path); err == nil {
			if err := os.WriteFile(backup, data, 0o644); err != nil {
				return fmt.Errorf("rotate %s: %w", name, err)
			}
		}
		b.pruneBackups(path)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func (b *FileBackend) pruneBackups(path string) {
	backups, _ := filepath.Glob(path + ".*.bak")
	if len(backups) <= b.retain {
		return
	}
	sort.Strings(backups) // timestamped names sort oldest-first
	for _, old := range backups[:len(backups)-b.retain] {
		os.Remove(old)
	}
}

// loadDocument reads a primary file, self-healing from the newest parseable
// backup when the primary is missing or corrupt. A successful restore
// rewrites the primary and fires the restore hook.
func (b *FileBackend) loadDocument(name string, v interface{}) error {
	path := filepath.Join(b.dir, name)

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return nil
		}
	}
	if err != nil && os.IsNotExist(err) {
		// A never-written collection is empty, not corrupt.
		if backups, _ := filepath.Glob(path + ".*.bak"); len(backups) == 0 {
			return os.ErrNotExist
		}
	}

	return b.restoreFromBackup(path, v)
}

func (b *FileBackend) restoreFromBackup(path string, v interface{}) error {
	backups, _ := filepath.Glob(path + ".*.bak")
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	for _, backup := range backups {
		data, err := os.ReadFile(backup)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			b.logger.Warn("backup unparseable, trying older",
				zap.String("backup", filepath.Base(backup)),
				zap.Error(err),
			)
			continue
		}

		// Rewrite the primary so the next load does not heal again.
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err == nil {
			os.Rename(tmp, path)
		}

		b.logger.Info("restored collection from backup",
			zap.String("file", filepath.Base(path)),
			zap.String("backup", filepath.Base(backup)),
		)
		if b.onRestore != nil {
			b.onRestore(filepath.Base(path), filepath.Base(backup))
		}
		return nil
	}
	return ErrNoBackup
}

func (b *FileBackend) SaveSchedules(_ context.Context, schedules map[string]*Schedule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveDocument(schedulesFile, schedules)
}

func (b *FileBackend) LoadSchedules(_ context.Context) (map[string]*Schedule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	schedules := map[string]*Schedule{}
	err := b.loadDocument(schedulesFile, &schedules)
	if errors.Is(err, os.ErrNotExist) {
		return schedules, nil
	}
	if errors.Is(err, ErrNoBackup) {
		return map[string]*Schedule{}, err
	}
	return schedules, err
}

func (b *FileBackend) AppendAudit(_ context.Context, records []AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := []AuditRecord{}
	if err := b.loadDocument(auditFile, &existing); err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrNoBackup) {
		return err
	}
	nextID := int64(1)
	if len(existing) > 0 {
		nextID = existing[len(existing)-1].ID + 1
	}
	for i := range records {
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = time.Now().UTC()
		}
		records[i].ID = nextID
		nextID++
		existing = append(existing, records[i])
	}
	return b.saveDocument(auditFile, existing)
}

func (b *FileBackend) LoadAudit(_ context.Context, limit int) ([]AuditRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := []AuditRecord{}
	if err := b.loadDocument(auditFile, &records); err != nil && !errors.Is(err, os.ErrNotExist) {
		if errors.Is(err, ErrNoBackup) {
			return []AuditRecord{}, err
		}
		return nil, err
	}

	if limit <= 0 {
		limit = len(records)
	}

	// Stored oldest-first, returned newest-first.
	out := make([]AuditRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func (b *FileBackend) AppendLocalRun(_ context.Context, run *LocalRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	runs := []LocalRun{}
	if err := b.loadDocument(localRunsFile, &runs); err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrNoBackup) {
		return err
	}
	if run.RanAt.IsZero() {
		run.RanAt = time.Now().UTC()
	}
	runs = append(runs, *run)
	return b.saveDocument(localRunsFile, runs)
}

func (b *FileBackend) LoadLocalRuns(_ context.Context, limit int) ([]LocalRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	runs := []LocalRun{}
	if err := b.loadDocument(localRunsFile, &runs); err != nil && !errors.Is(err, os.ErrNotExist) {
		if errors.Is(err, ErrNoBackup) {
			return []LocalRun{}, err
		}
		return nil, err
	}

	if limit <= 0 {
		limit = len(runs)
	}
	out := make([]LocalRun, 0, limit)
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (b *FileBackend) SaveAnomalyEvent(_ context.Context, ev *AnomalyEvent) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := []AnomalyEvent{}
	if err := b.loadDocument(anomaliesFile, &events); err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrNoBackup) {
		return 0, err
	}
	if ev.ID == 0 {
		ev.ID = 1
		if len(events) > 0 {
			ev.ID = events[len(events)-1].ID + 1
		}
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now().UTC()
	}
	events = append(events, *ev)
	if err := b.saveDocument(anomaliesFile, events); err != nil {
		return 0, err
	}
	return ev.ID, nil
}

func (b *FileBackend) SaveRemediationAction(_ context.Context, action *RemediationAction) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	actions := []RemediationAction{}
	if err := b.loadDocument(remediationFile, &actions); err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, ErrNoBackup) {
		return 0, err
	}
	if action.ID == 0 {
		action.ID = 1
		if len(actions) > 0 {
			action.ID = actions[len(actions)-1].ID + 1
		}
	}
	if action.ExecutedAt.IsZero() {
		action.ExecutedAt = time.Now().UTC()
	}
	actions = append(actions, *action)
	if err := b.saveDocument(remediationFile, actions); err != nil {
		return 0, err
	}
	return action.ID, nil
}

func (b *FileBackend) AnomalyStats(_ context.Context, tenantID string, days int) (*AnomalyStats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := []AnomalyEvent{}
	if err := b.loadDocument(anomaliesFile, &events); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	stats := &AnomalyStats{TenantID: tenantID, Days: days, BySeverity: map[string]int{}}
	for i := range events {
		ev := &events[i]
		if ev.TenantID != tenantID || ev.DetectedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.BySeverity[ev.Severity]++
		if ev.SpikeDetected {
			stats.SpikeCount++
		}
		if ev.ClusterDetected {
			stats.ClusterCount++
		}
		if stats.LastDetection == nil || ev.DetectedAt.After(*stats.LastDetection) {
			t := ev.DetectedAt
			stats.LastDetection = &t
		}
	}
	return stats, nil
}

func (b *FileBackend) RemediationEffectiveness(_ context.Context, tenantID string, days int) (*RemediationEffectiveness, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	actions := []RemediationAction{}
	if err := b.loadDocument(remediationFile, &actions); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	eff := &RemediationEffectiveness{TenantID: tenantID, Days: days, ByStrategy: map[string]float64{}}
	executedByStrategy := map[string]int{}
	succeededByStrategy := map[string]int{}

	for i := range actions {
		a := &actions[i]
		if a.TenantID != tenantID || a.ExecutedAt.Before(since) {
			continue
		}
		eff.Total++
		if a.Executed {
			eff.Executed++
			executedByStrategy[a.Strategy]++
			if a.Success {
				eff.Succeeded++
				succeededByStrategy[a.Strategy]++
			}
		}
	}
	for strategy, executed := range executedByStrategy {
		eff.ByStrategy[strategy] = float64(succeededByStrategy[strategy]) / float64(executed)
	}
	if eff.Executed > 0 {
		eff.SuccessRate = float64(eff.Succeeded) / float64(eff.Executed)
	}
	return eff, nil
}

// IntegrityCheck verifies the primary collection files are present and
// non-empty. Weaker than the relational backend's consistency check; health
// reporting labels it as a presence check.
func (b *FileBackend) IntegrityCheck(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var problems []string
	for _, name := range []string{schedulesFile, auditFile, localRunsFile} {
		path := filepath.Join(b.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Never written yet is acceptable for a fresh deployment.
				continue
			}
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if info.Size() == 0 {
			problems = append(problems, fmt.Sprintf("%s: empty", name))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
