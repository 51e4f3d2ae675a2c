package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/config"
)

// Backend is one interchangeable persistence implementation. Unavailable
// backends fail at construction, never silently mid-request.
type Backend interface {
	Name() string
	SaveSchedules(ctx context.Context, schedules map[string]*Schedule) error
	LoadSchedules(ctx context.Context) (map[string]*Schedule, error)
	AppendAudit(ctx context.Context, records []AuditRecord) error
	LoadAudit(ctx context.Context, limit int) ([]AuditRecord, error)
	AppendLocalRun(ctx context.Context, run *LocalRun) error
	LoadLocalRuns(ctx context.Context, limit int) ([]LocalRun, error)
	SaveAnomalyEvent(ctx context.Context, ev *AnomalyEvent) (int64, error)
	SaveRemediationAction(ctx context.Context, action *RemediationAction) (int64, error)
	AnomalyStats(ctx context.Context, tenantID string, days int) (*AnomalyStats, error)
	RemediationEffectiveness(ctx context.Context, tenantID string, days int) (*RemediationEffectiveness, error)
	IntegrityCheck(ctx context.Context) error
	Close() error
}

// FailureRecorder receives per-file persistence failure counts.
type FailureRecorder interface {
	RecordStoreFailure(file, kind string)
}

type noopRecorder struct{}

func (noopRecorder) RecordStoreFailure(string, string) {}

// Store fronts one primary backend and an optional secondary. With a
// secondary attached every mutation goes to both backends; reads prefer the
// primary and fall back to the secondary when the primary fails or comes
// back empty, so a backend migration needs no downtime.
type Store struct {
	primary   Backend
	secondary Backend
	mode      string
	dsn       string
	recorder  FailureRecorder
	logger    *zap.Logger
	degraded  atomic.Bool
}

// New builds the store from configuration. Mode "dual" writes to sqlite and
// falls back to the flat-file backend on reads.
func New(cfg config.StoreConfig, logger *zap.Logger, recorder FailureRecorder) (*Store, error) {
	if recorder == nil {
		recorder = noopRecorder{}
	}

	s := &Store{mode: cfg.Mode, recorder: recorder, logger: logger}

	switch cfg.Mode {
	case "sqlite":
		b, err := NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		s.primary = b
		s.dsn = cfg.SQLitePath
	case "file":
		b, err := NewFileBackend(cfg.DataDir, cfg.BackupRetain, logger)
		if err != nil {
			return nil, fmt.Errorf("file backend: %w", err)
		}
		s.primary = b
		s.dsn = cfg.DataDir
	case "dual":
		p, err := NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite backend: %w", err)
		}
		sec, err := NewFileBackend(cfg.DataDir, cfg.BackupRetain, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("file backend: %w", err)
		}
		s.primary = p
		s.secondary = sec
		s.dsn = cfg.SQLitePath + "," + filepath.Clean(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown store mode %q", cfg.Mode)
	}

	return s, nil
}

// NewWithBackends wires explicit backends, used by tests and migrations.
func NewWithBackends(primary, secondary Backend, logger *zap.Logger, recorder FailureRecorder) *Store {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	mode := primary.Name()
	if secondary != nil {
		mode = "dual"
	}
	return &Store{primary: primary, secondary: secondary, mode: mode, recorder: recorder, logger: logger}
}

func (s *Store) Mode() string    { return s.mode }
func (s *Store) DSN() string     { return s.dsn }
func (s *Store) DualWrite() bool { return s.secondary != nil }
func (s *Store) Degraded() bool  { return s.degraded.Load() }

// ClearDegraded resets the sticky degraded flag after an operator intervened.
func (s *Store) ClearDegraded() { s.degraded.Store(false) }

func (s *Store) fail(file, kind string, err error) {
	s.degraded.Store(true)
	s.recorder.RecordStoreFailure(file, kind)
	s.logger.Warn("persistence failure",
		zap.String("file", file),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

// SaveSchedules writes the full schedules map to every backend. Failures are
// counted and flagged, never returned as fatal to the caller's loop.
func (s *Store) SaveSchedules(ctx context.Context, schedules map[string]*Schedule) error {
	var firstErr error
	if err := s.primary.SaveSchedules(ctx, schedules); err != nil {
		s.fail("schedules", "save", err)
		firstErr = err
	}
	if s.secondary != nil {
		if err := s.secondary.SaveSchedules(ctx, schedules); err != nil {
			s.fail("schedules", "save", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) LoadSchedules(ctx context.Context) (map[string]*Schedule, error) {
	schedules, err := s.primary.LoadSchedules(ctx)
	if err != nil || len(schedules) == 0 {
		if err != nil {
			s.fail("schedules", "load", err)
		}
		if s.secondary != nil {
			if fromSecondary, serr := s.secondary.LoadSchedules(ctx); serr == nil && len(fromSecondary) > 0 {
				return fromSecondary, nil
			}
		}
	}
	if err != nil {
		return map[string]*Schedule{}, err
	}
	return schedules, nil
}

func (s *Store) AppendAudit(ctx context.Context, records []AuditRecord) error {
	var firstErr error
	if err := s.primary.AppendAudit(ctx, records); err != nil {
		s.fail("audit", "save", err)
		firstErr = err
	}
	if s.secondary != nil {
		if err := s.secondary.AppendAudit(ctx, records); err != nil {
			s.fail("audit", "save", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) LoadAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	records, err := s.primary.LoadAudit(ctx, limit)
	if err != nil || len(records) == 0 {
		if err != nil {
			s.fail("audit", "load", err)
		}
		if s.secondary != nil {
			if fromSecondary, serr := s.secondary.LoadAudit(ctx, limit); serr == nil && len(fromSecondary) > 0 {
				return fromSecondary, nil
			}
		}
	}
	return records, err
}

func (s *Store) AppendLocalRun(ctx context.Context, run *LocalRun) error {
	var firstErr error
	if err := s.primary.AppendLocalRun(ctx, run); err != nil {
		s.fail("local_runs", "save", err)
		firstErr = err
	}
	if s.secondary != nil {
		if err := s.secondary.AppendLocalRun(ctx, run); err != nil {
			s.fail("local_runs", "save", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) LoadLocalRuns(ctx context.Context, limit int) ([]LocalRun, error) {
	runs, err := s.primary.LoadLocalRuns(ctx, limit)
	if err != nil || len(runs) == 0 {
		if err != nil {
			s.fail("local_runs", "load", err)
		}
		if s.secondary != nil {
			if fromSecondary, serr := s.secondary.LoadLocalRuns(ctx, limit); serr == nil && len(fromSecondary) > 0 {
				return fromSecondary, nil
			}
		}
	}
	return runs, err
}

func (s *Store) SaveAnomalyEvent(ctx context.Context, ev *AnomalyEvent) (int64, error) {
	id, err := s.primary.SaveAnomalyEvent(ctx, ev)
	if err != nil {
		s.fail("anomaly_events", "save", err)
		return 0, err
	}
	if s.secondary != nil {
		ev.ID = id
		if _, serr := s.secondary.SaveAnomalyEvent(ctx, ev); serr != nil {
			s.fail("anomaly_events", "save", serr)
		}
	}
	return id, nil
}

func (s *Store) SaveRemediationAction(ctx context.Context, action *RemediationAction) (int64, error) {
	id, err := s.primary.SaveRemediationAction(ctx, action)
	if err != nil {
		s.fail("remediation_actions", "save", err)
		return 0, err
	}
	if s.secondary != nil {
		action.ID = id
		if _, serr := s.secondary.SaveRemediationAction(ctx, action); serr != nil {
			s.fail("remediation_actions", "save", serr)
		}
	}
	return id, nil
}

func (s *Store) AnomalyStats(ctx context.Context, tenantID string, days int) (*AnomalyStats, error) {
	return s.primary.AnomalyStats(ctx, tenantID, days)
}

func (s *Store) RemediationEffectiveness(ctx context.Context, tenantID string, days int) (*RemediationEffectiveness, error) {
	return s.primary.RemediationEffectiveness(ctx, tenantID, days)
}

// IntegrityCheck reports the primary backend's consistency. The strength of
// the check differs per backend: the relational backend runs an internal
// consistency check, the flat-file backend verifies primaries exist and are
// non-empty. IntegrityKind tells the two apart in health reporting.
func (s *Store) IntegrityCheck(ctx context.Context) error {
	return s.primary.IntegrityCheck(ctx)
}

func (s *Store) IntegrityKind() string {
	if s.primary.Name() == "file" {
		return "presence"
	}
	return "integrity"
}

func (s *Store) Close() error {
	err := s.primary.Close()
	if s.secondary != nil {
		if serr := s.secondary.Close(); err == nil {
			err = serr
		}
	}
	return err
}
