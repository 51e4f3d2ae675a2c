package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend is the embedded relational backend.
type SQLiteBackend struct {
	db   *sqlx.DB
	path string
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlx.Connect("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteBackend{db: db, path: path}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) SaveSchedules(ctx context.Context, schedules map[string]*Schedule) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO schedules (
            tenant_id, interval_seconds, last_run_at, last_status,
            paused, auto_paused, cancelled, updated_at
        ) VALUES (
            :tenant_id, :interval_seconds, :last_run_at, :last_status,
            :paused, :auto_paused, :cancelled, :updated_at
        ) ON CONFLICT (tenant_id) DO UPDATE SET
            interval_seconds = excluded.interval_seconds,
            last_run_at = excluded.last_run_at,
            last_status = excluded.last_status,
            paused = excluded.paused,
            auto_paused = excluded.auto_paused,
            cancelled = excluded.cancelled,
            updated_at = excluded.updated_at`

	for _, sched := range schedules {
		if sched.UpdatedAt.IsZero() {
			sched.UpdatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, sched); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) LoadSchedules(ctx context.Context) (map[string]*Schedule, error) {
	rows := []*Schedule{}
	if err := b.db.SelectContext(ctx, &rows, `SELECT * FROM schedules`); err != nil {
		return nil, err
	}
	schedules := make(map[string]*Schedule, len(rows))
	for _, sched := range rows {
		schedules[sched.TenantID] = sched
	}
	return schedules, nil
}

func (b *SQLiteBackend) AppendAudit(ctx context.Context, records []AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO audit_log (tenant_id, event_type, details, created_at)
        VALUES (:tenant_id, :event_type, :details, :created_at)`

	for i := range records {
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, records[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) LoadAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	records := []AuditRecord{}
	query := `SELECT * FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`
	err := b.db.SelectContext(ctx, &records, query, limit)
	return records, err
}

func (b *SQLiteBackend) AppendLocalRun(ctx context.Context, run *LocalRun) error {
	query := `
        INSERT INTO local_action_runs (id, tenant_id, action, status, duration_ms, error, ran_at)
        VALUES (:id, :tenant_id, :action, :status, :duration_ms, :error, :ran_at)`
	_, err := b.db.NamedExecContext(ctx, query, run)
	return err
}

func (b *SQLiteBackend) LoadLocalRuns(ctx context.Context, limit int) ([]LocalRun, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	runs := []LocalRun{}
	query := `SELECT * FROM local_action_runs ORDER BY ran_at DESC LIMIT $1`
	err := b.db.SelectContext(ctx, &runs, query, limit)
	return runs, err
}

func (b *SQLiteBackend) SaveAnomalyEvent(ctx context.Context, ev *AnomalyEvent) (int64, error) {
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO anomaly_events (
            tenant_id, endpoint, severity, recent_failures, recent_count,
            spike_detected, cluster_detected, details, detected_at
        ) VALUES (
            :tenant_id, :endpoint, :severity, :recent_failures, :recent_count,
            :spike_detected, :cluster_detected, :details, :detected_at
        )`
	res, err := b.db.NamedExecContext(ctx, query, ev)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b *SQLiteBackend) SaveRemediationAction(ctx context.Context, action *RemediationAction) (int64, error) {
	if action.ExecutedAt.IsZero() {
		action.ExecutedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO remediation_actions (
            anomaly_id, tenant_id, strategy, executed, success,
            probability, details, executed_at
        ) VALUES (
            :anomaly_id, :tenant_id, :strategy, :executed, :success,
            :probability, :details, :executed_at
        )`
	res, err := b.db.NamedExecContext(ctx, query, action)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b *SQLiteBackend) AnomalyStats(ctx context.Context, tenantID string, days int) (*AnomalyStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats := &AnomalyStats{TenantID: tenantID, Days: days, BySeverity: map[string]int{}}

	rows, err := b.db.QueryxContext(ctx, `
        SELECT severity, COUNT(*),
               SUM(spike_detected), SUM(cluster_detected), MAX(detected_at)
        FROM anomaly_events
        WHERE tenant_id = $1 AND detected_at >= $2
        GROUP BY severity`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var count, spikes, clusters int
		var last sql.NullString
		if err := rows.Scan(&severity, &count, &spikes, &clusters, &last); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] = count
		stats.Total += count
		stats.SpikeCount += spikes
		stats.ClusterCount += clusters
		if t, ok := parseSQLiteTime(last); ok {
			if stats.LastDetection == nil || t.After(*stats.LastDetection) {
				stats.LastDetection = &t
			}
		}
	}
	return stats, rows.Err()
}

func (b *SQLiteBackend) RemediationEffectiveness(ctx context.Context, tenantID string, days int) (*RemediationEffectiveness, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	eff := &RemediationEffectiveness{TenantID: tenantID, Days: days, ByStrategy: map[string]float64{}}

	rows, err := b.db.QueryxContext(ctx, `
        SELECT strategy, COUNT(*), SUM(executed), SUM(success)
        FROM remediation_actions
        WHERE tenant_id = $1 AND executed_at >= $2
        GROUP BY strategy`, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var strategy string
		var total, executed, succeeded int
		if err := rows.Scan(&strategy, &total, &executed, &succeeded); err != nil {
			return nil, err
		}
		eff.Total += total
		eff.Executed += executed
		eff.Succeeded += succeeded
		if executed > 0 {
			eff.ByStrategy[strategy] = float64(succeeded) / float64(executed)
		} else {
			eff.ByStrategy[strategy] = 0
		}
	}
	if eff.Executed > 0 {
		eff.SuccessRate = float64(eff.Succeeded) / float64(eff.Executed)
	}
	return eff, rows.Err()
}

// Aggregate expressions come back as text; the column form depends on the
// driver's time format.
func parseSQLiteTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid || v.String == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IntegrityCheck runs SQLite's internal consistency check.
func (b *SQLiteBackend) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := b.db.GetContext(ctx, &result, `PRAGMA quick_check`); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported: %s", result)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
