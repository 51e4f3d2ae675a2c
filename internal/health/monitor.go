// Package health periodically evaluates store integrity, replication
// backlog and scheduler liveness, and can autonomously pause and resume
// dependent schedules under sustained replication pressure.
package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/replication"
	"github.com/opscore/command-center/internal/store"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Snapshot is the latest health evaluation. Only the most recent one is
// kept; it is never persisted long-term.
type Snapshot struct {
	DB          string    `json:"db"`
	DBCheck     string    `json:"db_check"`
	DBError     string    `json:"db_error,omitempty"`
	Replication string    `json:"replication"`
	Scheduler   string    `json:"scheduler"`
	Degraded    bool      `json:"degraded"`
	Timestamp   time.Time `json:"timestamp"`
}

// Heartbeat exposes the scheduler's last-loop timestamp.
type Heartbeat interface {
	LastLoopAt() time.Time
}

// Recorder receives health gauge updates.
type Recorder interface {
	SetHealthStatus(facet string, healthy bool)
}

type noopRecorder struct{}

func (noopRecorder) SetHealthStatus(string, bool) {}

// Monitor re-evaluates component health on a fixed interval.
type Monitor struct {
	store        *store.Store
	repl         *replication.Worker
	heartbeat    Heartbeat
	chain        *audit.Log
	logger       *zap.Logger
	recorder     Recorder
	interval     time.Duration
	staleness    time.Duration
	autoRecovery bool

	snapshots chan Snapshot // capacity 1, holds latest
}

func NewMonitor(
	st *store.Store,
	repl *replication.Worker,
	heartbeat Heartbeat,
	chain *audit.Log,
	interval, staleness time.Duration,
	autoRecovery bool,
	logger *zap.Logger,
	recorder Recorder,
) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if staleness <= 0 {
		staleness = 3 * time.Minute
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	m := &Monitor{
		store:        st,
		repl:         repl,
		heartbeat:    heartbeat,
		chain:        chain,
		logger:       logger,
		recorder:     recorder,
		interval:     interval,
		staleness:    staleness,
		autoRecovery: autoRecovery,
		snapshots:    make(chan Snapshot, 1),
	}
	m.publish(Snapshot{DB: StatusOK, Replication: string(replication.BackpressureOK), Scheduler: StatusOK, Timestamp: time.Now().UTC()})
	return m
}

func (m *Monitor) publish(s Snapshot) {
	select {
	case <-m.snapshots:
	default:
	}
	m.snapshots <- s
}

// Latest returns the most recent snapshot without consuming it.
func (m *Monitor) Latest() Snapshot {
	s := <-m.snapshots
	m.snapshots <- s
	return s
}

// Run evaluates on a fixed interval until cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one full evaluation and any adaptive action it calls for.
func (m *Monitor) Tick(ctx context.Context) Snapshot {
	snapshot := Snapshot{
		DB:          StatusOK,
		DBCheck:     m.store.IntegrityKind(),
		Replication: string(m.repl.Backpressure()),
		Scheduler:   StatusOK,
		Timestamp:   time.Now().UTC(),
	}

	if err := m.store.IntegrityCheck(ctx); err != nil {
		snapshot.DB = StatusDegraded
		snapshot.DBError = err.Error()
	} else if m.store.Degraded() {
		snapshot.DB = StatusDegraded
		snapshot.DBError = "persistence failures recorded since start"
	}

	if m.heartbeat != nil {
		last := m.heartbeat.LastLoopAt()
		if last.IsZero() || time.Since(last) > m.staleness {
			snapshot.Scheduler = StatusDegraded
		}
	}

	snapshot.Degraded = snapshot.DB != StatusOK ||
		snapshot.Replication == string(replication.BackpressureCritical) ||
		snapshot.Scheduler != StatusOK

	m.recorder.SetHealthStatus("db", snapshot.DB == StatusOK)
	m.recorder.SetHealthStatus("replication", snapshot.Replication == string(replication.BackpressureOK))
	m.recorder.SetHealthStatus("scheduler", snapshot.Scheduler == StatusOK)

	if m.autoRecovery {
		m.adapt(ctx)
	}

	m.publish(snapshot)
	return snapshot
}

// adapt pauses every running schedule under critical backpressure and
// resumes the auto-paused ones once the queue falls back below the high
// watermark. Manually paused schedules are never touched.
func (m *Monitor) adapt(ctx context.Context) {
	switch {
	case m.repl.Backpressure() == replication.BackpressureCritical:
		m.autoPauseAll(ctx)
	case m.repl.BackpressureRatio() < 0.75:
		m.autoResume(ctx)
	}
}

func (m *Monitor) autoPauseAll(ctx context.Context) {
	schedules, err := m.store.LoadSchedules(ctx)
	if err != nil {
		m.logger.Error("auto-pause: failed to load schedules", zap.Error(err))
		return
	}

	changed := 0
	for _, sched := range schedules {
		if sched.Paused {
			continue
		}
		sched.Paused = true
		sched.AutoPaused = true
		sched.UpdatedAt = time.Now().UTC()
		changed++

		if _, err := m.chain.AppendEvent(map[string]interface{}{
			"type":      "schedule_auto_paused",
			"tenant_id": sched.TenantID,
			"reason":    "replication backpressure critical",
		}); err != nil {
			m.logger.Error("failed to audit auto-pause", zap.Error(err))
		}
	}
	if changed == 0 {
		return
	}
	if err := m.store.SaveSchedules(ctx, schedules); err != nil {
		m.logger.Error("auto-pause: failed to save schedules", zap.Error(err))
		return
	}
	m.logger.Warn("auto-paused schedules under critical backpressure", zap.Int("count", changed))
}

func (m *Monitor) autoResume(ctx context.Context) {
	schedules, err := m.store.LoadSchedules(ctx)
	if err != nil {
		m.logger.Error("auto-resume: failed to load schedules", zap.Error(err))
		return
	}

	changed := 0
	for _, sched := range schedules {
		if !sched.AutoPaused {
			continue
		}
		sched.Paused = false
		sched.AutoPaused = false
		sched.UpdatedAt = time.Now().UTC()
		changed++

		if _, err := m.chain.AppendEvent(map[string]interface{}{
			"type":      "schedule_auto_resumed",
			"tenant_id": sched.TenantID,
			"reason":    "replication backpressure recovered",
		}); err != nil {
			m.logger.Error("failed to audit auto-resume", zap.Error(err))
		}
	}
	if changed == 0 {
		return
	}
	if err := m.store.SaveSchedules(ctx, schedules); err != nil {
		m.logger.Error("auto-resume: failed to save schedules", zap.Error(err))
		return
	}
	m.logger.Info("auto-resumed schedules", zap.Int("count", changed))
}

// ReconcileAutoPaused runs once at startup: a schedule still flagged
// auto_paused but not paused means a crash interrupted a safety pause, so it
// is re-paused before the scheduler resumes.
func (m *Monitor) ReconcileAutoPaused(ctx context.Context) error {
	schedules, err := m.store.LoadSchedules(ctx)
	if err != nil {
		return err
	}

	changed := 0
	for _, sched := range schedules {
		if !sched.AutoPaused || sched.Paused {
			continue
		}
		sched.Paused = true
		sched.UpdatedAt = time.Now().UTC()
		changed++

		if _, err := m.chain.AppendEvent(map[string]interface{}{
			"type":      "schedule_repause_on_restart",
			"tenant_id": sched.TenantID,
		}); err != nil {
			m.logger.Error("failed to audit restart re-pause", zap.Error(err))
		}
	}
	if changed == 0 {
		return nil
	}
	m.logger.Warn("re-paused auto-paused schedules after restart", zap.Int("count", changed))
	return m.store.SaveSchedules(ctx, schedules)
}
