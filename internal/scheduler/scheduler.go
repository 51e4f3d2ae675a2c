// Package scheduler runs each tenant's recurring local action on its
// configured interval. Pause state is owned by the persistence store;
// HealthMonitor may auto-pause schedules through the same accessors.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/store"
)

// Runner executes one tenant's scheduled local action.
type Runner interface {
	Run(ctx context.Context, tenantID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, tenantID string) error

func (f RunnerFunc) Run(ctx context.Context, tenantID string) error { return f(ctx, tenantID) }

// Job is one due schedule handed to the worker pool.
type Job struct {
	Schedule *store.Schedule
}

// Scheduler ticks on a fixed interval, finds due schedules and fans them
// out to workers over a bounded channel. A full channel drops the job for
// this tick; the schedule stays due and is retried next tick.
type Scheduler struct {
	store       *store.Store
	runner      Runner
	logger      *zap.Logger
	workerCount int
	interval    time.Duration
	wg          sync.WaitGroup

	lastLoop atomic.Int64 // unix nanos of the last completed tick
}

func New(st *store.Store, runner Runner, workerCount int, interval time.Duration, logger *zap.Logger) *Scheduler {
	if workerCount <= 0 {
		workerCount = 4
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Scheduler{
		store:       st,
		runner:      runner,
		logger:      logger,
		workerCount: workerCount,
		interval:    interval,
	}
}

// LastLoopAt is the scheduler's liveness heartbeat, read by HealthMonitor.
func (s *Scheduler) LastLoopAt() time.Time {
	nanos := s.lastLoop.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", zap.Int("worker_count", s.workerCount))

	workQueue := make(chan *Job, 100)
	for i := 0; i < s.workerCount; i++ {
		wk := newWorker(i, workQueue, s.store, s.runner, s.logger)
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.start(ctx)
		}(wk)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.lastLoop.Store(time.Now().UnixNano())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping scheduler")
			close(workQueue)
			s.wg.Wait()
			return
		case <-ticker.C:
			s.scheduleDue(ctx, workQueue)
			s.lastLoop.Store(time.Now().UnixNano())
		}
	}
}

func (s *Scheduler) scheduleDue(ctx context.Context, workQueue chan<- *Job) {
	schedules, err := s.store.LoadSchedules(ctx)
	if err != nil {
		s.logger.Error("failed to load schedules", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if sched.Paused || sched.Cancelled {
			continue
		}
		if sched.LastRunAt != nil && now.Sub(*sched.LastRunAt) < time.Duration(sched.IntervalSeconds)*time.Second {
			continue
		}

		select {
		case workQueue <- &Job{Schedule: sched}:
			s.logger.Debug("scheduled run", zap.String("tenant_id", sched.TenantID))
		default:
			s.logger.Warn("work queue full, deferring run to next tick",
				zap.String("tenant_id", sched.TenantID),
			)
		}
	}
}

// UpsertSchedule creates or updates one tenant's schedule.
func (s *Scheduler) UpsertSchedule(ctx context.Context, tenantID string, intervalSeconds int) error {
	schedules, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return err
	}
	sched, ok := schedules[tenantID]
	if !ok {
		sched = &store.Schedule{TenantID: tenantID}
		schedules[tenantID] = sched
	}
	sched.IntervalSeconds = intervalSeconds
	sched.UpdatedAt = time.Now().UTC()
	return s.store.SaveSchedules(ctx, schedules)
}

// SetPaused flips a schedule's manual pause flag. Manual pauses clear
// auto_paused so auto-resume will not undo an operator's decision.
func (s *Scheduler) SetPaused(ctx context.Context, tenantID string, paused bool) error {
	schedules, err := s.store.LoadSchedules(ctx)
	if err != nil {
		return err
	}
	sched, ok := schedules[tenantID]
	if !ok {
		return nil
	}
	sched.Paused = paused
	sched.AutoPaused = false
	sched.UpdatedAt = time.Now().UTC()
	return s.store.SaveSchedules(ctx, schedules)
}
