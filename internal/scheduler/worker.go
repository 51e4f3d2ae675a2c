package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/store"
)

type worker struct {
	id        int
	workQueue <-chan *Job
	store     *store.Store
	runner    Runner
	logger    *zap.Logger
}

func newWorker(id int, workQueue <-chan *Job, st *store.Store, runner Runner, logger *zap.Logger) *worker {
	return &worker{
		id:        id,
		workQueue: workQueue,
		store:     st,
		runner:    runner,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

func (w *worker) start(ctx context.Context) {
	w.logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case job, ok := <-w.workQueue:
			if !ok {
				w.logger.Info("work queue closed")
				return
			}
			w.processJob(ctx, job)
		}
	}
}

func (w *worker) processJob(ctx context.Context, job *Job) {
	start := time.Now()
	tenantID := job.Schedule.TenantID

	w.logger.Debug("running scheduled action", zap.String("tenant_id", tenantID))

	run := &store.LocalRun{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Action:   "scheduled_local_action",
		Status:   store.RunStatusOK,
		RanAt:    start.UTC(),
	}

	var runErr error
	if w.runner != nil {
		runErr = w.runner.Run(ctx, tenantID)
	}
	run.DurationMs = int(time.Since(start).Milliseconds())
	if runErr != nil {
		run.Status = store.RunStatusFailed
		run.Error = runErr.Error()
	}

	if err := w.store.AppendLocalRun(ctx, run); err != nil {
		w.logger.Error("failed to save local run",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
		)
	}

	// Update the schedule's bookkeeping through the store accessors.
	schedules, err := w.store.LoadSchedules(ctx)
	if err != nil {
		w.logger.Error("failed to reload schedules", zap.Error(err))
		return
	}
	if sched, ok := schedules[tenantID]; ok {
		now := time.Now().UTC()
		sched.LastRunAt = &now
		sched.LastStatus = string(run.Status)
		sched.UpdatedAt = now
		if err := w.store.SaveSchedules(ctx, schedules); err != nil {
			w.logger.Error("failed to save schedules", zap.Error(err))
		}
	}

	w.logger.Debug("scheduled action completed",
		zap.String("tenant_id", tenantID),
		zap.String("status", string(run.Status)),
		zap.Duration("duration", time.Since(start)),
	)
}
