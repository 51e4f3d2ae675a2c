package autoheal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/audit"
	"github.com/opscore/command-center/internal/replication"
	"github.com/opscore/command-center/internal/store"
)

// Recorder receives healing-cycle metrics.
type Recorder interface {
	RecordAutoheal(strategy string, executed, success bool)
	SetConfidenceThreshold(alertType string, threshold float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordAutoheal(string, bool, bool)      {}
func (noopRecorder) SetConfidenceThreshold(string, float64) {}

// Engine runs one guarded healing cycle per incident: select a strategy,
// predict its outcome, pass the safety gate, execute within limits, then
// feed the outcome back into the learning optimizer.
type Engine struct {
	store     *store.Store
	chain     *audit.Log
	repl      *replication.Worker
	optimizer ThresholdSource
	rules     *Rules
	executor  *Executor
	recorder  Recorder
	logger    *zap.Logger

	mu          sync.Mutex
	history     []Result
	historySize int
}

// ThresholdSource is the learning optimizer's surface the engine needs.
type ThresholdSource interface {
	Threshold(alertType string) float64
	RecordOutcome(alertType, id string, success, wasAutomatic bool) float64
}

func NewEngine(
	st *store.Store,
	chain *audit.Log,
	repl *replication.Worker,
	optimizer ThresholdSource,
	rules *Rules,
	executor *Executor,
	historySize int,
	logger *zap.Logger,
	recorder Recorder,
) *Engine {
	if historySize <= 0 {
		historySize = 200
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Engine{
		store:       st,
		chain:       chain,
		repl:        repl,
		optimizer:   optimizer,
		rules:       rules,
		executor:    executor,
		recorder:    recorder,
		logger:      logger,
		historySize: historySize,
	}
}

func (e *Engine) Rules() *Rules       { return e.rules }
func (e *Engine) Executor() *Executor { return e.executor }

// HealCycle processes one incident end to end. Component failures inside the
// cycle are logged and recorded, never propagated to the caller's loop.
func (e *Engine) HealCycle(ctx context.Context, incident *Incident, stats *WindowStats) *Result {
	strategy := SelectStrategy(incident, stats)
	probability := PredictProbability(incident, stats, strategy)
	threshold := e.optimizer.Threshold(incident.AlertType)

	result := &Result{
		Strategy:    strategy,
		Probability: probability,
		Incident:    *incident,
		At:          time.Now().UTC(),
	}

	apply, reason := e.rules.ShouldApply(incident, strategy, probability, threshold)
	if apply {
		executed, success, details := e.executor.Execute(ctx, incident, stats, strategy, e.rules.LimitsFor(incident.TenantID))
		result.Executed = executed
		result.Success = success
		result.Details = details
		if executed && e.executor.Mode() == ModeLive {
			e.rules.MarkHealed(incident.Endpoint)
		}
	} else {
		result.SkipReason = reason
		result.Details = map[string]interface{}{
			"strategy":    string(strategy),
			"skip_reason": reason,
		}
		e.logger.Info("autoheal skipped",
			zap.String("tenant_id", incident.TenantID),
			zap.String("endpoint", incident.Endpoint),
			zap.String("strategy", string(strategy)),
			zap.String("reason", reason),
		)
	}

	e.persist(ctx, incident, result)
	e.recorder.RecordAutoheal(string(strategy), result.Executed, result.Success)

	if result.Executed {
		wasAutomatic := e.executor.Mode() == ModeLive
		adapted := e.optimizer.RecordOutcome(incident.AlertType, uuid.New().String(), result.Success, wasAutomatic)
		e.recorder.SetConfidenceThreshold(incident.AlertType, adapted)
	}

	e.mu.Lock()
	e.history = append(e.history, *result)
	if len(e.history) > e.historySize {
		e.history = e.history[len(e.history)-e.historySize:]
	}
	e.mu.Unlock()

	return result
}

// persist writes the cycle to the anomaly/remediation tables, the hash
// chain, the store audit table and the replication queue.
func (e *Engine) persist(ctx context.Context, incident *Incident, result *Result) {
	anomalyID, err := e.store.SaveAnomalyEvent(ctx, &store.AnomalyEvent{
		TenantID:        incident.TenantID,
		Endpoint:        incident.Endpoint,
		Severity:        incident.Severity,
		RecentFailures:  incident.RecentFailures,
		RecentCount:     incident.RecentCount,
		SpikeDetected:   incident.SpikeDetected,
		ClusterDetected: incident.FailureClusterDetected,
		Details:         store.JSONB{"alert_type": incident.AlertType, "confidence": incident.Confidence},
		DetectedAt:      result.At,
	})
	if err != nil {
		e.logger.Error("failed to save anomaly event", zap.Error(err))
	}

	action := &store.RemediationAction{
		AnomalyID:   anomalyID,
		TenantID:    incident.TenantID,
		Strategy:    string(result.Strategy),
		Executed:    result.Executed,
		Success:     result.Success,
		Probability: result.Probability,
		Details:     store.JSONB(result.Details),
		ExecutedAt:  result.At,
	}
	if _, err := e.store.SaveRemediationAction(ctx, action); err != nil {
		e.logger.Error("failed to save remediation action", zap.Error(err))
	}

	event := map[string]interface{}{
		"type":        "autoheal_cycle",
		"tenant_id":   incident.TenantID,
		"endpoint":    incident.Endpoint,
		"strategy":    string(result.Strategy),
		"executed":    result.Executed,
		"success":     result.Success,
		"probability": result.Probability,
	}
	if result.SkipReason != "" {
		event["skip_reason"] = result.SkipReason
	}
	if _, err := e.chain.AppendEvent(event); err != nil {
		e.logger.Error("failed to append autoheal audit entry", zap.Error(err))
	}

	if err := e.store.AppendAudit(ctx, []store.AuditRecord{{
		TenantID:  incident.TenantID,
		EventType: "autoheal_cycle",
		Details:   store.JSONB(event),
		CreatedAt: result.At,
	}}); err != nil {
		e.logger.Error("failed to append store audit record", zap.Error(err))
	}

	if err := e.repl.Enqueue("remediation_actions", "insert", event, incident.TenantID); err != nil {
		e.logger.Warn("replication enqueue failed", zap.Error(err))
	}
}

// History returns a copy of the bounded cycle history, newest last.
func (e *Engine) History() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.history))
	copy(out, e.history)
	return out
}
