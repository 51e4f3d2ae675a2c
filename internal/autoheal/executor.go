package autoheal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Mode gates real execution. Simulated runs produce the same audit shape
// with would_apply instead of applied.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Replayer re-dispatches previously failed deliveries. Implemented at the
// delivery-pipeline boundary; out of core scope.
type Replayer interface {
	Replay(ctx context.Context, tenantID string, deliveryIDs []string) (int, error)
}

// Escalator hands an incident to a human. The default implementation
// publishes to the cross-service event bus.
type Escalator interface {
	Escalate(ctx context.Context, incident *Incident, details map[string]interface{}) error
}

// Executor carries out a chosen strategy inside the configured limits.
type Executor struct {
	mode      Mode
	replayer  Replayer
	escalator Escalator
	logger    *zap.Logger

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	silencedTill map[string]time.Time
}

func NewExecutor(mode Mode, replayer Replayer, escalator Escalator, logger *zap.Logger) *Executor {
	if mode != ModeSimulated {
		mode = ModeLive
	}
	return &Executor{
		mode:         mode,
		replayer:     replayer,
		escalator:    escalator,
		logger:       logger,
		rateLimiters: make(map[string]*rate.Limiter),
		silencedTill: make(map[string]time.Time),
	}
}

func (e *Executor) Mode() Mode { return e.mode }

// TenantLimiter returns the limiter installed by a RATE_LIMIT_SOURCE
// execution, or nil when the tenant is unthrottled.
func (e *Executor) TenantLimiter(tenantID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateLimiters[tenantID]
}

// SilencedUntil reports the active duplicate-silence window for an endpoint.
func (e *Executor) SilencedUntil(endpoint string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	till, ok := e.silencedTill[endpoint]
	if !ok || time.Now().After(till) {
		return time.Time{}, false
	}
	return till, true
}

// Execute runs one strategy. Returns whether it executed (or would execute,
// in simulated mode), whether it succeeded, and structured details for the
// audit trail.
func (e *Executor) Execute(ctx context.Context, incident *Incident, stats *WindowStats, strategy Strategy, limits Limits) (executed, success bool, details map[string]interface{}) {
	details = map[string]interface{}{
		"strategy": string(strategy),
		"endpoint": incident.Endpoint,
		"tenant":   incident.TenantID,
	}
	if e.mode == ModeSimulated {
		details["would_apply"] = true
	} else {
		details["applied"] = true
	}

	switch strategy {
	case StrategyReplayRecent:
		return e.replayRecent(ctx, incident, stats, limits, details)
	case StrategyEscalateOperator:
		return e.escalate(ctx, incident, details)
	case StrategyRateLimitSource:
		return e.rateLimitSource(incident, details)
	case StrategySilenceDupes:
		return e.silenceDupes(incident, details)
	case StrategyDeferAndMonitor:
		details["action"] = "defer"
		return true, true, details
	default:
		details["action"] = "none"
		return false, false, details
	}
}

// replayRecent is capped at the configured delivery count and restricted to
// allow-listed triage labels.
func (e *Executor) replayRecent(ctx context.Context, incident *Incident, stats *WindowStats, limits Limits, details map[string]interface{}) (bool, bool, map[string]interface{}) {
	allowed := make(map[string]bool, len(limits.AllowedTriageLabels))
	for _, label := range limits.AllowedTriageLabels {
		allowed[label] = true
	}

	var eligible []string
	skippedLabels := 0
	for _, d := range stats.RecentDeliveries {
		if !allowed[d.TriageLabel] {
			skippedLabels++
			continue
		}
		if len(eligible) >= limits.MaxReplayDeliveries {
			break
		}
		eligible = append(eligible, d.ID)
	}

	details["action"] = "replay"
	details["eligible_deliveries"] = len(eligible)
	details["skipped_by_triage_label"] = skippedLabels
	details["max_replay"] = limits.MaxReplayDeliveries

	if len(eligible) == 0 {
		details["note"] = "no deliveries eligible for replay"
		return true, false, details
	}
	if e.mode == ModeSimulated {
		return true, true, details
	}
	if e.replayer == nil {
		details["note"] = "replayer not configured"
		return true, false, details
	}

	replayed, err := e.replayer.Replay(ctx, incident.TenantID, eligible)
	details["replayed"] = replayed
	if err != nil {
		details["error"] = err.Error()
		e.logger.Warn("replay failed",
			zap.String("tenant_id", incident.TenantID),
			zap.Int("replayed", replayed),
			zap.Error(err),
		)
		return true, false, details
	}
	return true, true, details
}

func (e *Executor) escalate(ctx context.Context, incident *Incident, details map[string]interface{}) (bool, bool, map[string]interface{}) {
	details["action"] = "escalate"
	if e.mode == ModeSimulated {
		return true, true, details
	}
	if e.escalator == nil {
		details["note"] = "escalator not configured"
		return true, false, details
	}
	if err := e.escalator.Escalate(ctx, incident, details); err != nil {
		details["error"] = err.Error()
		return true, false, details
	}
	return true, true, details
}

func (e *Executor) rateLimitSource(incident *Incident, details map[string]interface{}) (bool, bool, map[string]interface{}) {
	// One request per second with small burst; generous enough to keep the
	// tenant alive, tight enough to stop it dominating.
	details["action"] = "rate_limit"
	details["limit_per_second"] = 1
	if e.mode == ModeSimulated {
		return true, true, details
	}
	e.mu.Lock()
	e.rateLimiters[incident.TenantID] = rate.NewLimiter(rate.Limit(1), 5)
	e.mu.Unlock()
	return true, true, details
}

func (e *Executor) silenceDupes(incident *Incident, details map[string]interface{}) (bool, bool, map[string]interface{}) {
	till := time.Now().Add(15 * time.Minute)
	details["action"] = "silence"
	details["silenced_until"] = till.UTC().Format(time.RFC3339)
	if e.mode == ModeSimulated {
		return true, true, details
	}
	e.mu.Lock()
	e.silencedTill[incident.Endpoint] = till
	e.mu.Unlock()
	return true, true, details
}
