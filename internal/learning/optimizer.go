// Package learning adapts per-alert-type confidence thresholds from the
// observed outcomes of autonomous actions. Thresholds move slowly by
// construction so a handful of noisy outcomes cannot swing automation on or
// off.
package learning

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultThreshold = 0.85
	minThreshold     = 0.5
	maxThreshold     = 0.99

	raiseTarget = 0.95
	lowerTarget = 0.70

	// Below this many automatic actions the success rate is too noisy to
	// steer on.
	minAutoSample = 5

	feedbackScale = 0.05
)

// Outcome is one recorded action result.
type Outcome struct {
	ID           string    `json:"id"`
	Success      bool      `json:"success"`
	WasAutomatic bool      `json:"was_automatic"`
	Timestamp    time.Time `json:"timestamp"`
}

// Performance is the externally visible per-alert-type snapshot.
type Performance struct {
	AlertType         string  `json:"alert_type"`
	TotalActions      int     `json:"total_actions"`
	SuccessfulActions int     `json:"successful_actions"`
	AutoActions       int     `json:"auto_actions"`
	PositiveFeedback  int     `json:"positive_feedback"`
	NegativeFeedback  int     `json:"negative_feedback"`
	CurrentThreshold  float64 `json:"current_threshold"`
	SuccessRate1h     float64 `json:"success_rate_1h"`
	SuccessRate24h    float64 `json:"success_rate_24h"`
	SuccessRate7d     float64 `json:"success_rate_7d"`
}

type alertTypeState struct {
	history           []Outcome
	totalActions      int
	successfulActions int
	autoActions       int
	autoSuccesses     int
	positiveFeedback  int
	negativeFeedback  int
	threshold         float64
}

// Optimizer owns all per-alert-type state behind one mutex.
type Optimizer struct {
	mu          sync.Mutex
	decay       float64
	historySize int
	perType     map[string]*alertTypeState
	logger      *zap.Logger
	now         func() time.Time
}

func NewOptimizer(decay float64, historySize int, logger *zap.Logger) *Optimizer {
	if decay <= 0 || decay >= 1 {
		decay = 0.8
	}
	if historySize <= 0 {
		historySize = 500
	}
	return &Optimizer{
		decay:       decay,
		historySize: historySize,
		perType:     make(map[string]*alertTypeState),
		logger:      logger,
		now:         time.Now,
	}
}

func (o *Optimizer) state(alertType string) *alertTypeState {
	s, ok := o.perType[alertType]
	if !ok {
		s = &alertTypeState{threshold: DefaultThreshold}
		o.perType[alertType] = s
	}
	return s
}

// RecordOutcome folds one action result into the alert type's counters and
// re-adapts its threshold.
func (o *Optimizer) RecordOutcome(alertType, id string, success, wasAutomatic bool) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.state(alertType)
	s.history = append(s.history, Outcome{ID: id, Success: success, WasAutomatic: wasAutomatic, Timestamp: o.now()})
	if len(s.history) > o.historySize {
		s.history = s.history[len(s.history)-o.historySize:]
	}

	s.totalActions++
	if success {
		s.successfulActions++
	}
	if wasAutomatic {
		s.autoActions++
		if success {
			s.autoSuccesses++
		}
	}

	return o.adapt(alertType, s)
}

// RecordFeedback folds one operator thumbs-up/down into the threshold.
func (o *Optimizer) RecordFeedback(alertType string, positive bool) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.state(alertType)
	if positive {
		s.positiveFeedback++
	} else {
		s.negativeFeedback++
	}
	return o.adapt(alertType, s)
}

// adapt recomputes the threshold target and smooths it into the current
// value: new = decay*current + (1-decay)*target, clamped to [0.5, 0.99].
func (o *Optimizer) adapt(alertType string, s *alertTypeState) float64 {
	target := s.threshold

	if s.autoActions >= minAutoSample {
		autoRate := float64(s.autoSuccesses) / float64(s.autoActions)
		switch {
		case autoRate < 0.5:
			target = raiseTarget
		case autoRate > 0.8:
			target = lowerTarget
		}
	}
	if s.totalActions >= minAutoSample {
		overall := float64(s.successfulActions) / float64(s.totalActions)
		if overall < 0.5 {
			target = raiseTarget
		}
	}

	if total := s.positiveFeedback + s.negativeFeedback; total > 0 {
		// Positive feedback endorses automation, nudging the gate open.
		nudge := float64(s.positiveFeedback-s.negativeFeedback) / float64(total) * feedbackScale
		target -= nudge
	}

	next := o.decay*s.threshold + (1-o.decay)*target
	if next < minThreshold {
		next = minThreshold
	}
	if next > maxThreshold {
		next = maxThreshold
	}

	if o.logger != nil && next != s.threshold {
		o.logger.Debug("confidence threshold adapted",
			zap.String("alert_type", alertType),
			zap.Float64("from", s.threshold),
			zap.Float64("to", next),
		)
	}
	s.threshold = next
	return next
}

// Threshold returns the current gate value for an alert type.
func (o *Optimizer) Threshold(alertType string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.perType[alertType]; ok {
		return s.threshold
	}
	return DefaultThreshold
}

// Performance snapshots one alert type, including rolling success windows.
func (o *Optimizer) Performance(alertType string) Performance {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.state(alertType)
	now := o.now()
	return Performance{
		AlertType:         alertType,
		TotalActions:      s.totalActions,
		SuccessfulActions: s.successfulActions,
		AutoActions:       s.autoActions,
		PositiveFeedback:  s.positiveFeedback,
		NegativeFeedback:  s.negativeFeedback,
		CurrentThreshold:  s.threshold,
		SuccessRate1h:     windowRate(s.history, now.Add(-time.Hour)),
		SuccessRate24h:    windowRate(s.history, now.Add(-24*time.Hour)),
		SuccessRate7d:     windowRate(s.history, now.Add(-7*24*time.Hour)),
	}
}

// AllPerformance snapshots every known alert type.
func (o *Optimizer) AllPerformance() []Performance {
	o.mu.Lock()
	types := make([]string, 0, len(o.perType))
	for alertType := range o.perType {
		types = append(types, alertType)
	}
	o.mu.Unlock()

	out := make([]Performance, 0, len(types))
	for _, alertType := range types {
		out = append(out, o.Performance(alertType))
	}
	return out
}

func windowRate(history []Outcome, since time.Time) float64 {
	var total, succeeded int
	for i := range history {
		if history[i].Timestamp.Before(since) {
			continue
		}
		total++
		if history[i].Success {
			succeeded++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(succeeded) / float64(total)
}
