package autoheal

import "time"

// Strategy is a bounded remediation action.
type Strategy string

const (
	StrategyReplayRecent     Strategy = "REPLAY_RECENT"
	StrategyEscalateOperator Strategy = "ESCALATE_OPERATOR"
	StrategyDeferAndMonitor  Strategy = "DEFER_AND_MONITOR"
	StrategyRateLimitSource  Strategy = "RATE_LIMIT_SOURCE"
	StrategySilenceDupes     Strategy = "SILENCE_DUPES"
)

// Incident is one detected anomaly, produced by the external detector and
// consumed once per healing cycle.
type Incident struct {
	TenantID               string  `json:"tenant_id"`
	Endpoint               string  `json:"endpoint"`
	Severity               string  `json:"severity"`
	AlertType              string  `json:"alert_type"`
	Confidence             float64 `json:"confidence"`
	RecentFailures         int     `json:"recent_failures"`
	RecentCount            int     `json:"recent_count"`
	SpikeDetected          bool    `json:"spike_detected"`
	FailureClusterDetected bool    `json:"failure_cluster_detected"`
}

// Delivery is one recent delivery eligible for replay, tagged with its
// triage label (transient, permanent, rate-limited, ...).
type Delivery struct {
	ID          string `json:"id"`
	TriageLabel string `json:"triage_label"`
}

// WindowStats summarizes the recent delivery window around an incident. The
// stats provider sits at the detector boundary.
type WindowStats struct {
	TransientFailureRatio float64    `json:"transient_failure_ratio"`
	PermanentFailureRatio float64    `json:"permanent_failure_ratio"`
	DuplicateErrorRatio   float64    `json:"duplicate_error_ratio"`
	DominantTenant        string     `json:"dominant_tenant"`
	DominantTenantShare   float64    `json:"dominant_tenant_share"`
	EndpointSuccessRate   float64    `json:"endpoint_success_rate"`
	TriageConfidence      float64    `json:"triage_confidence"`
	RecentDeliveries      []Delivery `json:"recent_deliveries"`
}

// Result is one healing cycle's outcome, kept in a bounded in-memory
// history.
type Result struct {
	Strategy    Strategy               `json:"strategy"`
	Executed    bool                   `json:"executed"`
	Success     bool                   `json:"success"`
	Probability float64                `json:"probability"`
	SkipReason  string                 `json:"skip_reason,omitempty"`
	Details     map[string]interface{} `json:"details"`
	Incident    Incident               `json:"incident"`
	At          time.Time              `json:"at"`
}
