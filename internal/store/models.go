package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusOK      RunStatus = "ok"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// Schedule is one tenant's recurring operations slot. Schedules are never
// deleted, only paused or cancelled.
type Schedule struct {
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	IntervalSeconds int        `json:"interval_seconds" db:"interval_seconds"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastStatus      string     `json:"last_status" db:"last_status"`
	Paused          bool       `json:"paused" db:"paused"`
	AutoPaused      bool       `json:"auto_paused" db:"auto_paused"`
	Cancelled       bool       `json:"cancelled" db:"cancelled"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// AuditRecord is a row in the store's own audit table. The hash-chained
// ledger in internal/audit is a separate, complementary integrity mechanism.
type AuditRecord struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	EventType string    `json:"event_type" db:"event_type"`
	Details   JSONB     `json:"details" db:"details"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LocalRun records one execution of a tenant's scheduled local action.
type LocalRun struct {
	ID         string    `json:"id" db:"id"`
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Action     string    `json:"action" db:"action"`
	Status     RunStatus `json:"status" db:"status"`
	DurationMs int       `json:"duration_ms" db:"duration_ms"`
	Error      string    `json:"error,omitempty" db:"error"`
	RanAt      time.Time `json:"ran_at" db:"ran_at"`
}

type AnomalyEvent struct {
	ID              int64     `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Endpoint        string    `json:"endpoint" db:"endpoint"`
	Severity        string    `json:"severity" db:"severity"`
	RecentFailures  int       `json:"recent_failures" db:"recent_failures"`
	RecentCount     int       `json:"recent_count" db:"recent_count"`
	SpikeDetected   bool      `json:"spike_detected" db:"spike_detected"`
	ClusterDetected bool      `json:"cluster_detected" db:"cluster_detected"`
	Details         JSONB     `json:"details" db:"details"`
	DetectedAt      time.Time `json:"detected_at" db:"detected_at"`
}

type RemediationAction struct {
	ID          int64     `json:"id" db:"id"`
	AnomalyID   int64     `json:"anomaly_id" db:"anomaly_id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Strategy    string    `json:"strategy" db:"strategy"`
	Executed    bool      `json:"executed" db:"executed"`
	Success     bool      `json:"success" db:"success"`
	Probability float64   `json:"probability" db:"probability"`
	Details     JSONB     `json:"details" db:"details"`
	ExecutedAt  time.Time `json:"executed_at" db:"executed_at"`
}

type AnomalyStats struct {
	TenantID      string         `json:"tenant_id"`
	Days          int            `json:"days"`
	Total         int            `json:"total"`
	BySeverity    map[string]int `json:"by_severity"`
	SpikeCount    int            `json:"spike_count"`
	ClusterCount  int            `json:"cluster_count"`
	LastDetection *time.Time     `json:"last_detection,omitempty"`
}

type RemediationEffectiveness struct {
	TenantID    string             `json:"tenant_id"`
	Days        int                `json:"days"`
	Total       int                `json:"total"`
	Executed    int                `json:"executed"`
	Succeeded   int                `json:"succeeded"`
	SuccessRate float64            `json:"success_rate"`
	ByStrategy  map[string]float64 `json:"by_strategy"`
}

// JSONB stores arbitrary structured payloads as a JSON column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		*j = make(map[string]interface{})
		return nil
	}
}
