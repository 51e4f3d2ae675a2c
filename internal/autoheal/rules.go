package autoheal

import (
	"fmt"
	"sync"
	"time"
)

// Limits bounds what a strategy may do. All limits accept per-tenant
// overrides.
type Limits struct {
	MaxReplayDeliveries int
	AllowedTriageLabels []string
	Cooldown            time.Duration
	BusinessHoursOnly   bool
	BusinessHoursStart  int // local hour, inclusive
	BusinessHoursEnd    int // local hour, exclusive
}

// MaintenanceWindow suppresses healing for an endpoint during planned work.
type MaintenanceWindow struct {
	Endpoint string    `json:"endpoint"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Rules owns the safety configuration and the per-endpoint cooldown record.
type Rules struct {
	mu          sync.Mutex
	defaults    Limits
	perTenant   map[string]Limits
	maintenance []MaintenanceWindow
	lastHealed  map[string]time.Time
	now         func() time.Time
}

func NewRules(defaults Limits) *Rules {
	if defaults.MaxReplayDeliveries <= 0 {
		defaults.MaxReplayDeliveries = 100
	}
	if defaults.Cooldown <= 0 {
		defaults.Cooldown = 30 * time.Minute
	}
	return &Rules{
		defaults:   defaults,
		perTenant:  make(map[string]Limits),
		lastHealed: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetTenantOverride replaces a tenant's limits wholesale.
func (r *Rules) SetTenantOverride(tenantID string, limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perTenant[tenantID] = limits
}

func (r *Rules) LimitsFor(tenantID string) Limits {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limits, ok := r.perTenant[tenantID]; ok {
		return limits
	}
	return r.defaults
}

func (r *Rules) AddMaintenanceWindow(w MaintenanceWindow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maintenance = append(r.maintenance, w)
}

func (r *Rules) inMaintenance(endpoint string, now time.Time) bool {
	for _, w := range r.maintenance {
		if w.Endpoint == endpoint && !now.Before(w.Start) && now.Before(w.End) {
			return true
		}
	}
	return false
}

// MarkHealed records the endpoint's last live execution for cooldown
// tracking.
func (r *Rules) MarkHealed(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHealed[endpoint] = r.now()
}

// ShouldApply is the final safety gate. A refusal is a deliberate skip, not
// an error; the reason string is preserved for operator visibility.
func (r *Rules) ShouldApply(incident *Incident, strategy Strategy, probability, threshold float64) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	limits := r.defaults
	if override, ok := r.perTenant[incident.TenantID]; ok {
		limits = override
	}

	if incident.Severity == "critical" && strategy != StrategyEscalateOperator {
		return false, "critical severity requires operator escalation"
	}
	if probability < 0.5 {
		return false, fmt.Sprintf("predicted probability %.2f below 0.5", probability)
	}
	if incident.Confidence < threshold {
		return false, fmt.Sprintf("confidence %.2f below adaptive threshold %.2f", incident.Confidence, threshold)
	}
	if r.inMaintenance(incident.Endpoint, now) {
		return false, "endpoint in maintenance window"
	}
	if last, ok := r.lastHealed[incident.Endpoint]; ok && now.Sub(last) < limits.Cooldown {
		return false, fmt.Sprintf("endpoint healed %s ago, cooldown %s", now.Sub(last).Round(time.Second), limits.Cooldown)
	}
	if limits.BusinessHoursOnly {
		hour := now.Hour()
		if hour < limits.BusinessHoursStart || hour >= limits.BusinessHoursEnd {
			return false, "outside configured business hours"
		}
	}
	return true, ""
}
