package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opscore/command-center/internal/config"
)

// Collector owns every Prometheus series the control loop exports. It also
// implements the small recorder interfaces the components accept, so none
// of them import this package directly.
type Collector struct {
	config *config.RemoteWriteConfig

	// Persistence
	storeFailures *prometheus.CounterVec

	// Replication
	replicationOps      *prometheus.CounterVec
	replicationDrops    prometheus.Counter
	replicationQueue    prometheus.Gauge
	replicationQueueMax prometheus.Gauge

	// Health
	healthStatus *prometheus.GaugeVec

	// Autoheal
	autohealCycles *prometheus.CounterVec

	// Scheduler
	scheduledRuns *prometheus.CounterVec

	// Learning
	confidenceThreshold *prometheus.GaugeVec
}

func NewCollector(cfg config.RemoteWriteConfig) *Collector {
	return &Collector{
		config: &cfg,

		storeFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandcenter_store_failures_total",
				Help: "Persistence I/O failures by file and failure kind",
			},
			[]string{"file", "kind"},
		),

		replicationOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandcenter_replication_ops_total",
				Help: "Replication delivery attempts by result",
			},
			[]string{"result"},
		),

		replicationDrops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "commandcenter_replication_dropped_total",
				Help: "Replication items dropped because the queue was full",
			},
		),

		replicationQueue: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "commandcenter_replication_queue_length",
				Help: "Current replication queue occupancy",
			},
		),

		replicationQueueMax: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "commandcenter_replication_queue_capacity",
				Help: "Replication queue capacity",
			},
		),

		healthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "commandcenter_health_status",
				Help: "Component health (1 healthy, 0 degraded)",
			},
			[]string{"facet"},
		),

		autohealCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandcenter_autoheal_cycles_total",
				Help: "Healing cycles by strategy and outcome",
			},
			[]string{"strategy", "executed", "success"},
		),

		scheduledRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commandcenter_scheduled_runs_total",
				Help: "Scheduled local action runs by tenant and status",
			},
			[]string{"tenant_id", "status"},
		),

		confidenceThreshold: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "commandcenter_confidence_threshold",
				Help: "Adaptive autonomous-action confidence threshold per alert type",
			},
			[]string{"alert_type"},
		),
	}
}

func (c *Collector) RecordStoreFailure(file, kind string) {
	c.storeFailures.WithLabelValues(file, kind).Inc()
}

func (c *Collector) RecordReplicationOp(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.replicationOps.WithLabelValues(result).Inc()
}

func (c *Collector) RecordReplicationDrop() {
	c.replicationDrops.Inc()
}

func (c *Collector) SetReplicationQueueDepth(depth, capacity int) {
	c.replicationQueue.Set(float64(depth))
	c.replicationQueueMax.Set(float64(capacity))
}

func (c *Collector) SetHealthStatus(facet string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.healthStatus.WithLabelValues(facet).Set(v)
}

func (c *Collector) RecordAutoheal(strategy string, executed, success bool) {
	c.autohealCycles.WithLabelValues(strategy, boolLabel(executed), boolLabel(success)).Inc()
}

func (c *Collector) RecordScheduledRun(tenantID, status string) {
	c.scheduledRuns.WithLabelValues(tenantID, status).Inc()
}

func (c *Collector) SetConfidenceThreshold(alertType string, threshold float64) {
	c.confidenceThreshold.WithLabelValues(alertType).Set(threshold)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
