package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/store"
)

// GetDB reports the persistence layer's shape and an on-demand integrity
// probe. Operator-only.
func (h *Handler) GetDB(c *gin.Context) {
	ctx := c.Request.Context()

	tables := gin.H{}
	if schedules, err := h.store.LoadSchedules(ctx); err == nil {
		tables["schedules"] = len(schedules)
	} else {
		tables["schedules"] = nil
	}
	if records, err := h.store.LoadAudit(ctx, 0); err == nil {
		tables["audit"] = len(records)
	} else {
		tables["audit"] = nil
	}
	if runs, err := h.store.LoadLocalRuns(ctx, 0); err == nil {
		tables["local_runs"] = len(runs)
	} else {
		tables["local_runs"] = nil
	}

	resp := gin.H{
		"store_mode": h.store.Mode(),
		"dsn":        h.store.DSN(),
		"dual_write": h.store.DualWrite(),
		"migrated":   h.store.Mode() != "file",
		"degraded":   h.store.Degraded(),
		"tables":     tables,
	}

	integrity := gin.H{"kind": h.store.IntegrityKind()}
	if err := h.store.IntegrityCheck(ctx); err != nil {
		integrity["ok"] = false
		integrity["error"] = err.Error()
	} else {
		integrity["ok"] = true
	}
	resp["integrity"] = integrity

	c.JSON(http.StatusOK, resp)
}

// GetReplication returns the worker's queue stats with the target
// credential-redacted. Operator-only.
func (h *Handler) GetReplication(c *gin.Context) {
	stats := h.worker.Stats()
	c.JSON(http.StatusOK, gin.H{
		"enabled":      stats.Enabled,
		"target":       stats.Target,
		"queue_length": stats.QueueLength,
		"max_queue":    stats.MaxQueue,
		"backpressure": stats.Backpressure,
		"metrics": gin.H{
			"ops_total":      stats.OpsTotal,
			"failures_total": stats.FailuresTotal,
			"dropped_total":  stats.DroppedTotal,
		},
	})
}

// GetHealth returns the latest health snapshot. Publicly readable.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Latest())
}

type restartRequest struct {
	Mode         string `json:"mode"`
	DelaySeconds int    `json:"delay_seconds"`
}

// Restart schedules a process exit. Audited before anything happens.
// Operator-only.
func (h *Handler) Restart(c *gin.Context) {
	var req restartRequest
	_ = c.ShouldBindJSON(&req)

	if req.Mode == "" {
		req.Mode = "graceful"
	}
	if req.Mode != "graceful" && req.Mode != "immediate" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be graceful or immediate"})
		return
	}
	if req.DelaySeconds < 0 {
		req.DelaySeconds = 0
	}
	delay := time.Duration(req.DelaySeconds) * time.Second

	event := map[string]interface{}{
		"type":          "ops_restart",
		"mode":          req.Mode,
		"delay_seconds": req.DelaySeconds,
		"client_ip":     c.ClientIP(),
	}
	if _, err := h.chain.AppendEvent(event); err != nil {
		h.logger.Error("failed to audit restart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit write failed, restart refused"})
		return
	}
	if err := h.store.AppendAudit(c.Request.Context(), []store.AuditRecord{{
		EventType: "ops_restart",
		Details:   store.JSONB{"mode": req.Mode, "delay_seconds": req.DelaySeconds},
		CreatedAt: time.Now().UTC(),
	}}); err != nil {
		h.logger.Warn("failed to persist restart audit record", zap.Error(err))
	}

	h.logger.Warn("restart requested",
		zap.String("mode", req.Mode),
		zap.Duration("delay", delay),
	)

	go func() {
		time.Sleep(delay)
		h.restart(req.Mode == "graceful")
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":        "restart scheduled",
		"mode":          req.Mode,
		"delay_seconds": req.DelaySeconds,
	})
}
