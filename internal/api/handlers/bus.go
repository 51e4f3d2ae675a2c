package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/autoheal"
)

type publishEventRequest struct {
	Tenant  string                 `json:"tenant" binding:"required"`
	Source  string                 `json:"source" binding:"required"`
	Type    string                 `json:"type" binding:"required"`
	Payload map[string]interface{} `json:"payload"`
}

// PublishEvent ingests one cross-service event onto the bus.
func (h *Handler) PublishEvent(c *gin.Context) {
	var req publishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := h.bus.Publish(req.Tenant, req.Source, req.Type, req.Payload)

	// Incident events from the anomaly detector trigger a healing cycle.
	if req.Type == "incident" && h.engine != nil {
		go h.healFromEvent(req.Tenant, req.Payload)
	}

	c.JSON(http.StatusCreated, event)
}

func (h *Handler) healFromEvent(tenant string, payload map[string]interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("unparseable incident payload", zap.Error(err))
		return
	}

	var body struct {
		Incident    autoheal.Incident    `json:"incident"`
		WindowStats autoheal.WindowStats `json:"window_stats"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		h.logger.Warn("unparseable incident payload", zap.Error(err))
		return
	}
	if body.Incident.TenantID == "" {
		body.Incident.TenantID = tenant
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h.engine.HealCycle(ctx, &body.Incident, &body.WindowStats)
}

// QueryEvents lists bus events, newest first, with optional filters.
func (h *Handler) QueryEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events := h.bus.Query(
		c.Query("tenant"),
		c.Query("source"),
		c.Query("type"),
		limit,
	)
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  h.bus.Len(),
	})
}
