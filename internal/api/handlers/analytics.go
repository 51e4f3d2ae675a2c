package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetSummary rolls up audit chain events from the last N hours.
func (h *Handler) GetSummary(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))

	summary, err := h.analytics.Summary(hours)
	if err != nil {
		h.logger.Error("failed to build summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetTenantReport aggregates one tenant's anomaly and remediation history.
func (h *Handler) GetTenantReport(c *gin.Context) {
	tenantID := c.Param("tenant")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant required"})
		return
	}

	report, err := h.analytics.TenantReport(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to build tenant report",
			zap.Error(err),
			zap.String("tenant_id", tenantID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetAuditEntries lists chained audit entries, newest first, with a
// verification report over the whole chain.
func (h *Handler) GetAuditEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.analytics.AuditEntries(limit)
	if err != nil {
		h.logger.Error("failed to read audit chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit chain"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries":      entries,
		"verification": h.chain.VerifyChain(),
	})
}

// GetLearning exposes the optimizer's per-alert-type thresholds and
// rolling success windows.
func (h *Handler) GetLearning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alert_types": h.optimizer.AllPerformance(),
	})
}
