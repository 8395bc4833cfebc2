package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultStatsWindow = 24 * time.Hour

// stats returns an aggregate execution summary over the trailing 24h
// (overridable via ?window=1h-style Go duration strings).
func (h *handlers) stats(c *gin.Context) {
	window := defaultStatsWindow
	if v := c.Query("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			window = d
		}
	}
	agg, err := h.svc.Executions.GetAggregateStats(c.Request.Context(), window)
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"window_seconds":   window.Seconds(),
		"total_executions": agg.TotalExecutions,
		"avg_duration_ms":  agg.AvgDurationMs,
		"success_rate":     agg.SuccessRate,
		"failure_rate":     agg.FailureRate,
	}
	if h.svc.Degradation != nil {
		state, reason := h.svc.Degradation.State()
		body["degradation_state"] = string(state)
		body["degradation_reason"] = reason
	}
	c.JSON(http.StatusOK, body)
}

// registryHealth reports the repository alerts that registry.Monitor.Snapshot
// newly surfaces on this call; an alert already returned by an earlier call
// is not repeated, and per-repository sync status is not included.
func (h *handlers) registryHealth(c *gin.Context) {
	if h.svc.Registry == nil {
		c.JSON(http.StatusOK, gin.H{"repositories": []gin.H{}, "alerts": []gin.H{}})
		return
	}
	alerts, err := h.svc.Registry.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
