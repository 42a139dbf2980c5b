package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/sentinel-engine/internal/trace"
)

const analysisTimeout = 200 * time.Millisecond

// handleAnalyzePending runs the full pipeline against a not-yet-executed
// transaction submitted as JSON.
func (h *APIHandler) handleAnalyzePending(c *gin.Context) {
	var p trace.PendingTransaction
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), analysisTimeout)
	defer cancel()

	sig := h.engine.AnalyzePending(ctx, &p)
	c.JSON(http.StatusOK, sig.ToDict())
}

// handleAnalyzeTrace runs the full pipeline against an already-executed
// trace submitted as JSON.
func (h *APIHandler) handleAnalyzeTrace(c *gin.Context) {
	var t trace.ExecutedTrace
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), analysisTimeout)
	defer cancel()

	sig := h.engine.AnalyzeTrace(ctx, &t)
	c.JSON(http.StatusOK, sig.ToDict())
}

// handleRecentSignals returns the bounded recent-alerts ring, most recent
// last.
func (h *APIHandler) handleRecentSignals(c *gin.Context) {
	recent := h.engine.RecentSignals()
	dicts := make([]map[string]any, len(recent))
	for i, s := range recent {
		dicts[i] = s.ToDict()
	}
	c.JSON(http.StatusOK, gin.H{
		"signals": dicts,
		"total":   len(dicts),
	})
}

// handleStats returns the engine's running operational counters.
func (h *APIHandler) handleStats(c *gin.Context) {
	counters := h.engine.Counters()
	c.JSON(http.StatusOK, gin.H{
		"total_analyzed":    counters.TotalAnalyzed.Load(),
		"safe_count":        counters.SafeCount.Load(),
		"low_count":         counters.LowCount.Load(),
		"medium_count":      counters.MediumCount.Load(),
		"high_count":        counters.HighCount.Load(),
		"critical_count":    counters.CriticalCount.Load(),
		"average_latency_ms": counters.AverageLatencyMS(),
	})
}

// handleHealthz reports liveness for service discovery / load balancer
// probes.
func (h *APIHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "sentinel risk analysis engine",
	})
}
