package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hypernode-labs/engine/internal/metrics"
)

// MetricsHandler serves marketplace metrics and audit reads
type MetricsHandler struct {
	aggregator *metrics.Aggregator
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(aggregator *metrics.Aggregator) *MetricsHandler {
	return &MetricsHandler{aggregator: aggregator}
}

// Current computes a live metrics snapshot
func (h *MetricsHandler) Current(c *gin.Context) {
	snapshot, err := h.aggregator.Current(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Validation returns recent jobs and nodes for spot-checking marketplace state
func (h *MetricsHandler) Validation(c *gin.Context) {
	audit, err := h.aggregator.Audit(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, audit)
}
