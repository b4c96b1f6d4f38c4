package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hypernode-labs/engine/internal/notify"
)

// WebhookHandler handles manual notification triggers
type WebhookHandler struct {
	fanout *notify.Fanout
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(fanout *notify.Fanout) *WebhookHandler {
	return &WebhookHandler{fanout: fanout}
}

// TriggerRequest represents a manual trigger request
type TriggerRequest struct {
	Event string         `json:"event" binding:"required"`
	Data  map[string]any `json:"data"`
}

// Trigger fires a notification for a known event name across all configured
// sinks. Delivery failures are logged, never surfaced to the caller.
func (h *WebhookHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.fanout.Trigger(c.Request.Context(), req.Event, req.Data); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "triggered"})
}
