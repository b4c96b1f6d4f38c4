package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hypernode-labs/engine/internal/matchmaker"
	"github.com/hypernode-labs/engine/internal/models"
)

// MatchmakerHandler handles synchronous match requests
type MatchmakerHandler struct {
	matcher *matchmaker.Matchmaker
}

// NewMatchmakerHandler creates a new matchmaker handler
func NewMatchmakerHandler(matcher *matchmaker.Matchmaker) *MatchmakerHandler {
	return &MatchmakerHandler{matcher: matcher}
}

// MatchRequest represents a direct match request
type MatchRequest struct {
	JobID        string              `json:"job_id" binding:"required"`
	JobType      string              `json:"job_type"`
	Requirements models.Requirements `json:"requirements"`
	Price        float64             `json:"price"`
}

// Match runs a single matching attempt for the submitted job and returns the
// assignment, if any. A run with no eligible node is a successful request.
func (h *MatchmakerHandler) Match(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := h.matcher.MatchJob(c.Request.Context(), models.JobDescriptor{
		JobID:        req.JobID,
		JobType:      req.JobType,
		Requirements: req.Requirements,
		Price:        req.Price,
		EnqueuedAt:   time.Now(),
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if match == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "reason": "no_match"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "match": match})
}
