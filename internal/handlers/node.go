package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/matchmaker"
	"github.com/hypernode-labs/engine/internal/middleware"
	"github.com/hypernode-labs/engine/internal/registry"
)

// NodeHandler handles node agent requests
type NodeHandler struct {
	registry *registry.Registry
	matcher  *matchmaker.Matchmaker
	tokens   *middleware.TokenIssuer
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(reg *registry.Registry, matcher *matchmaker.Matchmaker, tokens *middleware.TokenIssuer) *NodeHandler {
	return &NodeHandler{registry: reg, matcher: matcher, tokens: tokens}
}

// Register handles node registration. Re-registering an existing node refreshes
// its capacity and issues a fresh token; reputation carries over.
func (h *NodeHandler) Register(c *gin.Context) {
	var req registry.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	node, err := h.registry.Register(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"node_id":          node.NodeID,
		"reputation_score": node.ReputationScore,
	}
	if h.tokens.Enabled() {
		token, err := h.tokens.Issue(node.NodeID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}
		resp["token"] = token
	}

	c.JSON(http.StatusCreated, resp)
}

// HeartbeatRequest represents a heartbeat request
type HeartbeatRequest struct {
	NodeID string `json:"node_id" binding:"required"`
}

// Heartbeat handles node heartbeat. With auth enabled the token identity must
// match the reported node id.
func (h *NodeHandler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if authed := middleware.AuthedNodeID(c); authed != "" && authed != req.NodeID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not match node_id"})
		return
	}

	if err := h.registry.Heartbeat(c.Request.Context(), req.NodeID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReportRequest represents a job outcome report
type ReportRequest struct {
	JobID   string `json:"job_id" binding:"required"`
	NodeID  string `json:"node_id" binding:"required"`
	Success *bool  `json:"success" binding:"required"`
}

// Report closes a matched job with the outcome its node observed
func (h *NodeHandler) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if authed := middleware.AuthedNodeID(c); authed != "" && authed != req.NodeID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token does not match node_id"})
		return
	}

	if err := h.matcher.ReportOutcome(c.Request.Context(), req.JobID, req.NodeID, *req.Success); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// statusFor maps an error classification to an HTTP status
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.Validation:
		return http.StatusBadRequest
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Connectivity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
