// Package agent implements the worker node side of the engine protocol:
// registering with the coordinator and keeping the availability heartbeat
// alive.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client handles communication with the engine coordinator
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new engine client
func NewClient(cfg *Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RegisterRequest represents node registration request
type RegisterRequest struct {
	NodeID   string `json:"node_id"`
	Identity string `json:"identity"`
	GPUModel string `json:"gpu_model"`
	VRAMGb   int    `json:"vram_gb"`
}

// RegisterResponse represents node registration response
type RegisterResponse struct {
	NodeID          string `json:"node_id"`
	ReputationScore int    `json:"reputation_score"`
	Token           string `json:"token"`
}

// Register registers the node with the engine
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.EngineURL+"/nodes/register", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to register node: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("registration failed with status: %d", resp.StatusCode)
	}

	var result RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &result, nil
}

// reportRequest represents a job outcome report
type reportRequest struct {
	JobID   string `json:"job_id"`
	NodeID  string `json:"node_id"`
	Success bool   `json:"success"`
}

// Report closes out a job this node executed
func (c *Client) Report(ctx context.Context, jobID string, success bool) error {
	data, err := json.Marshal(reportRequest{
		JobID:   jobID,
		NodeID:  c.config.NodeID,
		Success: success,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.EngineURL+"/nodes/report", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to report job outcome: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report failed with status: %d", resp.StatusCode)
	}

	return nil
}

// heartbeatRequest represents heartbeat request
type heartbeatRequest struct {
	NodeID string `json:"node_id"`
}

// Heartbeat reports the node as alive
func (c *Client) Heartbeat(ctx context.Context) error {
	data, err := json.Marshal(heartbeatRequest{NodeID: c.config.NodeID})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.EngineURL+"/nodes/heartbeat", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat failed with status: %d", resp.StatusCode)
	}

	return nil
}
