// Package registry is the authoritative view of worker nodes. Availability is
// always derived from heartbeat age at query time; the stored status column is
// self-reported and never consulted for matching.
package registry

import (
	"context"
	"time"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
	"github.com/hypernode-labs/engine/internal/storage"
)

// Registry handles worker node operations
type Registry struct {
	db             *storage.DB
	freshness      time.Duration
	candidateLimit int
}

// New creates a new node registry
func New(db *storage.DB, freshness time.Duration, candidateLimit int) *Registry {
	return &Registry{db: db, freshness: freshness, candidateLimit: candidateLimit}
}

// RegisterRequest represents a node registration request
type RegisterRequest struct {
	NodeID        string `json:"node_id" binding:"required"`
	OwnerIdentity string `json:"identity"`
	GPUModel      string `json:"gpu_model"`
	VRAMGb        int    `json:"vram_gb"`
}

// Register creates or replaces a node record. Re-registration keeps the
// accumulated reputation and outcome counters.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*models.Node, error) {
	if req.NodeID == "" {
		return nil, faults.New(faults.Validation, "node_id is required")
	}

	now := time.Now()
	var node models.Node
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO nodes (node_id, owner_identity, gpu_model, vram_gb, last_heartbeat, status, registered_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'online', $5, $5)
		 ON CONFLICT (node_id) DO UPDATE SET
		   owner_identity = EXCLUDED.owner_identity,
		   gpu_model      = EXCLUDED.gpu_model,
		   vram_gb        = EXCLUDED.vram_gb,
		   last_heartbeat = EXCLUDED.last_heartbeat,
		   status         = 'online',
		   updated_at     = EXCLUDED.updated_at
		 RETURNING node_id, owner_identity, gpu_model, vram_gb, reputation_score,
		           last_heartbeat, jobs_completed, jobs_failed, status, registered_at`,
		req.NodeID, req.OwnerIdentity, req.GPUModel, req.VRAMGb, now).Scan(
		&node.NodeID, &node.OwnerIdentity, &node.GPUModel, &node.VRAMGb,
		&node.ReputationScore, &node.LastHeartbeat, &node.JobsCompleted,
		&node.JobsFailed, &node.Status, &node.RegisteredAt)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to register node")
	}

	return &node, nil
}

// Heartbeat updates last_heartbeat for a node. It does not flip the stored
// status flag; availability is recomputed from heartbeat age on every query.
func (r *Registry) Heartbeat(ctx context.Context, nodeID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE nodes SET last_heartbeat = NOW(), updated_at = NOW() WHERE node_id = $1`,
		nodeID)
	if err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to update heartbeat")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.NotFound, "node %s is not registered", nodeID)
	}
	return nil
}

// Filters narrows an availability query
type Filters struct {
	GPUModel string
	VRAMMin  int
}

// QueryAvailable returns available nodes (heartbeat within the freshness
// window) ordered by reputation then completed jobs, capped at the candidate
// limit.
func (r *Registry) QueryAvailable(ctx context.Context, f Filters) ([]models.Node, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT node_id, owner_identity, gpu_model, vram_gb, reputation_score,
		        last_heartbeat, jobs_completed, jobs_failed, status, registered_at
		 FROM nodes
		 WHERE last_heartbeat IS NOT NULL
		   AND last_heartbeat > NOW() - $1::interval
		   AND ($2 = '' OR gpu_model = $2)
		   AND ($3 = 0 OR vram_gb >= $3)
		 ORDER BY reputation_score DESC, jobs_completed DESC
		 LIMIT $4`,
		r.freshness, f.GPUModel, f.VRAMMin, r.candidateLimit)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to query available nodes")
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var node models.Node
		err := rows.Scan(
			&node.NodeID, &node.OwnerIdentity, &node.GPUModel, &node.VRAMGb,
			&node.ReputationScore, &node.LastHeartbeat, &node.JobsCompleted,
			&node.JobsFailed, &node.Status, &node.RegisteredAt)
		if err != nil {
			return nil, faults.Wrap(faults.Connectivity, err, "failed to scan node")
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to read nodes")
	}
	return nodes, nil
}

// RecordOutcome increments the outcome counters for a node and nudges its
// reputation. Counters only ever grow.
func (r *Registry) RecordOutcome(ctx context.Context, nodeID string, success bool) error {
	var query string
	if success {
		query = `UPDATE nodes SET
		           jobs_completed = jobs_completed + 1,
		           reputation_score = LEAST(reputation_score + 5, 1000),
		           updated_at = NOW()
		         WHERE node_id = $1`
	} else {
		query = `UPDATE nodes SET
		           jobs_failed = jobs_failed + 1,
		           reputation_score = GREATEST(reputation_score - 10, 0),
		           updated_at = NOW()
		         WHERE node_id = $1`
	}

	tag, err := r.db.Pool.Exec(ctx, query, nodeID)
	if err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to record outcome")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.NotFound, "node %s is not registered", nodeID)
	}
	return nil
}

// Recent returns the most recently registered nodes for audit reads
func (r *Registry) Recent(ctx context.Context, limit int) ([]models.Node, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT node_id, owner_identity, gpu_model, vram_gb, reputation_score,
		        last_heartbeat, jobs_completed, jobs_failed, status, registered_at
		 FROM nodes
		 ORDER BY registered_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to query recent nodes")
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var node models.Node
		err := rows.Scan(
			&node.NodeID, &node.OwnerIdentity, &node.GPUModel, &node.VRAMGb,
			&node.ReputationScore, &node.LastHeartbeat, &node.JobsCompleted,
			&node.JobsFailed, &node.Status, &node.RegisteredAt)
		if err != nil {
			return nil, faults.Wrap(faults.Connectivity, err, "failed to scan node")
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}
