// Package matchmaker selects the best available node for a job and persists
// the outcome.
package matchmaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
	"github.com/hypernode-labs/engine/internal/registry"
	"github.com/hypernode-labs/engine/internal/storage"
)

// Matchmaker matches jobs against the node registry
type Matchmaker struct {
	db        *storage.DB
	registry  *registry.Registry
	freshness time.Duration
	log       *slog.Logger
}

// New creates a new matchmaker
func New(db *storage.DB, reg *registry.Registry, freshness time.Duration, log *slog.Logger) *Matchmaker {
	return &Matchmaker{db: db, registry: reg, freshness: freshness, log: log}
}

// MatchJob ensures the job row exists, selects the best available node and
// persists the match. A nil match with a nil error is a no-match: the job stays
// pending and may be retried on a later trigger. Matching the same job twice
// returns the original match.
func (m *Matchmaker) MatchJob(ctx context.Context, d models.JobDescriptor) (*models.Match, error) {
	if d.JobID == "" {
		return nil, faults.New(faults.Validation, "jobId is required")
	}

	job, err := m.ensureJob(ctx, d)
	if err != nil {
		return nil, err
	}

	if job.Status == models.JobStatusMatched {
		return m.getMatch(ctx, job.JobID)
	}
	if job.Status.Terminal() {
		return nil, faults.Newf(faults.Validation, "job %s is already %s", job.JobID, job.Status)
	}

	candidates, err := m.registry.QueryAvailable(ctx, registry.Filters{
		GPUModel: job.Requirements.GPUModel,
		VRAMMin:  job.Requirements.VRAMMin,
	})
	if err != nil {
		return nil, err
	}

	candidates = FilterCandidates(job.Requirements, candidates, time.Now(), m.freshness)

	best, ok := SelectBest(job.Requirements, candidates)
	if !ok {
		m.log.Warn("no matching node found", "job_id", job.JobID)
		return nil, nil
	}

	match, err := m.persistMatch(ctx, job.JobID, best)
	if err != nil {
		return nil, err
	}

	m.log.Info("job matched",
		"job_id", job.JobID,
		"node_id", match.NodeID,
		"score", match.Score)
	return match, nil
}

// ReportOutcome closes a matched job with the result reported by its node and
// moves the node's outcome counters. Only the matched node may report, and
// only while the job is in the matched state.
func (m *Matchmaker) ReportOutcome(ctx context.Context, jobID, nodeID string, success bool) error {
	match, err := m.getMatch(ctx, jobID)
	if err != nil {
		return err
	}
	if match.NodeID != nodeID {
		return faults.Newf(faults.Validation, "job %s is not assigned to node %s", jobID, nodeID)
	}

	status := models.JobStatusCompleted
	if !success {
		status = models.JobStatusFailed
	}
	tag, err := m.db.Pool.Exec(ctx,
		`UPDATE jobs SET status = $1, completed_at = NOW()
		 WHERE job_id = $2 AND status = 'matched'`,
		status, jobID)
	if err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to close job")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.Validation, "job %s is not awaiting an outcome", jobID)
	}

	return m.registry.RecordOutcome(ctx, nodeID, success)
}

// MarkFailed dead-letters a job after the dispatcher has exhausted retries
func (m *Matchmaker) MarkFailed(ctx context.Context, jobID string) error {
	_, err := m.db.Pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', completed_at = NOW()
		 WHERE job_id = $1 AND status IN ('pending', 'matched')`,
		jobID)
	return faults.Wrap(faults.Connectivity, err, "failed to mark job failed")
}

// PendingJobs returns job ids still waiting for a node, oldest first. Used to
// re-trigger matching when a new node registers.
func (m *Matchmaker) PendingJobs(ctx context.Context, limit int) ([]models.JobDescriptor, error) {
	rows, err := m.db.Pool.Query(ctx,
		`SELECT job_id, job_type, gpu_model, vram_min, capabilities, price, tx_signature
		 FROM jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to query pending jobs")
	}
	defer rows.Close()

	var out []models.JobDescriptor
	for rows.Next() {
		var d models.JobDescriptor
		err := rows.Scan(&d.JobID, &d.JobType, &d.Requirements.GPUModel,
			&d.Requirements.VRAMMin, &d.Requirements.Capabilities, &d.Price, &d.Signature)
		if err != nil {
			return nil, faults.Wrap(faults.Connectivity, err, "failed to scan pending job")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ensureJob upserts the job row. Requirements already stored for the job win
// over the (possibly empty) descriptor: full requirements may arrive after the
// creation event and are merged here before matching. Completed and failed
// jobs are never rewritten; the guarded upsert skips them and the stored row
// is read back as-is.
func (m *Matchmaker) ensureJob(ctx context.Context, d models.JobDescriptor) (*models.Job, error) {
	var job models.Job
	err := m.db.Pool.QueryRow(ctx,
		`INSERT INTO jobs (job_id, job_type, gpu_model, vram_min, capabilities, price, status, tx_signature)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		 ON CONFLICT (job_id) DO UPDATE SET
		   job_type     = CASE WHEN jobs.job_type = '' THEN EXCLUDED.job_type ELSE jobs.job_type END,
		   gpu_model    = CASE WHEN jobs.gpu_model = '' THEN EXCLUDED.gpu_model ELSE jobs.gpu_model END,
		   vram_min     = CASE WHEN jobs.vram_min = 0 THEN EXCLUDED.vram_min ELSE jobs.vram_min END,
		   capabilities = CASE WHEN jobs.capabilities = '{}' THEN EXCLUDED.capabilities ELSE jobs.capabilities END,
		   price        = CASE WHEN jobs.price = 0 THEN EXCLUDED.price ELSE jobs.price END
		 WHERE jobs.status NOT IN ('completed', 'failed')
		 RETURNING job_id, job_type, gpu_model, vram_min, capabilities, price, status, created_at, completed_at, tx_signature`,
		d.JobID, d.JobType, d.Requirements.GPUModel, d.Requirements.VRAMMin,
		d.Requirements.Capabilities, d.Price, d.Signature).Scan(
		&job.JobID, &job.JobType, &job.Requirements.GPUModel, &job.Requirements.VRAMMin,
		&job.Requirements.Capabilities, &job.Price, &job.Status, &job.CreatedAt,
		&job.CompletedAt, &job.SourceTxSignature)
	if err == pgx.ErrNoRows {
		// The guard excluded a terminal job from the update; nothing was
		// returned, so read the row directly
		return m.getJob(ctx, d.JobID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to upsert job")
	}
	return &job, nil
}

func (m *Matchmaker) getJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := m.db.Pool.QueryRow(ctx,
		`SELECT job_id, job_type, gpu_model, vram_min, capabilities, price, status, created_at, completed_at, tx_signature
		 FROM jobs WHERE job_id = $1`,
		jobID).Scan(
		&job.JobID, &job.JobType, &job.Requirements.GPUModel, &job.Requirements.VRAMMin,
		&job.Requirements.Capabilities, &job.Price, &job.Status, &job.CreatedAt,
		&job.CompletedAt, &job.SourceTxSignature)
	if err == pgx.ErrNoRows {
		return nil, faults.Newf(faults.NotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to load job")
	}
	return &job, nil
}

func (m *Matchmaker) persistMatch(ctx context.Context, jobID string, best Candidate) (*models.Match, error) {
	tx, err := m.db.Pool.Begin(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	match := &models.Match{
		ID:        uuid.New(),
		JobID:     jobID,
		NodeID:    best.Node.NodeID,
		Score:     best.Score,
		MatchedAt: time.Now(),
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO matches (id, job_id, node_id, score, matched_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_id) DO NOTHING`,
		match.ID, match.JobID, match.NodeID, match.Score, match.MatchedAt)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to insert match")
	}
	if tag.RowsAffected() == 0 {
		// Another worker got there first; the existing match stands
		return m.getMatch(ctx, jobID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET status = 'matched' WHERE job_id = $1 AND status = 'pending'`,
		jobID)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to update job status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to commit match")
	}
	return match, nil
}

func (m *Matchmaker) getMatch(ctx context.Context, jobID string) (*models.Match, error) {
	var match models.Match
	err := m.db.Pool.QueryRow(ctx,
		`SELECT id, job_id, node_id, score, matched_at FROM matches WHERE job_id = $1`,
		jobID).Scan(&match.ID, &match.JobID, &match.NodeID, &match.Score, &match.MatchedAt)
	if err == pgx.ErrNoRows {
		return nil, faults.Newf(faults.NotFound, "no match for job %s", jobID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to load match")
	}
	return &match, nil
}
