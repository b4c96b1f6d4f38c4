// Package metrics computes aggregate counters over the persisted pipeline
// state and appends immutable snapshots on a timer.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
	"github.com/hypernode-labs/engine/internal/registry"
	"github.com/hypernode-labs/engine/internal/storage"
)

// Aggregator snapshots system-wide counters
type Aggregator struct {
	db          *storage.DB
	registry    *registry.Registry
	freshness   time.Duration
	interval    time.Duration
	recentJobs  int
	recentNodes int
	log         *slog.Logger

	// Snapshot runs never overlap
	mu sync.Mutex
}

// New creates an aggregator
func New(db *storage.DB, reg *registry.Registry, freshness, interval time.Duration, recentJobs, recentNodes int, log *slog.Logger) *Aggregator {
	return &Aggregator{
		db:          db,
		registry:    reg,
		freshness:   freshness,
		interval:    interval,
		recentJobs:  recentJobs,
		recentNodes: recentNodes,
		log:         log,
	}
}

// Run snapshots on the configured interval until the context is cancelled
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Snapshot(ctx); err != nil {
				a.log.Error("metrics aggregation failed", "error", err)
			}
		}
	}
}

// Snapshot computes current metrics and appends an immutable snapshot row.
// Concurrent calls are serialized against each other; the second caller of an
// overlapping pair is a no-op.
func (a *Aggregator) Snapshot(ctx context.Context) error {
	if !a.mu.TryLock() {
		a.log.Warn("snapshot already in progress, skipping")
		return nil
	}
	defer a.mu.Unlock()

	m, err := a.Current(ctx)
	if err != nil {
		return err
	}

	_, err = a.db.Pool.Exec(ctx,
		`INSERT INTO metrics_snapshots
		   (total_nodes, active_nodes, total_jobs, jobs_completed, jobs_failed,
		    total_paid, avg_job_duration_ms, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.TotalNodes, m.ActiveNodes, m.TotalJobs, m.JobsCompleted, m.JobsFailed,
		m.TotalPaid, m.AvgJobDurationMs, m.Timestamp)
	if err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to insert snapshot")
	}

	a.log.Info("metrics snapshot recorded",
		"total_nodes", m.TotalNodes,
		"active_nodes", m.ActiveNodes,
		"total_jobs", m.TotalJobs)
	return nil
}

// Current recomputes aggregate counters from live state without writing a
// snapshot.
func (a *Aggregator) Current(ctx context.Context) (*models.MetricsSnapshot, error) {
	m := &models.MetricsSnapshot{Timestamp: time.Now()}

	err := a.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE last_heartbeat > NOW() - $1::interval)
		 FROM nodes`, a.freshness).Scan(&m.TotalNodes, &m.ActiveNodes)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to aggregate nodes")
	}

	err = a.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed'),
		        COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) * 1000), 0),
		        COALESCE(SUM(price) FILTER (WHERE status = 'completed'), 0)
		 FROM jobs`).Scan(&m.TotalJobs, &m.JobsCompleted, &m.JobsFailed,
		&m.AvgJobDurationMs, &m.TotalPaid)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to aggregate jobs")
	}

	return m, nil
}

// AuditData is the on-demand inspection read: the most recent jobs and nodes
type AuditData struct {
	RecentJobs  []models.Job  `json:"recentJobs"`
	RecentNodes []models.Node `json:"recentNodes"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// Audit returns the most recent jobs and nodes for external inspection
func (a *Aggregator) Audit(ctx context.Context) (*AuditData, error) {
	jobs, err := a.recentJobList(ctx)
	if err != nil {
		return nil, err
	}

	nodes, err := a.registry.Recent(ctx, a.recentNodes)
	if err != nil {
		return nil, err
	}

	return &AuditData{
		RecentJobs:  jobs,
		RecentNodes: nodes,
		LastUpdated: time.Now(),
	}, nil
}

func (a *Aggregator) recentJobList(ctx context.Context) ([]models.Job, error) {
	rows, err := a.db.Pool.Query(ctx,
		`SELECT job_id, job_type, gpu_model, vram_min, capabilities, price, status,
		        created_at, completed_at, tx_signature
		 FROM jobs
		 ORDER BY created_at DESC
		 LIMIT $1`, a.recentJobs)
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to query recent jobs")
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		err := rows.Scan(&job.JobID, &job.JobType, &job.Requirements.GPUModel,
			&job.Requirements.VRAMMin, &job.Requirements.Capabilities, &job.Price,
			&job.Status, &job.CreatedAt, &job.CompletedAt, &job.SourceTxSignature)
		if err != nil {
			return nil, faults.Wrap(faults.Connectivity, err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
