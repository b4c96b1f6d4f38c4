package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
)

// Matcher is the match attempt the dispatcher drives per job. A nil match with
// a nil error is a no-match outcome.
type Matcher interface {
	MatchJob(ctx context.Context, d models.JobDescriptor) (*models.Match, error)
	MarkFailed(ctx context.Context, jobID string) error
}

// Notifier receives match outcomes. Implementations must never block the
// pipeline on sink failures.
type Notifier interface {
	JobMatched(ctx context.Context, d models.JobDescriptor, m *models.Match)
}

// Dispatcher pulls queued jobs and drives match attempts with a fixed-size
// worker pool. Distinct jobs proceed in parallel; the queue guarantees a job
// id is never in flight on two workers at once.
type Dispatcher struct {
	queue          *Queue
	matcher        Matcher
	notifier       Notifier
	log            *slog.Logger
	workers        int
	attemptTimeout time.Duration
	pollInterval   time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher
func NewDispatcher(q *Queue, matcher Matcher, notifier Notifier, workers int, attemptTimeout, pollInterval time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:          q,
		matcher:        matcher,
		notifier:       notifier,
		log:            log,
		workers:        workers,
		attemptTimeout: attemptTimeout,
		pollInterval:   pollInterval,
	}
}

// Start launches the worker pool and the retry promoter
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.wg.Add(1)
	go d.promoter(ctx)

	d.log.Info("dispatcher started", "workers", d.workers)
}

// Stop signals all workers and waits for in-flight attempts to finish. Each
// attempt is bounded by the attempt timeout, so Stop returns promptly.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Info("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Claim(ctx)
		if err != nil {
			d.log.Warn("claim failed", "worker", id, "error", err)
			d.sleep(ctx, d.pollInterval)
			continue
		}
		if job == nil {
			d.sleep(ctx, d.pollInterval)
			continue
		}

		d.process(ctx, *job)
	}
}

// process runs one match attempt. The attempt gets its own deadline so an
// unresponsive registry cannot pin a worker indefinitely.
func (d *Dispatcher) process(ctx context.Context, job models.JobDescriptor) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.attemptTimeout)
	defer cancel()

	d.log.Info("processing job", "job_id", job.JobID, "attempt", job.Attempts+1)

	match, err := d.matcher.MatchJob(attemptCtx, job)
	if err != nil {
		d.fail(attemptCtx, job, err)
		return
	}

	if match == nil {
		// A normal outcome, not a failure: the job stays pending and may be
		// retried when a new node registers
		if err := d.queue.Complete(attemptCtx, job, false); err != nil {
			d.log.Warn("failed to record no-match", "job_id", job.JobID, "error", err)
		}
		return
	}

	if err := d.queue.Complete(attemptCtx, job, true); err != nil {
		d.log.Warn("failed to record completion", "job_id", job.JobID, "error", err)
	}
	d.notifier.JobMatched(attemptCtx, job, match)
}

func (d *Dispatcher) fail(ctx context.Context, job models.JobDescriptor, cause error) {
	dead, err := d.queue.Fail(ctx, job, cause)
	if err != nil {
		d.log.Error("failed to record job failure", "job_id", job.JobID, "error", err)
		return
	}

	if dead {
		d.log.Error("job dead-lettered",
			"job_id", job.JobID,
			"attempts", job.Attempts+1,
			"kind", faults.KindOf(cause),
			"error", cause)
		if err := d.matcher.MarkFailed(ctx, job.JobID); err != nil {
			d.log.Error("failed to mark job failed", "job_id", job.JobID, "error", err)
		}
		return
	}

	d.log.Warn("job attempt failed, retry scheduled",
		"job_id", job.JobID,
		"attempt", job.Attempts+1,
		"error", cause)
}

func (d *Dispatcher) promoter(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.queue.PromoteDue(ctx, 100)
			if err != nil {
				d.log.Warn("retry promotion failed", "error", err)
				continue
			}
			if n > 0 {
				d.log.Debug("promoted due retries", "count", n)
			}
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
