// Package queue is the durable, at-least-once match work queue backed by
// Redis. Job ids are the idempotency key: enqueueing a job that is already
// queued, in flight or finished is a no-op.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
)

// Redis keys:
// - matchjob:<id> (hash)   state + payload + failure metadata
// - matchq:ready (zset)    score=enqueued_at_unix, member=job_id
// - matchq:running (zset)  score=visibility_deadline_unix, member=job_id
// - matchq:retry (zset)    score=available_at_unix, member=job_id
// - matchq:dead (zset)     score=failed_at_unix, member=job_id
const (
	readyKey   = "matchq:ready"
	runningKey = "matchq:running"
	retryKey   = "matchq:retry"
	deadKey    = "matchq:dead"
)

// Job states stored in the matchjob hash
const (
	stateQueued   = "queued"
	stateRunning  = "running"
	stateRetry    = "retry_scheduled"
	stateDone     = "done"
	stateNoMatch  = "no_match"
	stateDead     = "dead"
)

func jobKey(id string) string { return "matchjob:" + id }

// Queue is a Redis-backed match work queue
type Queue struct {
	rdb         *redis.Client
	log         *slog.Logger
	maxAttempts int
	visibility  time.Duration
}

// New creates a new queue. visibility bounds how long a claimed job may sit
// unacknowledged before the promoter hands it back to the ready queue; it must
// exceed the dispatcher's per-attempt timeout.
func New(rdb *redis.Client, maxAttempts int, visibility time.Duration, log *slog.Logger) *Queue {
	return &Queue{rdb: rdb, maxAttempts: maxAttempts, visibility: visibility, log: log}
}

// Enqueue adds a job descriptor to the ready queue. The first enqueue for a
// job id wins; any later enqueue while the job is queued, running or already
// finished is silently dropped.
func (q *Queue) Enqueue(ctx context.Context, d models.JobDescriptor) error {
	if d.JobID == "" {
		return faults.New(faults.Validation, "job descriptor has no job id")
	}
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}

	created, err := q.rdb.HSetNX(ctx, jobKey(d.JobID), "state", stateQueued).Result()
	if err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to claim job id")
	}
	if !created {
		q.log.Debug("duplicate enqueue ignored", "job_id", d.JobID)
		return nil
	}

	return q.push(ctx, d)
}

// Requeue re-adds a job that previously finished without a match. Used when a
// new node registration makes pending jobs matchable again.
func (q *Queue) Requeue(ctx context.Context, d models.JobDescriptor) error {
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}
	d.Attempts = 0

	// Only transition no_match (or unknown) jobs back to queued
	state, err := q.rdb.HGet(ctx, jobKey(d.JobID), "state").Result()
	if err != nil && err != redis.Nil {
		return faults.Wrap(faults.Connectivity, err, "failed to read job state")
	}
	if state == stateQueued || state == stateRunning || state == stateRetry || state == stateDone || state == stateDead {
		return nil
	}

	if err := q.rdb.HSet(ctx, jobKey(d.JobID), "state", stateQueued).Err(); err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to reset job state")
	}
	return q.push(ctx, d)
}

func (q *Queue) push(ctx context.Context, d models.JobDescriptor) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return faults.Wrap(faults.Internal, err, "failed to marshal job descriptor")
	}

	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(d.JobID), map[string]interface{}{
		"payload":    string(payload),
		"created_at": d.EnqueuedAt.Unix(),
	})
	pipe.ZAdd(ctx, readyKey, redis.Z{
		Score:  float64(d.EnqueuedAt.Unix()),
		Member: d.JobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to enqueue job")
	}
	return nil
}

// Claim pops the oldest ready job and marks it running with a visibility
// deadline. Returns nil when the queue is empty. ZPopMin is atomic, so a job
// id is only ever claimed by one worker at a time; a claim that is never
// acknowledged is handed back to the ready queue once the deadline passes.
func (q *Queue) Claim(ctx context.Context) (*models.JobDescriptor, error) {
	zres, err := q.rdb.ZPopMin(ctx, readyKey, 1).Result()
	if err != nil && err != redis.Nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to pop ready queue")
	}
	if len(zres) == 0 {
		return nil, nil
	}
	jobID := zres[0].Member.(string)

	raw, err := q.rdb.HGet(ctx, jobKey(jobID), "payload").Result()
	if err == redis.Nil || raw == "" {
		q.deadLetter(ctx, jobID, "payload missing")
		return nil, faults.Newf(faults.Internal, "job %s payload missing", jobID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Connectivity, err, "failed to fetch job payload")
	}

	var d models.JobDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		// Corrupt payload: dead-letter it so workers don't loop on it forever
		q.deadLetter(ctx, jobID, "invalid payload: "+err.Error())
		return nil, faults.Wrapf(faults.Internal, err, "failed to unmarshal job %s", jobID)
	}

	deadline := time.Now().Add(q.visibility)
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(jobID), "state", stateRunning)
	pipe.ZAdd(ctx, runningKey, redis.Z{Score: float64(deadline.Unix()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		// Could not mark it running; put it back so it is not lost
		q.rdb.ZAdd(ctx, readyKey, redis.Z{Score: zres[0].Score, Member: jobID})
		q.rdb.ZRem(ctx, runningKey, jobID)
		return nil, faults.Wrap(faults.Connectivity, err, "failed to mark job running")
	}

	return &d, nil
}

// Fail records a failed attempt. Retryable errors are re-scheduled with
// exponential backoff until the attempt budget is spent; everything else goes
// straight to the dead-letter set. Returns true when the job was dead-lettered.
func (q *Queue) Fail(ctx context.Context, d models.JobDescriptor, cause error) (bool, error) {
	d.Attempts++
	d.ErrorMessage = cause.Error()

	if !faults.Retryable(cause) || d.Attempts >= q.maxAttempts {
		payload, _ := json.Marshal(d)
		now := time.Now()
		pipe := q.rdb.Pipeline()
		pipe.HSet(ctx, jobKey(d.JobID), map[string]interface{}{
			"state":     stateDead,
			"payload":   string(payload),
			"failed_at": now.Unix(),
			"error":     d.ErrorMessage,
			"attempts":  d.Attempts,
		})
		pipe.ZAdd(ctx, deadKey, redis.Z{Score: float64(now.Unix()), Member: d.JobID})
		pipe.ZRem(ctx, retryKey, d.JobID)
		pipe.ZRem(ctx, runningKey, d.JobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, faults.Wrap(faults.Connectivity, err, "failed to dead-letter job")
		}
		return true, nil
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return false, faults.Wrap(faults.Internal, err, "failed to marshal job for retry")
	}

	availableAt := time.Now().Add(Backoff(d.Attempts))
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(d.JobID), map[string]interface{}{
		"state":        stateRetry,
		"payload":      string(payload),
		"error":        d.ErrorMessage,
		"attempts":     d.Attempts,
		"available_at": availableAt.Unix(),
	})
	pipe.ZAdd(ctx, retryKey, redis.Z{Score: float64(availableAt.Unix()), Member: d.JobID})
	pipe.ZRem(ctx, runningKey, d.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, faults.Wrap(faults.Connectivity, err, "failed to schedule retry")
	}
	return false, nil
}

// Complete records a finished attempt. Matched jobs are terminal here; a
// no-match leaves the job eligible for Requeue on a later trigger.
func (q *Queue) Complete(ctx context.Context, d models.JobDescriptor, matched bool) error {
	state := stateDone
	if !matched {
		state = stateNoMatch
	}
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(d.JobID), "state", state)
	pipe.ZRem(ctx, runningKey, d.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return faults.Wrap(faults.Connectivity, err, "failed to complete job")
	}
	return nil
}

// PromoteDue moves jobs whose backoff has expired from the retry set back to
// the ready queue, and reclaims claimed jobs whose visibility deadline has
// passed without an acknowledgement (worker crash, lost connection).
func (q *Queue) PromoteDue(ctx context.Context, limit int64) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	promoted, err := q.moveDue(ctx, retryKey, limit)
	if err != nil {
		return promoted, err
	}

	reclaimed, err := q.moveDue(ctx, runningKey, limit)
	if reclaimed > 0 {
		q.log.Warn("reclaimed stalled jobs past visibility deadline", "count", reclaimed)
	}
	return promoted + reclaimed, err
}

// moveDue pushes the members of a zset whose score is in the past back onto
// the ready queue.
func (q *Queue) moveDue(ctx context.Context, key string, limit int64) (int, error) {
	now := time.Now().Unix()
	due, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: limit,
	}).Result()
	if err != nil && err != redis.Nil {
		return 0, faults.Wrap(faults.Connectivity, err, "failed to fetch due jobs")
	}

	moved := 0
	for _, jobID := range due {
		// Remove first so a crashing loop cannot promote the same id twice
		removed, err := q.rdb.ZRem(ctx, key, jobID).Result()
		if err != nil {
			return moved, faults.Wrap(faults.Connectivity, err, "failed to remove due job")
		}
		if removed == 0 {
			continue
		}

		pipe := q.rdb.Pipeline()
		pipe.ZAdd(ctx, readyKey, redis.Z{Score: float64(now), Member: jobID})
		pipe.HSet(ctx, jobKey(jobID), "state", stateQueued)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, faults.Wrap(faults.Connectivity, err, "failed to promote job")
		}
		moved++
	}
	return moved, nil
}

// Depth returns the number of jobs waiting in the ready queue
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, readyKey).Result()
	return n, faults.Wrap(faults.Connectivity, err, "failed to read queue depth")
}

func (q *Queue) deadLetter(ctx context.Context, jobID, reason string) {
	now := time.Now()
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"state":     stateDead,
		"failed_at": now.Unix(),
		"error":     reason,
	})
	pipe.ZAdd(ctx, deadKey, redis.Z{Score: float64(now.Unix()), Member: jobID})
	pipe.ZRem(ctx, retryKey, jobID)
	pipe.ZRem(ctx, runningKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("failed to dead-letter job", "job_id", jobID, "error", err)
	}
}

// Backoff returns the retry delay for the given attempt number: 1s, 2s, 4s...
// capped at one minute.
func Backoff(attempt int) time.Duration {
	const base = 1 * time.Second
	const max = 1 * time.Minute

	if attempt < 1 {
		attempt = 1
	}
	// 2^6 seconds already exceeds the cap; bail out before the
	// multiplication can overflow
	if attempt > 7 {
		return max
	}
	factor := math.Pow(2, float64(attempt-1))
	d := time.Duration(factor) * base
	if d > max {
		return max
	}
	return d
}
