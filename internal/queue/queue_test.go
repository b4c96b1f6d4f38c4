package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypernode-labs/engine/internal/faults"
	"github.com/hypernode-labs/engine/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQueue(t *testing.T, maxAttempts int) (*Queue, *redis.Client) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, maxAttempts, 30*time.Second, testLogger()), rdb
}

func descriptor(jobID string) models.JobDescriptor {
	return models.JobDescriptor{
		JobID:      jobID,
		JobType:    "training",
		Price:      1.5,
		EnqueuedAt: time.Now(),
	}
}

// rewind moves a zset member's score into the past so due/deadline sweeps see
// it without the test sleeping.
func rewind(t *testing.T, rdb *redis.Client, key, member string) {
	t.Helper()
	past := float64(time.Now().Add(-time.Minute).Unix())
	require.NoError(t, rdb.ZAdd(context.Background(), key, redis.Z{Score: past, Member: member}).Err())
}

func TestEnqueueClaim(t *testing.T) {
	q, _ := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, "training", job.JobType)

	// Queue is now empty
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q, _ := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))

	// A second submission of the same id while the first is queued is dropped
	dup := descriptor("job-1")
	dup.Price = 99
	require.NoError(t, q.Enqueue(ctx, dup))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1.5, job.Price)

	// Still dropped while the first claim is in flight
	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestFailRetryableSchedulesRetry(t *testing.T) {
	q, rdb := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	dead, err := q.Fail(ctx, *job, faults.New(faults.Connectivity, "registry unreachable"))
	require.NoError(t, err)
	assert.False(t, dead)

	// Scheduled in the retry set, not ready yet
	require.NoError(t, rdb.ZScore(ctx, retryKey, "job-1").Err())
	n, err := q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Once the backoff expires the job comes back with the attempt recorded
	rewind(t, rdb, retryKey, "job-1")
	n, err = q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)
}

func TestFailNonRetryableDeadLetters(t *testing.T) {
	q, rdb := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	dead, err := q.Fail(ctx, *job, faults.New(faults.Validation, "bad descriptor"))
	require.NoError(t, err)
	assert.True(t, dead)

	require.NoError(t, rdb.ZScore(ctx, deadKey, "job-1").Err())
	assert.True(t, errors.Is(rdb.ZScore(ctx, runningKey, "job-1").Err(), redis.Nil))

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestExhaustedAttemptsDeadLetter(t *testing.T) {
	q, rdb := testQueue(t, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	cause := faults.New(faults.Connectivity, "registry unreachable")

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	dead, err := q.Fail(ctx, *job, cause)
	require.NoError(t, err)
	require.False(t, dead)

	rewind(t, rdb, retryKey, "job-1")
	_, err = q.PromoteDue(ctx, 100)
	require.NoError(t, err)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	dead, err = q.Fail(ctx, *job, cause)
	require.NoError(t, err)
	assert.True(t, dead)
	require.NoError(t, rdb.ZScore(ctx, deadKey, "job-1").Err())
}

func TestStalledClaimIsReclaimed(t *testing.T) {
	q, rdb := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Worker dies here: no Fail, no Complete. Within the visibility window
	// the job stays claimed.
	n, err := q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past the deadline the promoter hands it back to the ready queue
	rewind(t, rdb, runningKey, "job-1")
	n, err = q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.JobID)
}

func TestCompleteClearsClaim(t *testing.T) {
	q, rdb := testQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, descriptor("job-1")))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, *job, true))

	// Acknowledged: nothing left for the promoter to reclaim
	assert.True(t, errors.Is(rdb.ZScore(ctx, runningKey, "job-1").Err(), redis.Nil))
	n, err := q.PromoteDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequeueAfterNoMatch(t *testing.T) {
	q, _ := testQueue(t, 3)
	ctx := context.Background()

	d := descriptor("job-1")
	require.NoError(t, q.Enqueue(ctx, d))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, *job, false))

	// A no-match job is eligible again on the next trigger
	require.NoError(t, q.Requeue(ctx, d))
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.JobID)
	assert.Zero(t, job.Attempts)
}

func TestRequeueSkipsFinishedJobs(t *testing.T) {
	q, _ := testQueue(t, 3)
	ctx := context.Background()

	d := descriptor("job-1")
	require.NoError(t, q.Enqueue(ctx, d))
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, *job, true))

	require.NoError(t, q.Requeue(ctx, d))
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 1 * time.Second},
		{attempt: 1, want: 1 * time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 6, want: 32 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffCap(t *testing.T) {
	for attempt := 7; attempt < 40; attempt++ {
		assert.Equal(t, time.Minute, Backoff(attempt))
	}
}

func TestBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt < 12; attempt++ {
		d := Backoff(attempt)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}
