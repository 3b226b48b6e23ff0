package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewClient(rdb, zerolog.Nop())
}

func TestEnqueuePop(t *testing.T) {
	_, c := setupTestQueue(t)
	ctx := context.Background()

	id, err := c.Enqueue(ctx, KindPair, PairPayload{EventID: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := c.Pop(ctx, KindPair, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, KindPair, job.Kind)
	assert.Equal(t, 3, job.MaxAttempts)

	var payload PairPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, int64(7), payload.EventID)
}

func TestPopEmptyReturnsNil(t *testing.T) {
	_, c := setupTestQueue(t)

	job, err := c.Pop(context.Background(), KindPair, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestKindsAreIsolated(t *testing.T) {
	_, c := setupTestQueue(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, KindFuzzy, FuzzyPayload{Zone: "Z1"})
	require.NoError(t, err)

	job, err := c.Pop(ctx, KindPair, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = c.Pop(ctx, KindFuzzy, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestDelayedEnqueuePromotes(t *testing.T) {
	mr, c := setupTestQueue(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, KindFuzzy, FuzzyPayload{Zone: "Z1"}, WithDelay(5*time.Second))
	require.NoError(t, err)

	// Not runnable yet.
	n, err := c.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	depth, _ := c.QueueLen(ctx, KindFuzzy)
	assert.Equal(t, int64(0), depth)

	mr.FastForward(6 * time.Second)

	n, err = c.PromoteDelayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := c.Pop(ctx, KindFuzzy, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	var payload FuzzyPayload
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, "Z1", payload.Zone)
}

func TestRetryBacksOffThenDeadLetters(t *testing.T) {
	mr, c := setupTestQueue(t)
	ctx := context.Background()
	cause := errors.New("store unavailable")

	_, err := c.Enqueue(ctx, KindPair, PairPayload{EventID: 1}, WithMaxAttempts(2))
	require.NoError(t, err)
	job, err := c.Pop(ctx, KindPair, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)

	// First failure: goes to the delayed set, not the dead letter.
	require.NoError(t, c.Retry(ctx, job, cause))
	dead, _ := c.DeadCount(ctx)
	assert.Equal(t, int64(0), dead)

	// Back off, promote, pop again.
	mr.FastForward(2 * time.Second)
	_, err = c.PromoteDelayed(ctx)
	require.NoError(t, err)
	job, err = c.Pop(ctx, KindPair, 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	// Second failure exhausts attempts.
	require.NoError(t, c.Retry(ctx, job, cause))
	dead, _ = c.DeadCount(ctx)
	assert.Equal(t, int64(1), dead)
	depth, _ := c.QueueLen(ctx, KindPair)
	assert.Equal(t, int64(0), depth)
}

func TestAcquireLockSingleFlight(t *testing.T) {
	_, c := setupTestQueue(t)
	ctx := context.Background()

	release, ok, err := c.AcquireLock(ctx, "expire", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Second acquisition is refused while held.
	_, ok2, err := c.AcquireLock(ctx, "expire", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2)

	release()

	_, ok3, err := c.AcquireLock(ctx, "expire", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok3)
}

func TestAcquireLockExpires(t *testing.T) {
	mr, c := setupTestQueue(t)
	ctx := context.Background()

	_, ok, err := c.AcquireLock(ctx, "fuzzy:Z1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = c.AcquireLock(ctx, "fuzzy:Z1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
