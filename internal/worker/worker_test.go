package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-session-service/internal/queue"
)

func setupPool(t *testing.T) (*Pool, *queue.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	jobs := queue.NewClient(rdb, zerolog.Nop())
	return NewPool(jobs, zerolog.Nop()), jobs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestPoolRunsRegisteredHandler(t *testing.T) {
	pool, jobs := setupPool(t)
	ctx := context.Background()

	var handled int64
	pool.Register("pair", func(ctx context.Context, job *queue.Job) error {
		atomic.AddInt64(&handled, 1)
		return nil
	}, 2, 0)

	for i := 0; i < 5; i++ {
		_, err := jobs.Enqueue(ctx, "pair", map[string]int{"n": i})
		require.NoError(t, err)
	}

	pool.Start(ctx)
	defer pool.Shutdown()

	waitFor(t, func() bool { return atomic.LoadInt64(&handled) == 5 })

	depth, err := jobs.QueueLen(ctx, "pair")
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestPoolSendsFailedJobsThroughRetry(t *testing.T) {
	pool, jobs := setupPool(t)
	ctx := context.Background()

	var attempts int64
	pool.Register("pair", func(ctx context.Context, job *queue.Job) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("transient")
	}, 1, 0)

	_, err := jobs.Enqueue(ctx, "pair", map[string]string{}, queue.WithMaxAttempts(1))
	require.NoError(t, err)

	pool.Start(ctx)
	defer pool.Shutdown()

	// MaxAttempts 1 means the first failure goes straight to dead letter.
	waitFor(t, func() bool {
		n, err := jobs.DeadCount(ctx)
		return err == nil && n == 1
	})
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

func TestPoolShutdownStopsConsumers(t *testing.T) {
	pool, jobs := setupPool(t)
	ctx := context.Background()

	var handled int64
	pool.Register("pair", func(ctx context.Context, job *queue.Job) error {
		atomic.AddInt64(&handled, 1)
		return nil
	}, 1, 0)

	pool.Start(ctx)
	pool.Shutdown()

	_, err := jobs.Enqueue(ctx, "pair", map[string]string{})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&handled))
}
