package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job kinds. Each kind has its own queue list so workers can apply
// per-kind concurrency and rate limits.
const (
	KindIngest = "ingest"
	KindPair   = "pair"
	KindFuzzy  = "fuzzy"
	KindExpire = "expire"
)

const (
	queueKeyPrefix = "lpr:jobs:queue:"
	delayedKey     = "lpr:jobs:delayed"
	deadKey        = "lpr:jobs:dead"
	lockKeyPrefix  = "lpr:locks:"

	defaultMaxAttempts = 3
	initialBackoff     = time.Second
	maxBackoff         = time.Minute
)

// Job is one retryable unit of work.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}

func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

type options struct {
	delay       time.Duration
	maxAttempts int
}

type Option func(*options)

// WithDelay schedules the job to become runnable after d.
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// Client is the Redis-backed job queue shared by the API (job
// submission) and the worker pool.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewClient(rdb *redis.Client, log zerolog.Logger) *Client {
	return &Client{rdb: rdb, log: log.With().Str("component", "queue").Logger()}
}

func queueKey(kind string) string { return queueKeyPrefix + kind }

// Enqueue submits a job of the given kind. The payload must marshal to
// JSON. Returns the job ID.
func (c *Client) Enqueue(ctx context.Context, kind string, payload interface{}, opts ...Option) (string, error) {
	o := options{maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		MaxAttempts: o.maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	if o.delay > 0 {
		score := float64(time.Now().Add(o.delay).UnixMilli())
		if err := c.rdb.ZAdd(ctx, delayedKey, &redis.Z{Score: score, Member: string(data)}).Err(); err != nil {
			return "", err
		}
	} else {
		if err := c.rdb.LPush(ctx, queueKey(kind), data).Err(); err != nil {
			return "", err
		}
	}

	c.log.Debug().
		Str("job_id", job.ID).
		Str("kind", kind).
		Dur("delay", o.delay).
		Msg("job enqueued")
	return job.ID, nil
}

// PromoteDelayed moves due delayed jobs onto their kind queues. Safe to
// call from many workers: ZRem decides which promoter wins a member.
func (c *Client) PromoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := c.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, m := range members {
		removed, err := c.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			c.log.Error().Err(err).Msg("dropping undecodable delayed job")
			continue
		}
		if err := c.rdb.LPush(ctx, queueKey(job.Kind), m).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// Pop blocks up to timeout for the next job of a kind. Returns nil when
// the queue stays empty.
func (c *Client) Pop(ctx context.Context, kind string, timeout time.Duration) (*Job, error) {
	res, err := c.rdb.BRPop(ctx, timeout, queueKey(kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// Retry reschedules a failed job with exponential backoff, moving it to
// the dead letter list once attempts are exhausted. Permanently failed
// jobs are surfaced in the log, never silently dropped.
func (c *Client) Retry(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	if job.Attempts >= job.MaxAttempts {
		c.log.Error().
			Err(cause).
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Int("attempts", job.Attempts).
			Msg("job permanently failed, moved to dead letter")
		return c.rdb.LPush(ctx, deadKey, data).Err()
	}

	backoff := time.Duration(1<<uint(job.Attempts-1)) * initialBackoff
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	c.log.Warn().
		Err(cause).
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempts).
		Dur("backoff", backoff).
		Msg("job failed, retrying")
	score := float64(time.Now().Add(backoff).UnixMilli())
	return c.rdb.ZAdd(ctx, delayedKey, &redis.Z{Score: score, Member: string(data)}).Err()
}

// QueueLen reports the pending depth of a kind queue.
func (c *Client) QueueLen(ctx context.Context, kind string) (int64, error) {
	return c.rdb.LLen(ctx, queueKey(kind)).Result()
}

// DeadCount reports the number of permanently failed jobs.
func (c *Client) DeadCount(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, deadKey).Result()
}
