package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lpr-session-service/internal/queue"
)

const (
	popTimeout      = 2 * time.Second
	promoteInterval = time.Second
)

// Handler processes one job. A returned error sends the job through the
// queue's retry/backoff path.
type Handler func(ctx context.Context, job *queue.Job) error

type kindConfig struct {
	handler     Handler
	concurrency int
	ratePerSec  int
}

// Pool runs registered handlers against the job queue with per-kind
// concurrency and rate limits. One goroutine per unit of concurrency,
// all kinds sharing a token-bucket-per-kind rate gate.
type Pool struct {
	jobs  *queue.Client
	log   zerolog.Logger
	kinds map[string]kindConfig

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(jobs *queue.Client, log zerolog.Logger) *Pool {
	return &Pool{
		jobs:  jobs,
		log:   log.With().Str("component", "worker").Logger(),
		kinds: make(map[string]kindConfig),
	}
}

// Register binds a handler to a job kind. concurrency is the number of
// parallel consumers; ratePerSec <= 0 means unlimited.
func (p *Pool) Register(kind string, h Handler, concurrency, ratePerSec int) {
	if concurrency < 1 {
		concurrency = 1
	}
	p.kinds[kind] = kindConfig{handler: h, concurrency: concurrency, ratePerSec: ratePerSec}
}

// Start launches the consumers and the delayed-job promoter. Stop with
// Shutdown.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.promoteLoop(ctx)

	for kind, cfg := range p.kinds {
		var gate <-chan time.Time
		if cfg.ratePerSec > 0 {
			ticker := time.NewTicker(time.Second / time.Duration(cfg.ratePerSec))
			gate = ticker.C
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				<-ctx.Done()
				ticker.Stop()
			}()
		}
		for i := 0; i < cfg.concurrency; i++ {
			p.wg.Add(1)
			go p.consume(ctx, kind, cfg, gate)
		}
		p.log.Info().
			Str("kind", kind).
			Int("concurrency", cfg.concurrency).
			Int("rate_per_sec", cfg.ratePerSec).
			Msg("worker kind registered")
	}
}

// Shutdown stops the pool and waits for in-flight jobs to finish.
func (p *Pool) Shutdown() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) promoteLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.jobs.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("promoting delayed jobs failed")
			}
		}
	}
}

func (p *Pool) consume(ctx context.Context, kind string, cfg kindConfig, gate <-chan time.Time) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.jobs.Pop(ctx, kind, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error().Err(err).Str("kind", kind).Msg("popping job failed")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if gate != nil {
			select {
			case <-ctx.Done():
				// Shutting down with the job popped: push it back through
				// the retry path rather than losing it.
				p.requeue(job)
				return
			case <-gate:
			}
		}

		start := time.Now()
		if err := cfg.handler(ctx, job); err != nil {
			if rerr := p.jobs.Retry(context.Background(), job, err); rerr != nil {
				p.log.Error().Err(rerr).Str("job_id", job.ID).Msg("retry scheduling failed")
			}
			continue
		}
		p.log.Debug().
			Str("job_id", job.ID).
			Str("kind", kind).
			Dur("took", time.Since(start)).
			Msg("job done")
	}
}

func (p *Pool) requeue(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.jobs.Enqueue(ctx, job.Kind, job.Payload); err != nil {
		p.log.Error().Err(err).Str("job_id", job.ID).Msg("requeue on shutdown failed")
	}
}
