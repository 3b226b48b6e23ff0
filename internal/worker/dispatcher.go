package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lpr-session-service/internal/queue"
	"lpr-session-service/internal/service"
)

const (
	fuzzyLockTTL   = 2 * time.Minute
	expireLockTTL  = 5 * time.Minute
	fuzzyLockRetry = 2 * time.Second
)

// Limits are the per-kind worker knobs.
type Limits struct {
	IngestConcurrency int
	PairConcurrency   int
	PairRatePerSec    int
	FuzzyConcurrency  int
	FuzzyRatePerSec   int
}

// Dispatcher adapts the pipeline services to queue job handlers.
type Dispatcher struct {
	jobs   *queue.Client
	ingest *service.IngestService
	pair   *service.PairingService
	fuzzy  *service.FuzzyService
	expiry *service.ExpiryService
	log    zerolog.Logger
}

func NewDispatcher(
	jobs *queue.Client,
	ingest *service.IngestService,
	pair *service.PairingService,
	fuzzy *service.FuzzyService,
	expiry *service.ExpiryService,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		jobs:   jobs,
		ingest: ingest,
		pair:   pair,
		fuzzy:  fuzzy,
		expiry: expiry,
		log:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// RegisterAll wires every job kind into the pool. Ingest is serialized
// to keep batch inserts from contending; pairing fans out wide since
// each job touches a handful of rows.
func (d *Dispatcher) RegisterAll(pool *Pool, limits Limits) {
	pool.Register(queue.KindIngest, d.handleIngest, limits.IngestConcurrency, 0)
	pool.Register(queue.KindPair, d.handlePair, limits.PairConcurrency, limits.PairRatePerSec)
	pool.Register(queue.KindFuzzy, d.handleFuzzy, limits.FuzzyConcurrency, limits.FuzzyRatePerSec)
	pool.Register(queue.KindExpire, d.handleExpire, 1, 0)
}

func (d *Dispatcher) handleIngest(ctx context.Context, job *queue.Job) error {
	var payload queue.IngestPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	_, err := d.ingest.Run(ctx, payload.UploadID, payload.Rows)
	return err
}

func (d *Dispatcher) handlePair(ctx context.Context, job *queue.Job) error {
	var payload queue.PairPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	return d.pair.PairOut(ctx, payload.EventID)
}

// handleFuzzy single-flights sweeps per zone. A sweep finding the zone
// locked reschedules itself instead of running a redundant concurrent
// pass over the same candidate set.
func (d *Dispatcher) handleFuzzy(ctx context.Context, job *queue.Job) error {
	var payload queue.FuzzyPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	release, ok, err := d.jobs.AcquireLock(ctx, "fuzzy:"+payload.Zone, fuzzyLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		d.log.Debug().Str("zone", payload.Zone).Msg("fuzzy sweep already running, rescheduling")
		_, err := d.jobs.Enqueue(ctx, queue.KindFuzzy, payload, queue.WithDelay(fuzzyLockRetry))
		return err
	}
	defer release()

	_, err = d.fuzzy.Sweep(ctx, payload.Zone, payload.MinScore)
	return err
}

// handleExpire single-flights globally; a held lock means another
// worker is already sweeping, so this run is simply dropped.
func (d *Dispatcher) handleExpire(ctx context.Context, job *queue.Job) error {
	release, ok, err := d.jobs.AcquireLock(ctx, "expire", expireLockTTL)
	if err != nil {
		return err
	}
	if !ok {
		d.log.Debug().Msg("expiry sweep already running, skipping")
		return nil
	}
	defer release()

	_, err = d.expiry.Run(ctx)
	return err
}
