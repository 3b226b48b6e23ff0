package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"lpr-session-service/internal/domain/lpr"
	"lpr-session-service/internal/normalize"
	"lpr-session-service/internal/queue"
	"lpr-session-service/internal/repository"
)

// Enqueuer is the job submission surface the ingest path needs; the
// queue client satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload interface{}, opts ...queue.Option) (string, error)
}

// PartitionEnsurer creates the events partition for a month before a
// batch insert touches it. Optional; nil when the store handles
// placement itself (tests, default partition).
type PartitionEnsurer func(year int, month int) error

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// IngestService turns validated upload rows into deduplicated events
// and fans out the follow-up pairing and fuzzy-sweep work.
type IngestService struct {
	events     *repository.EventRepository
	uploads    *repository.UploadRepository
	jobs       Enqueuer
	partitions PartitionEnsurer
	fuzzyDelay time.Duration
	log        zerolog.Logger
}

func NewIngestService(
	events *repository.EventRepository,
	uploads *repository.UploadRepository,
	jobs Enqueuer,
	partitions PartitionEnsurer,
	fuzzyDelay time.Duration,
	log zerolog.Logger,
) *IngestService {
	return &IngestService{
		events:     events,
		uploads:    uploads,
		jobs:       jobs,
		partitions: partitions,
		fuzzyDelay: fuzzyDelay,
		log:        log.With().Str("component", "ingest").Logger(),
	}
}

// Submit registers an upload and queues its ingest job. Ingestion is
// asynchronous so the submission path stays fast.
func (s *IngestService) Submit(ctx context.Context, uploadID string, rows []lpr.EventRow) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("%w: no rows", lpr.ErrInvalidInput)
	}
	if uploadID == "" {
		uploadID = uuid.NewString()
	}
	if err := s.uploads.Create(ctx, &repository.Upload{ID: uploadID, RowsClaimed: len(rows)}); err != nil {
		return "", err
	}
	_, err := s.jobs.Enqueue(ctx, queue.KindIngest, queue.IngestPayload{UploadID: uploadID, Rows: rows})
	if err != nil {
		return "", err
	}
	s.log.Info().Str("upload_id", uploadID).Int("rows", len(rows)).Msg("upload submitted")
	return uploadID, nil
}

// Run processes one upload batch. Row-level validation failures are
// counted and reported, never fatal to the batch; only infrastructure
// failures return an error (and mark the upload ERROR for the retry).
func (s *IngestService) Run(ctx context.Context, uploadID string, rows []lpr.EventRow) (*lpr.IngestReport, error) {
	if err := s.uploads.SetStatus(ctx, uploadID, lpr.UploadProcessing); err != nil {
		return nil, err
	}

	report := &lpr.IngestReport{UploadID: uploadID, Received: len(rows)}
	batch := make([]*repository.Event, 0, len(rows))
	months := make(map[[2]int]struct{})
	zones := make(map[string]struct{})

	for i, row := range rows {
		evt, reason := s.buildEvent(row)
		if reason != "" {
			report.Errored++
			if len(report.Errors) < 50 {
				report.Errors = append(report.Errors, lpr.RowError{Line: i + 1, Reason: reason})
			}
			continue
		}
		evt.UploadID = uploadID
		batch = append(batch, evt)
		months[[2]int{evt.TS.Year(), int(evt.TS.Month())}] = struct{}{}
		zones[evt.Zone] = struct{}{}
	}

	if s.partitions != nil {
		for m := range months {
			if err := s.partitions(m[0], m[1]); err != nil {
				// Rows still land in the default partition.
				s.log.Warn().Err(err).Int("year", m[0]).Int("month", m[1]).Msg("partition creation failed")
			}
		}
	}

	inserted, err := s.events.InsertEvents(ctx, batch)
	if err != nil {
		if serr := s.uploads.SetStatus(ctx, uploadID, lpr.UploadError); serr != nil {
			s.log.Error().Err(serr).Str("upload_id", uploadID).Msg("failed to mark upload errored")
		}
		return nil, err
	}
	report.Inserted = int(inserted)
	report.Duplicates = len(batch) - report.Inserted

	// Queue each unresolved OUT for exact pairing.
	outs, err := s.events.UnpairedOuts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if _, err := s.jobs.Enqueue(ctx, queue.KindPair, queue.PairPayload{EventID: out.ID}); err != nil {
			return nil, err
		}
	}

	// Delayed zone sweeps let exact pairing drain first.
	for zone := range zones {
		if _, err := s.jobs.Enqueue(ctx, queue.KindFuzzy, queue.FuzzyPayload{Zone: zone}, queue.WithDelay(s.fuzzyDelay)); err != nil {
			return nil, err
		}
	}

	if err := s.uploads.RecordCounts(ctx, uploadID, len(rows), report.Inserted, report.Duplicates, report.Errored); err != nil {
		return nil, err
	}
	if err := s.uploads.SetStatus(ctx, uploadID, lpr.UploadCompleted); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("upload_id", uploadID).
		Int("received", report.Received).
		Int("inserted", report.Inserted).
		Int("duplicates", report.Duplicates).
		Int("errored", report.Errored).
		Msg("ingest batch finished")
	return report, nil
}

// Cancel aborts an upload: events already written under it are removed
// and the upload is marked CANCELLED.
func (s *IngestService) Cancel(ctx context.Context, uploadID string) error {
	if _, err := s.uploads.Get(ctx, uploadID); err != nil {
		return err
	}
	deleted, err := s.events.DeleteUploadEvents(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := s.uploads.SetStatus(ctx, uploadID, lpr.UploadCancelled); err != nil {
		return err
	}
	s.log.Info().Str("upload_id", uploadID).Int64("deleted_events", deleted).Msg("upload cancelled")
	return nil
}

// Upload returns one upload's current state.
func (s *IngestService) Upload(ctx context.Context, uploadID string) (*repository.Upload, error) {
	return s.uploads.Get(ctx, uploadID)
}

// Commit finalizes an upload once its batch has been processed.
func (s *IngestService) Commit(ctx context.Context, uploadID string) (*repository.Upload, error) {
	upload, err := s.uploads.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	switch upload.Status {
	case lpr.UploadProcessing, lpr.UploadCompleted, lpr.UploadPending:
		if err := s.uploads.SetStatus(ctx, uploadID, lpr.UploadCompleted); err != nil {
			return nil, err
		}
		upload.Status = lpr.UploadCompleted
		return upload, nil
	default:
		return nil, fmt.Errorf("%w: upload %s is %s", lpr.ErrInvalidInput, uploadID, upload.Status)
	}
}

func (s *IngestService) buildEvent(row lpr.EventRow) (*repository.Event, string) {
	ts, ok := parseTimestamp(row.TS)
	if !ok {
		return nil, "invalid timestamp"
	}
	direction := strings.ToUpper(strings.TrimSpace(row.Direction))
	if direction != lpr.DirectionIn && direction != lpr.DirectionOut {
		return nil, "direction must be IN or OUT"
	}
	zone := strings.TrimSpace(row.Zone)
	if zone == "" {
		return nil, "zone is required"
	}
	plateNorm := normalize.Plate(row.PlateRaw)
	if plateNorm == "" {
		return nil, "plate empty after normalization"
	}
	stateNorm := normalize.State(row.StateRaw)

	status := lpr.StatusOpen
	if direction == lpr.DirectionOut {
		status = lpr.StatusOrphanOpen
	}

	evt := &repository.Event{
		TS:             ts,
		Zone:           zone,
		Direction:      direction,
		PlateRaw:       row.PlateRaw,
		PlateNorm:      plateNorm,
		PlateNormFuzzy: normalize.PlateFuzzy(row.PlateRaw),
		StateRaw:       row.StateRaw,
		StateNorm:      stateNorm,
		CameraID:       row.CameraID,
		Quality:        row.Quality,
		DedupKey:       normalize.DedupKey(zone, row.CameraID, direction, ts, plateNorm, stateNorm),
		Status:         status,
	}
	if len(row.Raw) > 0 {
		if raw, err := json.Marshal(row.Raw); err == nil {
			evt.Raw = datatypes.JSON(raw)
		}
	}
	return evt, ""
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
