package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lpr-session-service/internal/domain/lpr"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

const insertBatchSize = 500

// InsertEvents bulk-inserts events, silently dropping rows whose
// (zone, dedup_key) already exists. Returns the number actually
// inserted; re-ingesting the same rows is a no-op.
func (r *EventRepository) InsertEvents(ctx context.Context, events []*Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "zone"}, {Name: "dedup_key"}},
			DoNothing: true,
		}).
		CreateInBatches(events, insertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *EventRepository) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var evt Event
	err := r.db.WithContext(ctx).First(&evt, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: event %d", lpr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// OpenINs returns the zone's unpaired entries, oldest first.
func (r *EventRepository) OpenINs(ctx context.Context, zone string) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("zone = ? AND direction = ? AND status = ?", zone, lpr.DirectionIn, lpr.StatusOpen).
		Order("ts ASC").
		Find(&events).Error
	return events, err
}

// OrphanOUTs returns the zone's unpaired exits, oldest first.
func (r *EventRepository) OrphanOUTs(ctx context.Context, zone string) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("zone = ? AND direction = ? AND status = ?", zone, lpr.DirectionOut, lpr.StatusOrphanOpen).
		Order("ts ASC").
		Find(&events).Error
	return events, err
}

// ExactCandidates returns open INs with the given exact plate key in
// the pairing window [outTS-maxStay, outTS], most recent entry first.
func (r *EventRepository) ExactCandidates(ctx context.Context, zone, plateNorm string, outTS time.Time, maxStay time.Duration, limit int) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("zone = ? AND direction = ? AND status = ? AND plate_norm = ? AND ts <= ? AND ts >= ?",
			zone, lpr.DirectionIn, lpr.StatusOpen, plateNorm, outTS, outTS.Add(-maxStay)).
		Order("ts DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkPaired transitions an event to PAIRED, failing with
// ErrAlreadyPaired unless it is still OPEN or ORPHAN_OPEN. This is the
// guard that makes concurrent pairing attempts idempotent.
func (r *EventRepository) MarkPaired(ctx context.Context, eventID, sessionID int64) error {
	return markPaired(r.db.WithContext(ctx), eventID, sessionID)
}

func markPaired(tx *gorm.DB, eventID, sessionID int64) error {
	res := tx.Model(&Event{}).
		Where("id = ? AND status IN ?", eventID, []string{lpr.StatusOpen, lpr.StatusOrphanOpen}).
		Updates(map[string]interface{}{
			"status":     lpr.StatusPaired,
			"session_id": sessionID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: event %d", lpr.ErrAlreadyPaired, eventID)
	}
	return nil
}

// PairEvents commits a pairing atomically: the session insert and both
// status transitions happen in one transaction or not at all. A racing
// pairing of either event rolls the whole thing back.
func (r *EventRepository) PairEvents(ctx context.Context, entryID, exitID int64, sess *Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		if err := markPaired(tx, entryID, sess.ID); err != nil {
			return err
		}
		return markPaired(tx, exitID, sess.ID)
	})
}

// ExpireOpenINs transitions the zone's open INs older than cutoff to
// ORPHAN_EXPIRED. PAIRED and already-expired rows are untouched, as are
// OUT orphans, which have no horizon.
func (r *EventRepository) ExpireOpenINs(ctx context.Context, zone string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Event{}).
		Where("zone = ? AND direction = ? AND status = ? AND ts < ?",
			zone, lpr.DirectionIn, lpr.StatusOpen, cutoff).
		Update("status", lpr.StatusOrphanExpired)
	return res.RowsAffected, res.Error
}

// ActiveZones lists zones that still have unresolved events.
func (r *EventRepository) ActiveZones(ctx context.Context) ([]string, error) {
	var zones []string
	err := r.db.WithContext(ctx).Model(&Event{}).
		Distinct("zone").
		Where("status IN ?", []string{lpr.StatusOpen, lpr.StatusOrphanOpen}).
		Pluck("zone", &zones).Error
	return zones, err
}

// UnpairedOuts returns the upload's OUT events still awaiting pairing,
// used to enqueue pairing work after an ingest batch.
func (r *EventRepository) UnpairedOuts(ctx context.Context, uploadID string) ([]Event, error) {
	var events []Event
	err := r.db.WithContext(ctx).
		Where("upload_id = ? AND direction = ? AND status = ?", uploadID, lpr.DirectionOut, lpr.StatusOrphanOpen).
		Order("ts ASC").
		Find(&events).Error
	return events, err
}

// DeleteUploadEvents removes everything written under an aborted upload.
func (r *EventRepository) DeleteUploadEvents(ctx context.Context, uploadID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).Delete(&Event{})
	return res.RowsAffected, res.Error
}

// EventFilter narrows the event read path for external consumers.
type EventFilter struct {
	Zone      string
	PlateNorm string
	From      *time.Time
	To        *time.Time
	Status    string
	Limit     int
	Offset    int
}

func (r *EventRepository) FindEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := r.db.WithContext(ctx).Model(&Event{})
	if f.Zone != "" {
		query = query.Where("zone = ?", f.Zone)
	}
	if f.PlateNorm != "" {
		query = query.Where("plate_norm = ?", f.PlateNorm)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.From != nil {
		query = query.Where("ts >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("ts <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []Event
	err := query.Order("ts DESC").Limit(limit).Offset(f.Offset).Find(&events).Error
	return events, err
}

// FindOrphans returns unmatched events: ORPHAN_OPEN exits and expired
// entries, or one of the two when status is given.
func (r *EventRepository) FindOrphans(ctx context.Context, zone, status string, limit, offset int) ([]Event, error) {
	query := r.db.WithContext(ctx).Model(&Event{})
	if status != "" {
		query = query.Where("status = ?", status)
	} else {
		query = query.Where("status IN ?", []string{lpr.StatusOrphanOpen, lpr.StatusOrphanExpired})
	}
	if zone != "" {
		query = query.Where("zone = ?", zone)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []Event
	err := query.Order("ts DESC").Limit(limit).Offset(offset).Find(&events).Error
	return events, err
}

// SessionFilter narrows the session read path.
type SessionFilter struct {
	Zone      string
	MatchType string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func (r *EventRepository) FindSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	query := r.db.WithContext(ctx).Model(&Session{})
	if f.Zone != "" {
		query = query.Where("zone = ?", f.Zone)
	}
	if f.MatchType != "" {
		query = query.Where("match_type = ?", f.MatchType)
	}
	if f.From != nil {
		query = query.Where("entry_ts >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("entry_ts <= ?", *f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var sessions []Session
	err := query.Order("entry_ts DESC").Limit(limit).Offset(f.Offset).Find(&sessions).Error
	return sessions, err
}

func (r *EventRepository) GetSession(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	err := r.db.WithContext(ctx).First(&sess, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: session %d", lpr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
