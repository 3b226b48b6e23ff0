package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lpr-session-service/internal/domain/lpr"
	"lpr-session-service/internal/normalize"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Event{}, &Session{}, &Upload{}, &ZoneConfig{}))
	return db
}

func makeEvent(zone, direction, plate, state, camera string, ts time.Time) *Event {
	plateNorm := normalize.Plate(plate)
	stateNorm := normalize.State(state)
	status := lpr.StatusOpen
	if direction == lpr.DirectionOut {
		status = lpr.StatusOrphanOpen
	}
	return &Event{
		TS:             ts,
		Zone:           zone,
		Direction:      direction,
		PlateRaw:       plate,
		PlateNorm:      plateNorm,
		PlateNormFuzzy: normalize.PlateFuzzy(plate),
		StateRaw:       state,
		StateNorm:      stateNorm,
		CameraID:       camera,
		DedupKey:       normalize.DedupKey(zone, camera, direction, ts, plateNorm, stateNorm),
		Status:         status,
	}
}

func TestInsertEventsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := []*Event{
		makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", ts),
		makeEvent("Z1", lpr.DirectionOut, "ABC123", "TN", "CAM2", ts.Add(time.Hour)),
	}

	n, err := repo.InsertEvents(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Re-ingesting the same logical rows inserts nothing and errors nothing.
	again := []*Event{
		makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", ts),
		makeEvent("Z1", lpr.DirectionOut, "ABC123", "TN", "CAM2", ts.Add(time.Hour)),
	}
	n, err = repo.InsertEvents(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	var count int64
	require.NoError(t, db.Model(&Event{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestInsertEventsSameKeyDifferentZone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	n, err := repo.InsertEvents(ctx, []*Event{
		makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", ts),
		makeEvent("Z2", lpr.DirectionIn, "ABC123", "TN", "CAM1", ts),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestExactCandidatesWindowAndOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	old := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base)                  // outside max stay
	early := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base.Add(30*time.Hour))
	late := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base.Add(32*time.Hour))
	future := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base.Add(40*time.Hour)) // after the OUT
	otherPlate := makeEvent("Z1", lpr.DirectionIn, "XYZ789", "TN", "CAM1", base.Add(31*time.Hour))

	_, err := repo.InsertEvents(ctx, []*Event{old, early, late, future, otherPlate})
	require.NoError(t, err)

	outTS := base.Add(34 * time.Hour)
	candidates, err := repo.ExactCandidates(ctx, "Z1", "ABC123", outTS, 24*time.Hour, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	// Most recent prior entry first.
	assert.Equal(t, late.ID, candidates[0].ID)
	assert.Equal(t, early.ID, candidates[1].ID)
}

func TestMarkPairedGuard(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	evt := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", time.Now().UTC())
	_, err := repo.InsertEvents(ctx, []*Event{evt})
	require.NoError(t, err)

	require.NoError(t, repo.MarkPaired(ctx, evt.ID, 42))

	// Second attempt hits the guard.
	err = repo.MarkPaired(ctx, evt.ID, 43)
	assert.ErrorIs(t, err, lpr.ErrAlreadyPaired)

	got, err := repo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, lpr.StatusPaired, got.Status)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, int64(42), *got.SessionID)
}

func TestPairEventsAtomic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base)
	out := makeEvent("Z1", lpr.DirectionOut, "ABC123", "TN", "CAM2", base.Add(time.Hour))
	_, err := repo.InsertEvents(ctx, []*Event{in, out})
	require.NoError(t, err)

	sess := &Session{
		Zone:            "Z1",
		EntryEventID:    in.ID,
		ExitEventID:     out.ID,
		PlateNorm:       "ABC123",
		EntryTS:         in.TS,
		ExitTS:          out.TS,
		DurationMinutes: 60,
		MatchType:       lpr.MatchExact,
	}
	require.NoError(t, repo.PairEvents(ctx, in.ID, out.ID, sess))
	assert.NotZero(t, sess.ID)

	gotIn, _ := repo.GetEvent(ctx, in.ID)
	gotOut, _ := repo.GetEvent(ctx, out.ID)
	assert.Equal(t, lpr.StatusPaired, gotIn.Status)
	assert.Equal(t, lpr.StatusPaired, gotOut.Status)
	require.NotNil(t, gotIn.SessionID)
	assert.Equal(t, sess.ID, *gotIn.SessionID)
}

func TestPairEventsRollsBackOnConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := makeEvent("Z1", lpr.DirectionIn, "ABC123", "TN", "CAM1", base)
	out := makeEvent("Z1", lpr.DirectionOut, "ABC123", "TN", "CAM2", base.Add(time.Hour))
	_, err := repo.InsertEvents(ctx, []*Event{in, out})
	require.NoError(t, err)

	// Another worker already claimed the OUT.
	require.NoError(t, repo.MarkPaired(ctx, out.ID, 99))

	sess := &Session{
		Zone:         "Z1",
		EntryEventID: in.ID,
		ExitEventID:  out.ID,
		PlateNorm:    "ABC123",
		EntryTS:      in.TS,
		ExitTS:       out.TS,
		MatchType:    lpr.MatchExact,
	}
	err = repo.PairEvents(ctx, in.ID, out.ID, sess)
	assert.ErrorIs(t, err, lpr.ErrAlreadyPaired)

	// Nothing stuck: the IN is still open and no session row exists.
	gotIn, _ := repo.GetEvent(ctx, in.ID)
	assert.Equal(t, lpr.StatusOpen, gotIn.Status)
	var count int64
	require.NoError(t, db.Model(&Session{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestExpireOpenINs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	stale := makeEvent("Z1", lpr.DirectionIn, "AAA111", "TN", "CAM1", now.Add(-72*time.Hour))
	fresh := makeEvent("Z1", lpr.DirectionIn, "BBB222", "TN", "CAM1", now.Add(-2*time.Hour))
	staleOut := makeEvent("Z1", lpr.DirectionOut, "CCC333", "TN", "CAM2", now.Add(-72*time.Hour))
	_, err := repo.InsertEvents(ctx, []*Event{stale, fresh, staleOut})
	require.NoError(t, err)

	n, err := repo.ExpireOpenINs(ctx, "Z1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gotStale, _ := repo.GetEvent(ctx, stale.ID)
	gotFresh, _ := repo.GetEvent(ctx, fresh.ID)
	gotOut, _ := repo.GetEvent(ctx, staleOut.ID)
	assert.Equal(t, lpr.StatusOrphanExpired, gotStale.Status)
	assert.Equal(t, lpr.StatusOpen, gotFresh.Status)
	// Exits never expire: there is no "too late" for an observed exit.
	assert.Equal(t, lpr.StatusOrphanOpen, gotOut.Status)

	// Expiry never reverses: a second sweep touches nothing.
	n, err = repo.ExpireOpenINs(ctx, "Z1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n) // only fresh crossed the new cutoff
	gotStale, _ = repo.GetEvent(ctx, stale.ID)
	assert.Equal(t, lpr.StatusOrphanExpired, gotStale.Status)
}

func TestDeleteUploadEvents(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ts := time.Now().UTC()
	a := makeEvent("Z1", lpr.DirectionIn, "AAA111", "TN", "CAM1", ts)
	a.UploadID = "upload-1"
	b := makeEvent("Z1", lpr.DirectionIn, "BBB222", "TN", "CAM1", ts)
	b.UploadID = "upload-2"
	_, err := repo.InsertEvents(ctx, []*Event{a, b})
	require.NoError(t, err)

	n, err := repo.DeleteUploadEvents(ctx, "upload-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetEvent(ctx, a.ID)
	assert.True(t, errors.Is(err, lpr.ErrNotFound))
}

func TestActiveZones(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()

	ts := time.Now().UTC()
	_, err := repo.InsertEvents(ctx, []*Event{
		makeEvent("Z1", lpr.DirectionIn, "AAA111", "TN", "CAM1", ts),
		makeEvent("Z2", lpr.DirectionOut, "BBB222", "TN", "CAM1", ts),
	})
	require.NoError(t, err)

	zones, err := repo.ActiveZones(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Z1", "Z2"}, zones)
}
