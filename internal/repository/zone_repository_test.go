package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"lpr-session-service/internal/domain/lpr"
)

var testDefaults = lpr.ZoneSettings{
	HorizonDays:      7,
	FuzzyThreshold:   0.95,
	ReviewBelowScore: 0.97,
	MaxStayHours:     24,
	Billing: lpr.BillingRules{
		FreeMinutes:   15,
		HourlyCents:   300,
		DailyMaxCents: 2500,
	},
}

func TestZoneGetFallsBackToDefaults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewZoneRepository(db, testDefaults)

	settings, err := repo.Get(context.Background(), "UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", settings.ZoneID)
	assert.Equal(t, 7, settings.HorizonDays)
	assert.Equal(t, 0.95, settings.FuzzyThreshold)
	assert.Equal(t, 24, settings.MaxStayHours)
}

func TestZoneGetConfigured(t *testing.T) {
	db := setupTestDB(t)
	repo := NewZoneRepository(db, testDefaults)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ZoneConfig{
		ZoneID:           "GARAGE_A",
		HorizonDays:      2,
		FuzzyThreshold:   0.9,
		ReviewBelowScore: 0.93,
		MaxStayHours:     48,
		Billing:          datatypes.JSON([]byte(`{"free_minutes":30,"hourly_cents":200,"daily_max_cents":1800}`)),
	}))

	settings, err := repo.Get(ctx, "GARAGE_A")
	require.NoError(t, err)
	assert.Equal(t, 2, settings.HorizonDays)
	assert.Equal(t, 0.9, settings.FuzzyThreshold)
	assert.Equal(t, 48, settings.MaxStayHours)
	assert.Equal(t, 30, settings.Billing.FreeMinutes)
	assert.Equal(t, int64(200), settings.Billing.HourlyCents)
}

func TestZoneGetCorruptBillingSurfaces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewZoneRepository(db, testDefaults)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ZoneConfig{
		ZoneID:  "BROKEN",
		Billing: datatypes.JSON([]byte(`{not json`)),
	}))

	_, err := repo.Get(ctx, "BROKEN")
	assert.Error(t, err)
}

func TestZoneGetZeroFieldsUseDefaults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewZoneRepository(db, testDefaults)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &ZoneConfig{ZoneID: "SPARSE", FuzzyThreshold: 0.9}))

	settings, err := repo.Get(ctx, "SPARSE")
	require.NoError(t, err)
	assert.Equal(t, 0.9, settings.FuzzyThreshold)
	assert.Equal(t, testDefaults.HorizonDays, settings.HorizonDays)
	assert.Equal(t, testDefaults.MaxStayHours, settings.MaxStayHours)
}
