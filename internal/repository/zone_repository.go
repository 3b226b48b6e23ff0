package repository

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"lpr-session-service/internal/domain/lpr"
)

type ZoneRepository struct {
	db       *gorm.DB
	defaults lpr.ZoneSettings
}

// NewZoneRepository builds a zone config lookup. Zones without a
// zone_config row fall back to defaults so ingesting a brand-new zone
// never stalls the pipeline.
func NewZoneRepository(db *gorm.DB, defaults lpr.ZoneSettings) *ZoneRepository {
	return &ZoneRepository{db: db, defaults: defaults}
}

func (r *ZoneRepository) Get(ctx context.Context, zoneID string) (lpr.ZoneSettings, error) {
	var cfg ZoneConfig
	err := r.db.WithContext(ctx).Where("zone_id = ?", zoneID).First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		settings := r.defaults
		settings.ZoneID = zoneID
		return settings, nil
	}
	if err != nil {
		return lpr.ZoneSettings{}, err
	}

	settings := lpr.ZoneSettings{
		ZoneID:           cfg.ZoneID,
		HorizonDays:      cfg.HorizonDays,
		FuzzyThreshold:   cfg.FuzzyThreshold,
		ReviewBelowScore: cfg.ReviewBelowScore,
		MaxStayHours:     cfg.MaxStayHours,
		Billing:          r.defaults.Billing,
	}
	if settings.HorizonDays <= 0 {
		settings.HorizonDays = r.defaults.HorizonDays
	}
	if settings.FuzzyThreshold <= 0 {
		settings.FuzzyThreshold = r.defaults.FuzzyThreshold
	}
	if settings.MaxStayHours <= 0 {
		settings.MaxStayHours = r.defaults.MaxStayHours
	}
	if len(cfg.Billing) > 0 {
		var rules lpr.BillingRules
		if err := json.Unmarshal(cfg.Billing, &rules); err != nil {
			// Corrupted zone config is a logic error: surface it rather
			// than billing with half-parsed rules.
			return lpr.ZoneSettings{}, err
		}
		settings.Billing = rules
	}
	return settings, nil
}

// Zones lists all configured zone IDs.
func (r *ZoneRepository) Zones(ctx context.Context) ([]ZoneConfig, error) {
	var zones []ZoneConfig
	err := r.db.WithContext(ctx).Order("zone_id ASC").Find(&zones).Error
	return zones, err
}

// Upsert writes a zone's configuration. Used by the admin surface and
// by tests; the matching pipeline itself only reads.
func (r *ZoneRepository) Upsert(ctx context.Context, cfg *ZoneConfig) error {
	return r.db.WithContext(ctx).Save(cfg).Error
}
