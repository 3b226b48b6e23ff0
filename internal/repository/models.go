package repository

import (
	"time"

	"gorm.io/datatypes"
)

// Event is one raw camera observation. Status is the authoritative
// lifecycle field; dedup_key enforces at-most-once ingestion per
// logical event via the (zone, dedup_key) unique index.
type Event struct {
	ID             int64     `gorm:"primaryKey"`
	TS             time.Time `gorm:"column:ts;not null;index:idx_events_zone_status_ts,priority:3"`
	Zone           string    `gorm:"not null;uniqueIndex:ux_events_zone_dedup,priority:1;index:idx_events_zone_status_ts,priority:1"`
	Direction      string    `gorm:"not null"`
	PlateRaw       string    `gorm:"not null"`
	PlateNorm      string    `gorm:"not null;index"`
	PlateNormFuzzy string    `gorm:"not null;index"`
	StateRaw       string
	StateNorm      string
	CameraID       string
	Quality        float64
	UploadID       string `gorm:"index"`
	DedupKey       string `gorm:"not null;uniqueIndex:ux_events_zone_dedup,priority:2"`
	Status         string `gorm:"not null;index:idx_events_zone_status_ts,priority:2"`
	SessionID      *int64
	Raw            datatypes.JSON
	CreatedAt      time.Time
}

// Session is a matched entry/exit pair. Immutable once written; the
// unique indexes on the event references guarantee an event belongs to
// at most one session.
type Session struct {
	ID              int64  `gorm:"primaryKey"`
	Zone            string `gorm:"not null;index"`
	EntryEventID    int64  `gorm:"not null;uniqueIndex"`
	ExitEventID     int64  `gorm:"not null;uniqueIndex"`
	PlateNorm       string `gorm:"not null;index"`
	StateEntry      string
	StateExit       string
	EntryTS         time.Time `gorm:"column:entry_ts;not null"`
	ExitTS          time.Time `gorm:"column:exit_ts;not null"`
	DurationMinutes int64     `gorm:"not null"`
	MatchType       string    `gorm:"not null;index"`
	MatchMethod     string
	Confidence      float64
	BillingCents    int64
	Flags           datatypes.JSON
	CreatedAt       time.Time
}

// Upload tracks one ingest batch through its lifecycle.
type Upload struct {
	ID            string `gorm:"primaryKey"`
	Status        string `gorm:"not null"`
	RowsClaimed   int
	RowsLoaded    int
	RowsDuplicate int
	RowsErrored   int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// ZoneConfig is admin-managed matching configuration, read-only to the
// pairing pipeline.
type ZoneConfig struct {
	ZoneID           string `gorm:"primaryKey;column:zone_id"`
	HorizonDays      int
	FuzzyThreshold   float64
	ReviewBelowScore float64
	MaxStayHours     int
	Billing          datatypes.JSON
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ZoneConfig) TableName() string { return "zone_config" }
