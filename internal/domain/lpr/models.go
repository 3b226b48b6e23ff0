package lpr

import (
	"errors"
	"time"
)

// Event lifecycle statuses. Status only ever moves forward:
// OPEN/ORPHAN_OPEN -> PAIRED, OPEN -> ORPHAN_EXPIRED.
const (
	StatusOpen          = "OPEN"
	StatusPaired        = "PAIRED"
	StatusOrphanOpen    = "ORPHAN_OPEN"
	StatusOrphanExpired = "ORPHAN_EXPIRED"
)

const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

const (
	MatchExact         = "EXACT"
	MatchStateMismatch = "STATE_MISMATCH"
	MatchFuzzyAccepted = "FUZZY_ACCEPTED"
)

// Session flags.
const (
	FlagOvernight = "OVERNIGHT"
	FlagMultiday  = "MULTIDAY"
	FlagReview    = "REVIEW"
)

// Upload statuses.
const (
	UploadPending    = "PENDING"
	UploadProcessing = "PROCESSING"
	UploadCompleted  = "COMPLETED"
	UploadCancelled  = "CANCELLED"
	UploadError      = "ERROR"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyPaired = errors.New("event already paired")
	ErrDuplicate     = errors.New("duplicate event")
)

// EventRow is one normalized ingestion record as handed over by the
// upload pipeline (post CSV-mapping). The core owns normalization and
// dedup from this point on.
type EventRow struct {
	TS       string                 `json:"ts"`
	Zone     string                 `json:"zone"`
	Direction string                `json:"direction"`
	PlateRaw string                 `json:"plate_raw"`
	StateRaw string                 `json:"state_raw"`
	CameraID string                 `json:"camera_id"`
	Quality  float64                `json:"quality"`
	Raw      map[string]interface{} `json:"raw,omitempty"`
}

// RowError records a single skipped ingest row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// IngestReport summarizes one ingest batch. Row-level failures never
// fail the batch; they are counted here.
type IngestReport struct {
	UploadID   string     `json:"upload_id"`
	Received   int        `json:"received"`
	Inserted   int        `json:"inserted"`
	Duplicates int        `json:"duplicates"`
	Errored    int        `json:"errored"`
	Errors     []RowError `json:"errors,omitempty"`
}

// SweepReport summarizes one fuzzy sweep over a zone.
type SweepReport struct {
	Zone       string `json:"zone"`
	Candidates int    `json:"candidates"`
	Qualified  int    `json:"qualified"`
	Committed  int    `json:"committed"`
	Ambiguous  int    `json:"ambiguous"`
}

// BillingRules is the per-zone tariff, stored as JSON on zone_config.
type BillingRules struct {
	FreeMinutes   int   `json:"free_minutes"`
	HourlyCents   int64 `json:"hourly_cents"`
	DailyMaxCents int64 `json:"daily_max_cents"`
}

// ZoneSettings is the read-only matching configuration for a zone.
// Owned by admin configuration; the pairing pipeline never mutates it.
type ZoneSettings struct {
	ZoneID              string
	HorizonDays         int
	FuzzyThreshold      float64
	ReviewBelowScore    float64
	MaxStayHours        int
	Billing             BillingRules
}

// Horizon returns the maximum age an open IN may reach before expiry.
func (z ZoneSettings) Horizon() time.Duration {
	return time.Duration(z.HorizonDays) * 24 * time.Hour
}

// MaxStay returns the exact-pairing lookback window.
func (z ZoneSettings) MaxStay() time.Duration {
	return time.Duration(z.MaxStayHours) * time.Hour
}
