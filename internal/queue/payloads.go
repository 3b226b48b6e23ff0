package queue

import "lpr-session-service/internal/domain/lpr"

// IngestPayload carries one upload batch into the ingest job.
type IngestPayload struct {
	UploadID string         `json:"upload_id"`
	Rows     []lpr.EventRow `json:"rows"`
}

// PairPayload identifies the OUT event to pair.
type PairPayload struct {
	EventID int64 `json:"event_id"`
}

// FuzzyPayload scopes a fuzzy sweep. MinScore 0 means use the zone's
// configured threshold.
type FuzzyPayload struct {
	Zone     string  `json:"zone"`
	MinScore float64 `json:"min_score,omitempty"`
}
