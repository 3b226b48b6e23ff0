package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lpr-session-service/internal/repository"
)

// ExpiryService reclassifies open INs older than their zone horizon as
// expired orphans. Expired entries are terminal and never reconsidered,
// which bounds the fuzzy engine's candidate growth and gives a
// definitive "this vehicle never exited" signal.
type ExpiryService struct {
	events *repository.EventRepository
	zones  *repository.ZoneRepository
	log    zerolog.Logger
}

func NewExpiryService(events *repository.EventRepository, zones *repository.ZoneRepository, log zerolog.Logger) *ExpiryService {
	return &ExpiryService{
		events: events,
		zones:  zones,
		log:    log.With().Str("component", "expiry").Logger(),
	}
}

// Run sweeps every zone that still has unresolved events. The caller is
// responsible for single-flighting; overlapping runs would contend on a
// large shared row set.
func (s *ExpiryService) Run(ctx context.Context) (int64, error) {
	zones, err := s.events.ActiveZones(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var total int64
	for _, zone := range zones {
		settings, err := s.zones.Get(ctx, zone)
		if err != nil {
			return total, err
		}
		cutoff := now.Add(-settings.Horizon())
		n, err := s.events.ExpireOpenINs(ctx, zone, cutoff)
		if err != nil {
			return total, err
		}
		if n > 0 {
			s.log.Info().
				Str("zone", zone).
				Int64("expired", n).
				Time("cutoff", cutoff).
				Msg("expired stale open entries")
		}
		total += n
	}
	return total, nil
}
