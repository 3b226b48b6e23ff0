package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"lpr-session-service/internal/domain/lpr"
	"lpr-session-service/internal/repository"
)

const exactCandidateLimit = 5

// PairingService resolves OUT events against open INs: deterministic
// exact-key matching first, and the shared atomic commit path that the
// fuzzy engine reuses.
type PairingService struct {
	events *repository.EventRepository
	zones  *repository.ZoneRepository
	log    zerolog.Logger
}

func NewPairingService(events *repository.EventRepository, zones *repository.ZoneRepository, log zerolog.Logger) *PairingService {
	return &PairingService{
		events: events,
		zones:  zones,
		log:    log.With().Str("component", "pairing").Logger(),
	}
}

// PairOut runs one exact pairing attempt for an OUT event. Benign
// outcomes — no candidate, already resolved, lost race — return nil so
// the job completes; only infrastructure failures are returned for
// retry.
func (s *PairingService) PairOut(ctx context.Context, eventID int64) error {
	out, err := s.events.GetEvent(ctx, eventID)
	if errors.Is(err, lpr.ErrNotFound) {
		// The event was removed, e.g. its upload got cancelled.
		s.log.Warn().Int64("event_id", eventID).Msg("pairing target no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if out.Direction != lpr.DirectionOut {
		return fmt.Errorf("%w: event %d is not an OUT event", lpr.ErrInvalidInput, eventID)
	}
	if out.Status != lpr.StatusOrphanOpen {
		s.log.Debug().Int64("event_id", eventID).Str("status", out.Status).Msg("out already resolved")
		return nil
	}

	settings, err := s.zones.Get(ctx, out.Zone)
	if err != nil {
		return err
	}

	candidates, err := s.events.ExactCandidates(ctx, out.Zone, out.PlateNorm, out.TS, settings.MaxStay(), exactCandidateLimit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.log.Debug().
			Int64("event_id", eventID).
			Str("plate", out.PlateNorm).
			Str("zone", out.Zone).
			Msg("no exact candidate, out stays orphan")
		return nil
	}
	if len(candidates) > 1 {
		s.log.Info().
			Int64("event_id", eventID).
			Str("plate", out.PlateNorm).
			Str("zone", out.Zone).
			Int("candidates", len(candidates)).
			Msg("multiple exact candidates, taking nearest prior entry")
	}

	in := candidates[0]
	if !out.TS.After(in.TS) {
		// Same-minute clock collision; a session needs entry strictly
		// before exit.
		s.log.Debug().Int64("event_id", eventID).Msg("candidate entry not strictly before exit")
		return nil
	}

	matchType := lpr.MatchExact
	if in.StateNorm != "" && out.StateNorm != "" && in.StateNorm != out.StateNorm {
		matchType = lpr.MatchStateMismatch
	}

	sess := s.buildSession(&in, out, matchType, "exact_plate", 1.0, settings)
	if err := s.events.PairEvents(ctx, in.ID, out.ID, sess); err != nil {
		if errors.Is(err, lpr.ErrAlreadyPaired) {
			s.log.Debug().Int64("event_id", eventID).Msg("lost pairing race, skipping")
			return nil
		}
		return err
	}

	s.log.Info().
		Int64("session_id", sess.ID).
		Int64("entry_event_id", in.ID).
		Int64("exit_event_id", out.ID).
		Str("zone", out.Zone).
		Str("plate", out.PlateNorm).
		Str("match_type", matchType).
		Int64("duration_minutes", sess.DurationMinutes).
		Msg("session created")
	return nil
}

// CommitPair is the shared atomic pairing routine. The guarded status
// transition inside PairEvents re-validates both events at commit time,
// which is how fuzzy sweeps tolerate working from a stale snapshot.
func (s *PairingService) CommitPair(ctx context.Context, in, out *repository.Event, matchType, method string, confidence float64, settings lpr.ZoneSettings) (*repository.Session, error) {
	sess := s.buildSession(in, out, matchType, method, confidence, settings)
	if err := s.events.PairEvents(ctx, in.ID, out.ID, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *PairingService) buildSession(in, out *repository.Event, matchType, method string, confidence float64, settings lpr.ZoneSettings) *repository.Session {
	duration := out.TS.Sub(in.TS)

	flags := sessionFlags(in.TS, out.TS)
	if matchType == lpr.MatchFuzzyAccepted && confidence < settings.ReviewBelowScore {
		flags = append(flags, lpr.FlagReview)
	}
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, _ := json.Marshal(flags)

	return &repository.Session{
		Zone:            out.Zone,
		EntryEventID:    in.ID,
		ExitEventID:     out.ID,
		PlateNorm:       out.PlateNorm,
		StateEntry:      in.StateNorm,
		StateExit:       out.StateNorm,
		EntryTS:         in.TS,
		ExitTS:          out.TS,
		DurationMinutes: int64(duration.Minutes()),
		MatchType:       matchType,
		MatchMethod:     method,
		Confidence:      confidence,
		BillingCents:    computeBillingCents(duration, settings.Billing),
		Flags:           flagsJSON,
	}
}
