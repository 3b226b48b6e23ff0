package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"lpr-session-service/internal/domain/lpr"
	"lpr-session-service/internal/repository"
	"lpr-session-service/internal/scoring"
)

const (
	// Bounded join horizon: an OUT more than this far after an IN is
	// never a fuzzy candidate.
	fuzzyHorizon = 8 * 24 * time.Hour
	// Cap on scored candidate pairs per sweep.
	fuzzyMaxCandidates = 5000
)

// FuzzyService finds near-miss plate matches among unresolved events.
// It is deliberately conservative: a pairing commits only when the IN
// and the OUT are each other's sole qualifying candidate, because a
// false positive is worse than a missed match.
type FuzzyService struct {
	events  *repository.EventRepository
	zones   *repository.ZoneRepository
	pairing *PairingService
	scorer  scoring.Scorer
	log     zerolog.Logger
}

func NewFuzzyService(events *repository.EventRepository, zones *repository.ZoneRepository, pairing *PairingService, scorer scoring.Scorer, log zerolog.Logger) *FuzzyService {
	return &FuzzyService{
		events:  events,
		zones:   zones,
		pairing: pairing,
		scorer:  scorer,
		log:     log.With().Str("component", "fuzzy").Logger(),
	}
}

type fuzzyCandidate struct {
	in    repository.Event
	out   repository.Event
	score float64
}

// Sweep runs one fuzzy pass over a zone. minScore overrides the zone's
// configured threshold when > 0.
func (s *FuzzyService) Sweep(ctx context.Context, zone string, minScore float64) (*lpr.SweepReport, error) {
	settings, err := s.zones.Get(ctx, zone)
	if err != nil {
		return nil, err
	}
	threshold := settings.FuzzyThreshold
	if minScore > 0 {
		threshold = minScore
	}

	ins, err := s.events.OpenINs(ctx, zone)
	if err != nil {
		return nil, err
	}
	outs, err := s.events.OrphanOUTs(ctx, zone)
	if err != nil {
		return nil, err
	}

	report := &lpr.SweepReport{Zone: zone}

	// Candidate generation: zone-scoped join of open INs against orphan
	// OUTs, bounded by time horizon and the cheap trigram prefilter, so
	// only plausible pairs pay for scoring.
	var qualified []fuzzyCandidate
	for i := range ins {
		for j := range outs {
			in, out := &ins[i], &outs[j]
			if !out.TS.After(in.TS) {
				continue
			}
			if out.TS.Sub(in.TS) > fuzzyHorizon {
				continue
			}
			if !scoring.Prefilter(in.PlateNormFuzzy, out.PlateNormFuzzy) {
				continue
			}
			report.Candidates++
			if report.Candidates > fuzzyMaxCandidates {
				s.log.Warn().Str("zone", zone).Msg("candidate cap reached, truncating sweep")
				break
			}
			score := s.scorer.Score(in.PlateNorm, out.PlateNorm)
			if score < threshold {
				continue
			}
			qualified = append(qualified, fuzzyCandidate{in: *in, out: *out, score: score})
		}
	}
	report.Qualified = len(qualified)

	// Mutual uniqueness: group survivors by IN and by OUT, commit only
	// pairs that are the unique qualifying match in both directions.
	byIn := make(map[int64][]fuzzyCandidate)
	byOut := make(map[int64][]fuzzyCandidate)
	for _, c := range qualified {
		byIn[c.in.ID] = append(byIn[c.in.ID], c)
		byOut[c.out.ID] = append(byOut[c.out.ID], c)
	}

	for inID, outsForIn := range byIn {
		if len(outsForIn) != 1 {
			report.Ambiguous++
			s.log.Debug().
				Int64("entry_event_id", inID).
				Int("out_candidates", len(outsForIn)).
				Msg("ambiguous in both directions check, skipping")
			continue
		}
		c := outsForIn[0]
		if len(byOut[c.out.ID]) != 1 {
			report.Ambiguous++
			continue
		}

		sess, err := s.pairing.CommitPair(ctx, &c.in, &c.out, lpr.MatchFuzzyAccepted, "fuzzy_mutual_unique", c.score, settings)
		if err != nil {
			if errors.Is(err, lpr.ErrAlreadyPaired) {
				// Snapshot went stale under us; the commit-time
				// re-validation did its job.
				s.log.Debug().
					Int64("entry_event_id", c.in.ID).
					Int64("exit_event_id", c.out.ID).
					Msg("candidate resolved elsewhere during sweep")
				continue
			}
			return report, err
		}
		report.Committed++
		s.log.Info().
			Int64("session_id", sess.ID).
			Str("zone", zone).
			Str("in_plate", c.in.PlateNorm).
			Str("out_plate", c.out.PlateNorm).
			Float64("score", c.score).
			Msg("fuzzy pairing committed")
	}

	s.log.Info().
		Str("zone", zone).
		Int("candidates", report.Candidates).
		Int("qualified", report.Qualified).
		Int("committed", report.Committed).
		Int("ambiguous", report.Ambiguous).
		Msg("fuzzy sweep finished")
	return report, nil
}
