package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/cache"
	"classvote.org/internal/obs"
	"classvote.org/internal/stream"
)

// ResultsCache holds the rendered results of published elections, which
// can no longer change.
type ResultsCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func resultsKey(electionID string) string { return "results:" + electionID }

// CalculateResults tallies both ledgers. A unique winner completes and
// publishes the election; a tie or an empty ballot is reported and leaves
// the status unchanged.
func (s *Service) CalculateResults(ctx context.Context, p auth.Principal, electionID string) (Tally, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return Tally{}, err
	}
	if e.Status != StatusActive && e.Status != StatusCompleted {
		return Tally{}, fmt.Errorf("%w: results need an active or completed election", ErrInvalidTransition)
	}
	from := e.Status
	t, e, err := s.settle(ctx, e, func(t Tally, r Results, now time.Time) (Status, Results) {
		if t.WinnerID == "" {
			return from, r
		}
		r.Published = true
		if r.PublishedAt == nil {
			r.PublishedAt = &now
		}
		return StatusCompleted, r
	})
	if err != nil {
		return Tally{}, err
	}
	if e.Status != from {
		s.transitioned(e)
	}
	s.forgetResults(ctx, e.ID)
	s.audit.Record(ctx, audit.ActionResultsCalculated, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"total_votes": t.TotalVotes,
		"tie":         t.Tie,
		"winner_id":   t.WinnerID,
	})
	if e.Results.Published {
		s.publish(stream.Event{Type: stream.EventResultsPublished, ElectionID: e.ID, Status: string(e.Status)})
	}
	return t, nil
}

// PublishResults makes a completed election's results visible to its
// class. Publishing again is a no-op returning the stored results.
func (s *Service) PublishResults(ctx context.Context, p auth.Principal, electionID string) (Tally, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return Tally{}, err
	}
	if e.Status != StatusCompleted {
		return Tally{}, ErrNotCompleted
	}
	if !e.Results.Published {
		now := s.now().UTC()
		r := e.Results
		r.Published = true
		r.PublishedAt = &now
		if err := s.store.UpdateResults(ctx, e.ID, StatusCompleted, StatusCompleted, r, now); err != nil {
			return Tally{}, err
		}
		e.Results = r
		s.audit.Record(ctx, audit.ActionResultsPublished, audit.StatusSuccess, map[string]any{"election_id": e.ID})
		s.publish(stream.Event{Type: stream.EventResultsPublished, ElectionID: e.ID, Status: string(e.Status)})
	}
	t, err := s.count(ctx, e)
	if err != nil {
		return Tally{}, err
	}
	return t.withStored(e), nil
}

// GetResults returns the tally of an election. Staff always see it; the
// election's students only once it is published.
func (s *Service) GetResults(ctx context.Context, p auth.Principal, electionID string) (Tally, error) {
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return Tally{}, err
	}
	if err := s.authorizeView(p, e); err != nil {
		return Tally{}, err
	}
	if !p.IsStaff() && !e.Results.Published {
		return Tally{}, ErrResultsNotPublished
	}
	if !e.Results.Published || e.Status != StatusCompleted {
		t, err := s.count(ctx, e)
		if err != nil {
			return Tally{}, err
		}
		return t.withStored(e), nil
	}
	if t, ok := s.cachedResults(ctx, e.ID); ok {
		return t, nil
	}
	t, err := s.count(ctx, e)
	if err != nil {
		return Tally{}, err
	}
	t = t.withStored(e)
	s.storeResults(ctx, t)
	return t, nil
}

// settle tallies e and stores the outcome in one store step, so the stored
// winner always matches the counted ballots. outcome receives the results
// record already carrying the winner, tie and calculation time.
func (s *Service) settle(ctx context.Context, e Election, outcome func(t Tally, r Results, now time.Time) (Status, Results)) (Tally, Election, error) {
	cands, err := s.roster(ctx, e.ID)
	if err != nil {
		return Tally{}, Election{}, err
	}
	now := s.now().UTC()
	var (
		t  Tally
		to Status
		r  Results
	)
	err = s.store.SettleResults(ctx, e.ID, e.Status, now, func(counts map[string]VoteCount) (Status, Results) {
		t = Count(e.ID, cands, counts)
		r = e.Results
		r.WinnerID = t.WinnerID
		r.Tie = t.Tie
		r.CalculatedAt = &now
		to, r = outcome(t, r, now)
		return to, r
	})
	if err != nil {
		return Tally{}, Election{}, err
	}
	e.Status, e.Results, e.UpdatedAt = to, r, now
	return t.withStored(e), e, nil
}

func (s *Service) count(ctx context.Context, e Election) (Tally, error) {
	cands, err := s.roster(ctx, e.ID)
	if err != nil {
		return Tally{}, err
	}
	counts, err := s.store.CountVotes(ctx, e.ID)
	if err != nil {
		return Tally{}, err
	}
	t := Count(e.ID, cands, counts)
	t.Status = e.Status
	return t, nil
}

func (s *Service) cachedResults(ctx context.Context, electionID string) (Tally, bool) {
	if s.cache == nil {
		return Tally{}, false
	}
	raw, err := s.cache.Get(ctx, resultsKey(electionID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			obs.Warn("results_cache_read_failed", map[string]any{"election_id": electionID, "error": err})
		}
		return Tally{}, false
	}
	var t Tally
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tally{}, false
	}
	return t, true
}

func (s *Service) storeResults(ctx context.Context, t Tally) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, resultsKey(t.ElectionID), raw, s.cacheTTL); err != nil {
		obs.Warn("results_cache_write_failed", map[string]any{"election_id": t.ElectionID, "error": err})
	}
}

func (s *Service) forgetResults(ctx context.Context, electionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, resultsKey(electionID)); err != nil {
		obs.Warn("results_cache_delete_failed", map[string]any{"election_id": electionID, "error": err})
	}
}
