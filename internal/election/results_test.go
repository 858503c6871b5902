package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classvote.org/internal/auth"
)

// castVotes has n fresh students of c1 vote for candidateID.
func castVotes(t *testing.T, f *fixture, electionID, candidateID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p := f.student(fmt.Sprintf("%s-voter-%d", candidateID, i), "c1")
		if _, err := f.svc.CastVote(context.Background(), p, electionID, candidateID); err != nil {
			t.Fatalf("CastVote: %v", err)
		}
	}
}

func TestCalculateResultsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a", "b")
	castVotes(t, f, e.ID, roster[0].ID, 5)
	castVotes(t, f, e.ID, roster[1].ID, 3)

	tally, err := f.svc.CalculateResults(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("CalculateResults: %v", err)
	}
	if tally.WinnerID != roster[0].ID || tally.TotalVotes != 8 || tally.Tie {
		t.Fatalf("expected A to win 5-3, got %+v", tally)
	}
	if tally.Status != StatusCompleted || !tally.Published || tally.PublishedAt == nil {
		t.Fatalf("a unique winner completes and publishes: %+v", tally)
	}
	stored, _ := f.store.GetElection(ctx, e.ID)
	if stored.Status != StatusCompleted || stored.Results.WinnerID != roster[0].ID {
		t.Fatalf("results not persisted: %+v", stored)
	}
	if _, err := f.svc.CastVote(ctx, f.student("late", "c1"), e.ID, roster[0].ID); !errors.Is(err, ErrElectionNotActive) {
		t.Fatalf("completed election accepted a vote: %v", err)
	}
}

func TestCalculateResultsCountsAnonymousVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster, token := qrElection(t, f, true)
	castVotes(t, f, e.ID, roster[0].ID, 2)
	castVotes(t, f, e.ID, roster[1].ID, 1)
	for _, roll := range []string{"X1", "X2"} {
		if _, err := f.svc.CastAnonymousVote(ctx, AnonymousVoteInput{Token: token, RollNumber: roll, CandidateID: roster[1].ID}); err != nil {
			t.Fatalf("CastAnonymousVote: %v", err)
		}
	}

	tally, err := f.svc.CalculateResults(ctx, admin, e.ID)
	if err != nil {
		t.Fatalf("CalculateResults: %v", err)
	}
	if tally.WinnerID != roster[1].ID || tally.TotalVotes != 5 || tally.AnonymousVotes != 2 {
		t.Fatalf("anonymous votes must count: %+v", tally)
	}
	b := tally.Candidates[1]
	if b.Authenticated != 1 || b.Anonymous != 2 || b.Total != 3 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}

func TestCalculateResultsTie(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a", "b")
	castVotes(t, f, e.ID, roster[0].ID, 2)
	castVotes(t, f, e.ID, roster[1].ID, 2)

	tally, err := f.svc.CalculateResults(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("CalculateResults: %v", err)
	}
	if !tally.Tie || tally.WinnerID != "" || tally.Status != StatusActive || tally.Published {
		t.Fatalf("tie must be reported without completing: %+v", tally)
	}
	if _, err := f.svc.PublishResults(ctx, teacher1, e.ID); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("publishing an active election: expected ErrNotCompleted, got %v", err)
	}

	done, err := f.svc.CompleteElection(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("CompleteElection: %v", err)
	}
	if done.Status != StatusCompleted || !done.Tie || done.WinnerID != "" || done.Published {
		t.Fatalf("tied election completes without winner and unpublished: %+v", done)
	}
}

func TestPublishResultsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a", "b")
	castVotes(t, f, e.ID, roster[1].ID, 1)

	if _, err := f.svc.CompleteElection(ctx, teacher1, e.ID); err != nil {
		t.Fatalf("CompleteElection: %v", err)
	}
	first, err := f.svc.PublishResults(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("PublishResults: %v", err)
	}
	if !first.Published || first.PublishedAt == nil || first.WinnerID != roster[1].ID {
		t.Fatalf("unexpected first publish %+v", first)
	}

	f.advance(time.Hour)
	second, err := f.svc.PublishResults(ctx, admin, e.ID)
	if err != nil {
		t.Fatalf("second PublishResults: %v", err)
	}
	if second.WinnerID != first.WinnerID || !second.PublishedAt.Equal(*first.PublishedAt) {
		t.Fatalf("re-publish must be a no-op: first %+v second %+v", first, second)
	}
	if n := f.auditCount(t, "results_published"); n != 1 {
		t.Fatalf("expected a single publish audit entry, got %d", n)
	}
}

func TestResultsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a")
	castVotes(t, f, e.ID, roster[0].ID, 1)
	member := f.student("member", "c1")
	outsider := f.student("outsider", "c2")

	if _, err := f.svc.GetResults(ctx, member, e.ID); !errors.Is(err, ErrResultsNotPublished) {
		t.Fatalf("unpublished results for a student: expected ErrResultsNotPublished, got %v", err)
	}
	live, err := f.svc.GetResults(ctx, teacher2, e.ID)
	if err != nil || live.TotalVotes != 1 {
		t.Fatalf("staff see live counts: %+v %v", live, err)
	}

	if _, err := f.svc.CalculateResults(ctx, teacher1, e.ID); err != nil {
		t.Fatalf("CalculateResults: %v", err)
	}
	got, err := f.svc.GetResults(ctx, member, e.ID)
	if err != nil || got.WinnerID != roster[0].ID {
		t.Fatalf("published results for a class member: %+v %v", got, err)
	}
	if _, err := f.cache.Get(ctx, resultsKey(e.ID)); err != nil {
		t.Fatalf("published results should be cached: %v", err)
	}
	cached, err := f.svc.GetResults(ctx, member, e.ID)
	if err != nil || cached.WinnerID != got.WinnerID || cached.TotalVotes != got.TotalVotes {
		t.Fatalf("cached results differ: %+v %v", cached, err)
	}
	if _, err := f.svc.GetResults(ctx, outsider, e.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("other class: expected ErrForbidden, got %v", err)
	}

	if err := f.svc.DeleteElection(ctx, admin, e.ID); err != nil {
		t.Fatalf("DeleteElection: %v", err)
	}
	if _, err := f.cache.Get(ctx, resultsKey(e.ID)); err == nil {
		t.Fatal("deleting an election must drop its cached results")
	}
}

func TestCalculateResultsRequiresVotingHistory(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, teacher1, "c1", time.Hour, 2*time.Hour)
	if _, err := f.svc.CalculateResults(context.Background(), teacher1, e.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending election: expected ErrInvalidTransition, got %v", err)
	}
}

// lateBallotStore lands one extra ballot as soon as the service starts
// tallying: right after a CountVotes read, or right before a settlement.
type lateBallotStore struct {
	*InMemory
	late Vote
	once sync.Once
	err  error
}

func (s *lateBallotStore) land(ctx context.Context) {
	s.once.Do(func() { s.err = s.InMemory.InsertVote(ctx, &s.late) })
}

func (s *lateBallotStore) CountVotes(ctx context.Context, electionID string) (map[string]VoteCount, error) {
	counts, err := s.InMemory.CountVotes(ctx, electionID)
	s.land(ctx)
	return counts, err
}

func (s *lateBallotStore) SettleResults(ctx context.Context, id string, from Status, at time.Time, decide Settlement) error {
	s.land(ctx)
	return s.InMemory.SettleResults(ctx, id, from, at, decide)
}

func withLateBallot(f *fixture, electionID, candidateID string) *lateBallotStore {
	f.student("latecomer", "c1")
	st := &lateBallotStore{InMemory: f.store, late: Vote{
		ID:          "late-vote",
		ElectionID:  electionID,
		StudentID:   "latecomer",
		CandidateID: candidateID,
		CastAt:      f.now(),
	}}
	f.svc.store = st
	return st
}

func TestCalculateResultsSeesBallotLandingDuringTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a", "b")
	castVotes(t, f, e.ID, roster[0].ID, 2)
	castVotes(t, f, e.ID, roster[1].ID, 1)
	late := withLateBallot(f, e.ID, roster[1].ID)

	tally, err := f.svc.CalculateResults(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("CalculateResults: %v", err)
	}
	if late.err != nil {
		t.Fatalf("late ballot rejected while the election was active: %v", late.err)
	}

	counts, _ := f.store.CountVotes(ctx, e.ID)
	if counts[roster[0].ID].Total() != 2 || counts[roster[1].ID].Total() != 2 {
		t.Fatalf("ledger should read 2-2, got %+v", counts)
	}
	if !tally.Tie || tally.WinnerID != "" || tally.TotalVotes != 4 {
		t.Fatalf("tally must include the late ballot: %+v", tally)
	}
	stored, _ := f.store.GetElection(ctx, e.ID)
	if stored.Status != StatusActive || stored.Results.WinnerID != "" || !stored.Results.Tie || stored.Results.Published {
		t.Fatalf("stored outcome disagrees with the ledger: %+v", stored)
	}
}

func TestCompleteElectionSeesBallotLandingDuringTally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, roster := f.openElection(t, "a", "b")
	castVotes(t, f, e.ID, roster[0].ID, 2)
	castVotes(t, f, e.ID, roster[1].ID, 1)
	withLateBallot(f, e.ID, roster[1].ID)

	done, err := f.svc.CompleteElection(ctx, teacher1, e.ID)
	if err != nil {
		t.Fatalf("CompleteElection: %v", err)
	}
	stored, _ := f.store.GetElection(ctx, e.ID)
	if stored.Status != StatusCompleted || stored.Results.WinnerID != "" || !stored.Results.Tie {
		t.Fatalf("a 2-2 ledger must complete as a tie: %+v", stored)
	}
	if done.WinnerID != "" || done.TotalVotes != 4 {
		t.Fatalf("returned tally disagrees with the ledger: %+v", done)
	}
}

func TestSettleResultsRejectsMovedStatus(t *testing.T) {
	st := NewInMemory()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	e := Election{ID: "e1", ClassID: "c1", Title: "Rep", Status: StatusCancelled, StartDate: now, EndDate: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
	if err := st.CreateElection(ctx, &e); err != nil {
		t.Fatalf("CreateElection: %v", err)
	}
	called := false
	err := st.SettleResults(ctx, e.ID, StatusActive, now, func(map[string]VoteCount) (Status, Results) {
		called = true
		return StatusCompleted, Results{}
	})
	if !errors.Is(err, ErrInvalidTransition) || called {
		t.Fatalf("expected ErrInvalidTransition without deciding, got %v (called=%v)", err, called)
	}
}
