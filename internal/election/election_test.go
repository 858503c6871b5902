package election

import (
	"errors"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 4, hour, minute, 0, 0, time.UTC)
}

func TestPhase(t *testing.T) {
	e := Election{StartDate: at(9, 0), EndDate: at(17, 0)}
	cases := []struct {
		status Status
		now    time.Time
		want   Phase
	}{
		{StatusPending, at(12, 0), PhasePending},
		{StatusActive, at(8, 59), PhaseScheduled},
		{StatusActive, at(9, 0), PhaseOpen},
		{StatusActive, at(17, 0), PhaseOpen},
		{StatusActive, at(17, 1), PhaseEnded},
		{StatusCompleted, at(12, 0), PhaseCompleted},
		{StatusCancelled, at(12, 0), PhaseCancelled},
	}
	for _, tc := range cases {
		e.Status = tc.status
		if got := e.Phase(tc.now); got != tc.want {
			t.Fatalf("%s at %s: expected %s, got %s", tc.status, tc.now.Format("15:04"), tc.want, got)
		}
		if e.IsActive(tc.now) != (tc.want == PhaseOpen) {
			t.Fatalf("IsActive disagrees with Phase for %s at %s", tc.status, tc.now.Format("15:04"))
		}
	}
}

func TestTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusActive, StatusCancelled},
		StatusActive:    {StatusCompleted, StatusCancelled},
		StatusCompleted: nil,
		StatusCancelled: nil,
	}
	all := []Status{StatusPending, StatusActive, StatusCompleted, StatusCancelled}
	for from, tos := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range tos {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: expected %v, got %v", from, to, want, got)
			}
		}
		if from.Terminal() != (len(tos) == 0) {
			t.Fatalf("%s: Terminal() mismatch", from)
		}
	}
}

func TestIsVotingAllowed(t *testing.T) {
	e := Election{
		Status:       StatusActive,
		StartDate:    at(0, 0),
		EndDate:      at(23, 0),
		PublicAccess: PublicAccess{AllowAnonymousVoting: true},
	}
	if !e.IsVotingAllowed(at(9, 0)) {
		t.Fatal("no slots should allow voting inside the election window")
	}

	e.PublicAccess.TimeSlots = []TimeSlot{{ID: "s1", Start: at(10, 0), End: at(16, 0), Active: true}}
	if e.IsVotingAllowed(at(9, 0)) {
		t.Fatal("09:00 is outside the only slot")
	}
	if !e.IsVotingAllowed(at(12, 0)) {
		t.Fatal("12:00 is inside the slot")
	}

	e.PublicAccess.TimeSlots = append(e.PublicAccess.TimeSlots, TimeSlot{ID: "s2", Start: at(8, 0), End: at(9, 30), Active: true})
	if !e.IsVotingAllowed(at(9, 0)) {
		t.Fatal("slots are ORed")
	}
	e.PublicAccess.TimeSlots[1].Active = false
	if e.IsVotingAllowed(at(9, 0)) {
		t.Fatal("inactive slots never open voting")
	}

	e.PublicAccess.AllowAnonymousVoting = false
	if e.IsVotingAllowed(at(12, 0)) {
		t.Fatal("anonymous voting disabled")
	}
	e.PublicAccess.AllowAnonymousVoting = true
	e.Status = StatusPending
	if e.IsVotingAllowed(at(12, 0)) {
		t.Fatal("pending elections never accept votes")
	}
}

func TestOverlapsInclusive(t *testing.T) {
	e := Election{StartDate: at(9, 0), EndDate: at(12, 0)}
	cases := []struct {
		start, end time.Time
		want       bool
	}{
		{at(12, 0), at(13, 0), true},
		{at(8, 0), at(9, 0), true},
		{at(10, 0), at(11, 0), true},
		{at(8, 0), at(13, 0), true},
		{at(12, 1), at(13, 0), false},
		{at(7, 0), at(8, 59), false},
	}
	for _, tc := range cases {
		if got := e.Overlaps(tc.start, tc.end); got != tc.want {
			t.Fatalf("[%s, %s]: expected %v", tc.start.Format("15:04"), tc.end.Format("15:04"), tc.want)
		}
	}
}

func TestParsers(t *testing.T) {
	if len(Symbols) != 30 {
		t.Fatalf("expected 30 symbols, got %d", len(Symbols))
	}
	if s, err := ParseSymbol(" Rocket "); err != nil || s != SymbolRocket {
		t.Fatalf("ParseSymbol: %q %v", s, err)
	}
	if _, err := ParseSymbol("unicorn"); !errors.Is(err, ErrInvalidSymbol) {
		t.Fatalf("expected ErrInvalidSymbol, got %v", err)
	}
	if c, err := ParseColor("#a1b2c3"); err != nil || c != "#A1B2C3" {
		t.Fatalf("ParseColor: %q %v", c, err)
	}
	for _, bad := range []string{"red", "#12345", "#1234567", "123456", "#GGGGGG"} {
		if _, err := ParseColor(bad); !errors.Is(err, ErrInvalidColor) {
			t.Fatalf("%q: expected ErrInvalidColor, got %v", bad, err)
		}
	}
	if typ, err := ParseType("other"); err != nil || typ != TypeOther {
		t.Fatalf("ParseType: %q %v", typ, err)
	}
	if typ, _ := ParseType(""); typ != TypeCR {
		t.Fatalf("empty type should default to CR, got %q", typ)
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrInvalidElection) {
		t.Fatalf("expected ErrInvalidElection, got %v", err)
	}
}

func TestCount(t *testing.T) {
	roster := []Candidate{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	got := Count("e", roster, map[string]VoteCount{"a": {Authenticated: 4, Anonymous: 1}, "b": {Authenticated: 3}})
	if got.WinnerID != "a" || got.Tie || got.TotalVotes != 8 || got.AnonymousVotes != 1 {
		t.Fatalf("unexpected tally %+v", got)
	}
	if got.Candidates[0].Total != 5 || got.Candidates[0].Anonymous != 1 || got.Candidates[2].Total != 0 {
		t.Fatalf("unexpected rows %+v", got.Candidates)
	}

	tie := Count("e", roster, map[string]VoteCount{"a": {Authenticated: 2}, "b": {Anonymous: 2}, "c": {Authenticated: 1}})
	if tie.WinnerID != "" || !tie.Tie {
		t.Fatalf("expected tie, got %+v", tie)
	}

	late := Count("e", roster, map[string]VoteCount{"a": {Authenticated: 2}, "b": {Authenticated: 2}, "c": {Authenticated: 3}})
	if late.WinnerID != "c" || late.Tie {
		t.Fatalf("later strict maximum must win, got %+v", late)
	}

	empty := Count("e", roster, nil)
	if empty.WinnerID != "" || empty.Tie || empty.TotalVotes != 0 {
		t.Fatalf("expected empty tally, got %+v", empty)
	}
}
