package election

import (
	"context"
	"time"
)

// Vote is one authenticated ballot. (ElectionID, StudentID) is unique.
type Vote struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"election_id"`
	StudentID   string    `json:"student_id"`
	CandidateID string    `json:"-"`
	CastAt      time.Time `json:"cast_at"`
}

// AnonymousVote is one QR-link ballot. (ElectionID, RollNumber) is unique;
// RollNumber is synthesized when the election does not require one.
type AnonymousVote struct {
	ID          string    `json:"id"`
	ElectionID  string    `json:"election_id"`
	RollNumber  string    `json:"roll_number"`
	CandidateID string    `json:"-"`
	IPAddress   string    `json:"-"`
	UserAgent   string    `json:"-"`
	CastAt      time.Time `json:"cast_at"`
}

// VoteCount is the per-candidate split across both ledgers.
type VoteCount struct {
	Authenticated int `json:"authenticated"`
	Anonymous     int `json:"anonymous"`
}

// Total sums both ledgers.
func (c VoteCount) Total() int { return c.Authenticated + c.Anonymous }

// Settlement maps a vote count to the status and results to store.
type Settlement func(counts map[string]VoteCount) (Status, Results)

// Store persists elections, their candidates and both vote ledgers. Every
// uniqueness and status guard below is enforced atomically by the store.
type Store interface {
	// CreateElection inserts e, or returns ErrOverlap when a pending or
	// active election of the same class overlaps [StartDate, EndDate].
	CreateElection(ctx context.Context, e *Election) error
	GetElection(ctx context.Context, id string) (Election, error)
	GetElectionByToken(ctx context.Context, token string) (Election, error)
	ListElections(ctx context.Context, f Filter) ([]Election, error)
	// UpdateElection rewrites title, description, type and dates while the
	// stored status is still expected, re-checking overlap.
	UpdateElection(ctx context.Context, e Election, expected Status) error
	// TransitionStatus moves id from one status to another, or returns
	// ErrInvalidTransition if the stored status is no longer from.
	TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// UpdateResults is TransitionStatus that also stores r.
	UpdateResults(ctx context.Context, id string, from, to Status, r Results, at time.Time) error
	// SettleResults counts both ledgers of id and stores the status and
	// results decide derives from that count, with no ballot accepted in
	// between. It returns ErrInvalidTransition if the stored status is not
	// from, without calling decide.
	SettleResults(ctx context.Context, id string, from Status, at time.Time, decide Settlement) error
	// DeleteElection removes a non-active election with its candidates and
	// votes, or returns ErrElectionActive.
	DeleteElection(ctx context.Context, id string) error
	CountElectionsInClass(ctx context.Context, classID string) (int, error)

	// SetQRToken stores token unless one exists and enables the link. The
	// stored configuration is returned either way.
	SetQRToken(ctx context.Context, id, token string, at time.Time) (QRAccess, error)
	// ToggleQR flips the enabled flag, or returns ErrQRNotGenerated.
	ToggleQR(ctx context.Context, id string, at time.Time) (QRAccess, error)
	SetPublicAccess(ctx context.Context, id string, allowAnonymous, requireRoll bool, at time.Time) error
	AddTimeSlot(ctx context.Context, electionID string, slot TimeSlot) error
	RemoveTimeSlot(ctx context.Context, electionID, slotID string) error

	// CreateCandidate returns ErrDuplicateCandidacy for a repeated
	// (election, student) pair.
	CreateCandidate(ctx context.Context, c *Candidate) error
	GetCandidate(ctx context.Context, electionID, id string) (Candidate, error)
	// ListCandidates returns candidates in nomination order.
	ListCandidates(ctx context.Context, electionID string) ([]Candidate, error)
	UpdateCandidate(ctx context.Context, c Candidate) error
	DeleteCandidate(ctx context.Context, electionID, id string) error

	// InsertVote records v while the election is active. It returns
	// ErrAlreadyVoted on a repeated student and ErrElectionNotActive when
	// the election left the active status.
	InsertVote(ctx context.Context, v *Vote) error
	// InsertAnonymousVote is InsertVote keyed by roll number.
	InsertAnonymousVote(ctx context.Context, v *AnonymousVote) error
	HasVoted(ctx context.Context, electionID, studentID string) (bool, error)
	HasAnonymousVote(ctx context.Context, electionID, rollNumber string) (bool, error)
	// VoterIDs lists students with an authenticated vote in electionID.
	VoterIDs(ctx context.Context, electionID string) ([]string, error)
	// CountVotes tallies both ledgers by candidate id.
	CountVotes(ctx context.Context, electionID string) (map[string]VoteCount, error)
}
