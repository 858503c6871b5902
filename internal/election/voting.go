package election

import (
	"context"
	"errors"
	"strings"
	"time"

	"classvote.org/internal/apperr"
	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/identity"
	"classvote.org/internal/ids"
	"classvote.org/internal/obs"
	"classvote.org/internal/stream"
)

// AnonymousVoteInput is a ballot submitted through a QR link.
type AnonymousVoteInput struct {
	Token       string `json:"-"`
	CandidateID string `json:"candidate_id"`
	RollNumber  string `json:"roll_number"`
	IPAddress   string `json:"-"`
	UserAgent   string `json:"-"`
}

// VoteStatus tells a student where they stand in one election.
type VoteStatus struct {
	ElectionID string `json:"election_id"`
	Phase      Phase  `json:"phase"`
	HasVoted   bool   `json:"has_voted"`
	CanVote    bool   `json:"can_vote"`
}

// Ballot is the public view of an election behind a QR link.
type Ballot struct {
	ElectionID        string      `json:"election_id"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	Type              Type        `json:"election_type"`
	ClassName         string      `json:"class_name,omitempty"`
	StartDate         time.Time   `json:"start_date"`
	EndDate           time.Time   `json:"end_date"`
	RequireRollNumber bool        `json:"require_roll_number"`
	VotingOpen        bool        `json:"voting_open"`
	Candidates        []Candidate `json:"candidates"`
}

// CastVote records an authenticated student's vote. Checks run in a fixed
// order: the election must be open, the caller must be an active student of
// its class, must not have voted, and must pick an eligible candidate. The
// store's unique key on (election, student) is the final word on repeats.
func (s *Service) CastVote(ctx context.Context, p auth.Principal, electionID, candidateID string) (Vote, error) {
	v, err := s.castVote(ctx, p, electionID, candidateID)
	if err != nil {
		obs.VoteRejected(apperr.CodeOf(err))
		return Vote{}, err
	}
	obs.VoteCast("authenticated")
	s.audit.CreateLog(ctx, audit.Entry{
		Action:  audit.ActionVoteCast,
		ActorID: v.StudentID,
		Details: map[string]any{"election_id": v.ElectionID},
	})
	s.publish(stream.Event{Type: stream.EventVoteCast, ElectionID: v.ElectionID})
	return v, nil
}

func (s *Service) castVote(ctx context.Context, p auth.Principal, electionID, candidateID string) (Vote, error) {
	if !p.Authenticated() {
		return Vote{}, auth.ErrUnauthenticated
	}
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return Vote{}, err
	}
	now := s.now().UTC()
	if e.Status != StatusActive || !e.IsActive(now) {
		return Vote{}, ErrElectionNotActive
	}
	if err := s.checkVoter(ctx, p, e); err != nil {
		return Vote{}, err
	}
	voted, err := s.store.HasVoted(ctx, e.ID, p.UserID)
	if err != nil {
		return Vote{}, err
	}
	if voted {
		return Vote{}, ErrAlreadyVoted
	}
	if err := s.checkCandidate(ctx, e.ID, candidateID); err != nil {
		return Vote{}, err
	}
	v := Vote{
		ID:          ids.New(),
		ElectionID:  e.ID,
		StudentID:   p.UserID,
		CandidateID: candidateID,
		CastAt:      now,
	}
	if err := s.store.InsertVote(ctx, &v); err != nil {
		return Vote{}, err
	}
	return v, nil
}

// checkVoter reloads the caller so that a stale session cannot vote after
// deactivation or a class move.
func (s *Service) checkVoter(ctx context.Context, p auth.Principal, e Election) error {
	if p.Role != auth.RoleStudent {
		return ErrUnauthorized
	}
	u, err := s.users.Lookup(ctx, p.UserID)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if u.Role != auth.RoleStudent || !u.Active || u.ClassID != e.ClassID {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) checkCandidate(ctx context.Context, electionID, candidateID string) error {
	c, err := s.store.GetCandidate(ctx, electionID, strings.TrimSpace(candidateID))
	if errors.Is(err, ErrCandidateNotFound) {
		return ErrInvalidCandidate
	}
	if err != nil {
		return err
	}
	if !c.Eligible() {
		return ErrInvalidCandidate
	}
	return nil
}

// CastAnonymousVote records a vote submitted through a QR link. Checks run
// in a fixed order: link, voting window, roll number presence, repeat, and
// candidate. When the election does not require a roll number and none is
// given, a synthesized identifier is stored so the ledger always has a key.
func (s *Service) CastAnonymousVote(ctx context.Context, in AnonymousVoteInput) (AnonymousVote, error) {
	v, err := s.castAnonymousVote(ctx, in)
	if err != nil {
		obs.VoteRejected(apperr.CodeOf(err))
		return AnonymousVote{}, err
	}
	obs.VoteCast("anonymous")
	details := map[string]any{"election_id": v.ElectionID}
	if !ids.IsAnonymous(v.RollNumber) {
		details["roll_number"] = v.RollNumber
	}
	s.audit.CreateLog(ctx, audit.Entry{
		Action:    audit.ActionAnonymousVoteCast,
		Details:   details,
		IP:        v.IPAddress,
		UserAgent: v.UserAgent,
	})
	s.publish(stream.Event{Type: stream.EventVoteCast, ElectionID: v.ElectionID, Anonymous: true})
	return v, nil
}

func (s *Service) castAnonymousVote(ctx context.Context, in AnonymousVoteInput) (AnonymousVote, error) {
	e, err := s.openLink(ctx, in.Token)
	if err != nil {
		return AnonymousVote{}, err
	}
	now := s.now().UTC()
	if !e.IsVotingAllowed(now) {
		return AnonymousVote{}, ErrVotingWindowClosed
	}
	roll := NormalizeRollNumber(in.RollNumber)
	if e.PublicAccess.RequireRollNumber && roll == "" {
		return AnonymousVote{}, ErrRollNumberRequired
	}
	if roll != "" {
		seen, err := s.store.HasAnonymousVote(ctx, e.ID, roll)
		if err != nil {
			return AnonymousVote{}, err
		}
		if seen {
			return AnonymousVote{}, ErrAlreadyVoted
		}
	} else {
		roll = ids.Anonymous()
	}
	if err := s.checkCandidate(ctx, e.ID, in.CandidateID); err != nil {
		return AnonymousVote{}, err
	}
	v := AnonymousVote{
		ID:          ids.New(),
		ElectionID:  e.ID,
		RollNumber:  roll,
		CandidateID: strings.TrimSpace(in.CandidateID),
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		CastAt:      now,
	}
	if err := s.store.InsertAnonymousVote(ctx, &v); err != nil {
		return AnonymousVote{}, err
	}
	return v, nil
}

// openLink resolves an enabled QR token.
func (s *Service) openLink(ctx context.Context, token string) (Election, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Election{}, ErrInvalidOrDisabledLink
	}
	e, err := s.store.GetElectionByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Election{}, ErrInvalidOrDisabledLink
	}
	if err != nil {
		return Election{}, err
	}
	if !e.QR.Enabled {
		return Election{}, ErrInvalidOrDisabledLink
	}
	return e, nil
}

// Ballot resolves the public ballot behind an enabled QR link.
func (s *Service) Ballot(ctx context.Context, token string) (Ballot, error) {
	e, err := s.openLink(ctx, token)
	if err != nil {
		return Ballot{}, err
	}
	cands, err := s.roster(ctx, e.ID)
	if err != nil {
		return Ballot{}, err
	}
	b := Ballot{
		ElectionID:        e.ID,
		Title:             e.Title,
		Description:       e.Description,
		Type:              e.Type,
		StartDate:         e.StartDate,
		EndDate:           e.EndDate,
		RequireRollNumber: e.PublicAccess.RequireRollNumber,
		VotingOpen:        e.IsVotingAllowed(s.now().UTC()),
		Candidates:        eligible(cands),
	}
	if class, err := s.classes.GetClass(ctx, e.ClassID); err == nil {
		b.ClassName = class.FullName()
	}
	return b, nil
}

// VoteStatus reports whether the calling student has voted and may vote.
func (s *Service) VoteStatus(ctx context.Context, p auth.Principal, electionID string) (VoteStatus, error) {
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return VoteStatus{}, err
	}
	if err := s.authorizeView(p, e); err != nil {
		return VoteStatus{}, err
	}
	voted, err := s.store.HasVoted(ctx, e.ID, p.UserID)
	if err != nil {
		return VoteStatus{}, err
	}
	now := s.now().UTC()
	st := VoteStatus{ElectionID: e.ID, Phase: e.Phase(now), HasVoted: voted}
	st.CanVote = !voted && e.IsActive(now) && p.Role == auth.RoleStudent && p.ClassID == e.ClassID
	return st, nil
}

// NormalizeRollNumber trims and upper-cases a roll number.
func NormalizeRollNumber(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}
