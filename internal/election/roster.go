package election

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/identity"
	"classvote.org/internal/ids"
)

// AddCandidate nominates an active student of the election's class. New
// candidates are approved and active.
func (s *Service) AddCandidate(ctx context.Context, p auth.Principal, electionID string, in AddCandidateInput) (Candidate, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return Candidate{}, err
	}
	if e.Status.Terminal() {
		return Candidate{}, ErrCandidacyWindowClosed
	}
	student, err := s.eligibleStudent(ctx, e, strings.TrimSpace(in.StudentID))
	if err != nil {
		return Candidate{}, err
	}
	symbol, err := ParseSymbol(in.Symbol)
	if err != nil {
		return Candidate{}, err
	}
	color, err := ParseColor(in.Color)
	if err != nil {
		return Candidate{}, err
	}
	c := Candidate{
		ID:         ids.New(),
		ElectionID: e.ID,
		StudentID:  student.ID,
		Name:       student.Name,
		Symbol:     symbol,
		Color:      color,
		Approved:   true,
		Active:     true,
		Manifesto:  strings.TrimSpace(in.Manifesto),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.CreateCandidate(ctx, &c); err != nil {
		return Candidate{}, err
	}
	s.audit.Record(ctx, audit.ActionCandidateAdded, audit.StatusSuccess, map[string]any{
		"election_id":  e.ID,
		"candidate_id": c.ID,
		"student_id":   c.StudentID,
	})
	return c, nil
}

func (s *Service) eligibleStudent(ctx context.Context, e Election, studentID string) (identity.User, error) {
	if studentID == "" {
		return identity.User{}, fmt.Errorf("%w: student_id is required", ErrInvalidStudent)
	}
	u, err := s.users.Lookup(ctx, studentID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, fmt.Errorf("%w: unknown student", ErrInvalidStudent)
	}
	if err != nil {
		return identity.User{}, err
	}
	switch {
	case u.Role != auth.RoleStudent:
		return identity.User{}, fmt.Errorf("%w: user is not a student", ErrInvalidStudent)
	case !u.Active:
		return identity.User{}, fmt.Errorf("%w: student is deactivated", ErrInvalidStudent)
	case u.ClassID != e.ClassID:
		return identity.User{}, fmt.Errorf("%w: student is in another class", ErrInvalidStudent)
	}
	return u, nil
}

// UpdateCandidate changes a candidate while the election is still open for
// roster changes.
func (s *Service) UpdateCandidate(ctx context.Context, p auth.Principal, electionID, candidateID string, in UpdateCandidateInput) (Candidate, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return Candidate{}, err
	}
	if e.Status.Terminal() {
		return Candidate{}, ErrCandidacyWindowClosed
	}
	c, err := s.store.GetCandidate(ctx, e.ID, candidateID)
	if err != nil {
		return Candidate{}, err
	}
	if in.Symbol != nil {
		if c.Symbol, err = ParseSymbol(*in.Symbol); err != nil {
			return Candidate{}, err
		}
	}
	if in.Color != nil {
		if c.Color, err = ParseColor(*in.Color); err != nil {
			return Candidate{}, err
		}
	}
	if in.Manifesto != nil {
		c.Manifesto = strings.TrimSpace(*in.Manifesto)
	}
	if in.Approved != nil {
		c.Approved = *in.Approved
	}
	if in.Active != nil {
		c.Active = *in.Active
	}
	if err := s.store.UpdateCandidate(ctx, c); err != nil {
		return Candidate{}, err
	}
	s.audit.Record(ctx, audit.ActionCandidateUpdated, audit.StatusSuccess, map[string]any{
		"election_id":  e.ID,
		"candidate_id": c.ID,
	})
	return s.named(ctx, c), nil
}

// RemoveCandidate withdraws a candidate from a pending election.
func (s *Service) RemoveCandidate(ctx context.Context, p auth.Principal, electionID, candidateID string) error {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return err
	}
	if e.Status != StatusPending {
		return ErrCandidacyLocked
	}
	if err := s.store.DeleteCandidate(ctx, e.ID, candidateID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionCandidateRemoved, audit.StatusSuccess, map[string]any{
		"election_id":  e.ID,
		"candidate_id": candidateID,
	})
	return nil
}

// ListCandidates returns the roster in nomination order. Non-managers only
// see eligible candidates.
func (s *Service) ListCandidates(ctx context.Context, p auth.Principal, electionID string) ([]Candidate, error) {
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(p, e); err != nil {
		return nil, err
	}
	all, err := s.roster(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if s.canManage(ctx, p, e) {
		return all, nil
	}
	return eligible(all), nil
}

// roster lists candidates with display names.
func (s *Service) roster(ctx context.Context, electionID string) ([]Candidate, error) {
	list, err := s.store.ListCandidates(ctx, electionID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = s.named(ctx, list[i])
	}
	return list, nil
}

func (s *Service) named(ctx context.Context, c Candidate) Candidate {
	if c.Name != "" || s.users == nil {
		return c
	}
	if u, err := s.users.Lookup(ctx, c.StudentID); err == nil {
		c.Name = u.Name
	}
	return c
}

func eligible(list []Candidate) []Candidate {
	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		if c.Eligible() {
			out = append(out, c)
		}
	}
	return out
}
