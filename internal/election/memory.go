package election

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Every
// guard the database enforces with indexes and conditional writes is
// checked under the write lock.
type InMemory struct {
	mu         sync.RWMutex
	elections  map[string]Election
	candidates map[string]Candidate
	votes      map[string]map[string]Vote          // election -> student -> vote
	anonymous  map[string]map[string]AnonymousVote // election -> roll number -> vote
	seq        int64
	order      map[string]int64 // candidate -> nomination sequence
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		elections:  make(map[string]Election),
		candidates: make(map[string]Candidate),
		votes:      make(map[string]map[string]Vote),
		anonymous:  make(map[string]map[string]AnonymousVote),
		order:      make(map[string]int64),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) CreateElection(ctx context.Context, e *Election) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlapsLocked(*e) {
		return ErrOverlap
	}
	s.elections[e.ID] = clone(*e)
	return nil
}

func (s *InMemory) overlapsLocked(e Election) bool {
	for id, other := range s.elections {
		if id == e.ID || other.ClassID != e.ClassID || !other.Blocking() {
			continue
		}
		if other.Overlaps(e.StartDate, e.EndDate) {
			return true
		}
	}
	return false
}

func (s *InMemory) GetElection(ctx context.Context, id string) (Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elections[id]
	if !ok {
		return Election{}, ErrNotFound
	}
	return clone(e), nil
}

func (s *InMemory) GetElectionByToken(ctx context.Context, token string) (Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return Election{}, ErrNotFound
	}
	for _, e := range s.elections {
		if e.QR.AccessToken == token {
			return clone(e), nil
		}
	}
	return Election{}, ErrNotFound
}

func (s *InMemory) ListElections(ctx context.Context, f Filter) ([]Election, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Election{}
	for _, e := range s.elections {
		if f.Matches(e) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemory) UpdateElection(ctx context.Context, e Election, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.elections[e.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrNotEditable
	}
	candidate := cur
	candidate.Title = e.Title
	candidate.Description = e.Description
	candidate.Type = e.Type
	candidate.StartDate = e.StartDate
	candidate.EndDate = e.EndDate
	candidate.UpdatedAt = e.UpdatedAt
	if s.overlapsLocked(candidate) {
		return ErrOverlap
	}
	s.elections[e.ID] = candidate
	return nil
}

func (s *InMemory) TransitionStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != from {
		return ErrInvalidTransition
	}
	e.Status = to
	e.UpdatedAt = at
	s.elections[id] = e
	return nil
}

func (s *InMemory) UpdateResults(ctx context.Context, id string, from, to Status, r Results, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != from {
		return ErrInvalidTransition
	}
	e.Status = to
	e.Results = r
	e.UpdatedAt = at
	s.elections[id] = e
	return nil
}

func (s *InMemory) SettleResults(ctx context.Context, id string, from Status, at time.Time, decide Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != from {
		return ErrInvalidTransition
	}
	e.Status, e.Results = decide(s.countLocked(id))
	e.UpdatedAt = at
	s.elections[id] = e
	return nil
}

func (s *InMemory) DeleteElection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusActive {
		return ErrElectionActive
	}
	delete(s.elections, id)
	delete(s.votes, id)
	delete(s.anonymous, id)
	for cid, c := range s.candidates {
		if c.ElectionID == id {
			delete(s.candidates, cid)
			delete(s.order, cid)
		}
	}
	return nil
}

func (s *InMemory) CountElectionsInClass(ctx context.Context, classID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.elections {
		if e.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) SetQRToken(ctx context.Context, id, token string, at time.Time) (QRAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return QRAccess{}, ErrNotFound
	}
	if e.QR.AccessToken == "" {
		e.QR.AccessToken = token
		e.QR.GeneratedAt = &at
	}
	e.QR.Enabled = true
	e.UpdatedAt = at
	s.elections[id] = e
	return e.QR, nil
}

func (s *InMemory) ToggleQR(ctx context.Context, id string, at time.Time) (QRAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return QRAccess{}, ErrNotFound
	}
	if e.QR.AccessToken == "" {
		return QRAccess{}, ErrQRNotGenerated
	}
	e.QR.Enabled = !e.QR.Enabled
	e.UpdatedAt = at
	s.elections[id] = e
	return e.QR, nil
}

func (s *InMemory) SetPublicAccess(ctx context.Context, id string, allowAnonymous, requireRoll bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[id]
	if !ok {
		return ErrNotFound
	}
	e.PublicAccess.AllowAnonymousVoting = allowAnonymous
	e.PublicAccess.RequireRollNumber = requireRoll
	e.UpdatedAt = at
	s.elections[id] = e
	return nil
}

func (s *InMemory) AddTimeSlot(ctx context.Context, electionID string, slot TimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[electionID]
	if !ok {
		return ErrNotFound
	}
	e.PublicAccess.TimeSlots = append(append([]TimeSlot(nil), e.PublicAccess.TimeSlots...), slot)
	s.elections[electionID] = e
	return nil
}

func (s *InMemory) RemoveTimeSlot(ctx context.Context, electionID, slotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.elections[electionID]
	if !ok {
		return ErrNotFound
	}
	kept := make([]TimeSlot, 0, len(e.PublicAccess.TimeSlots))
	for _, slot := range e.PublicAccess.TimeSlots {
		if slot.ID != slotID {
			kept = append(kept, slot)
		}
	}
	if len(kept) == len(e.PublicAccess.TimeSlots) {
		return ErrTimeSlotNotFound
	}
	e.PublicAccess.TimeSlots = kept
	s.elections[electionID] = e
	return nil
}

func (s *InMemory) CreateCandidate(ctx context.Context, c *Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elections[c.ElectionID]; !ok {
		return ErrNotFound
	}
	for _, other := range s.candidates {
		if other.ElectionID == c.ElectionID && other.StudentID == c.StudentID {
			return ErrDuplicateCandidacy
		}
	}
	s.seq++
	s.candidates[c.ID] = *c
	s.order[c.ID] = s.seq
	return nil
}

func (s *InMemory) GetCandidate(ctx context.Context, electionID, id string) (Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok || c.ElectionID != electionID {
		return Candidate{}, ErrCandidateNotFound
	}
	return c, nil
}

func (s *InMemory) ListCandidates(ctx context.Context, electionID string) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Candidate{}
	for _, c := range s.candidates {
		if c.ElectionID == electionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *InMemory) UpdateCandidate(ctx context.Context, c Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.candidates[c.ID]
	if !ok || cur.ElectionID != c.ElectionID {
		return ErrCandidateNotFound
	}
	s.candidates[c.ID] = c
	return nil
}

func (s *InMemory) DeleteCandidate(ctx context.Context, electionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[id]
	if !ok || c.ElectionID != electionID {
		return ErrCandidateNotFound
	}
	delete(s.candidates, id)
	delete(s.order, id)
	return nil
}

func (s *InMemory) InsertVote(ctx context.Context, v *Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ballotOpenLocked(v.ElectionID, v.CandidateID); err != nil {
		return err
	}
	ledger := s.votes[v.ElectionID]
	if ledger == nil {
		ledger = make(map[string]Vote)
		s.votes[v.ElectionID] = ledger
	}
	if _, dup := ledger[v.StudentID]; dup {
		return ErrAlreadyVoted
	}
	ledger[v.StudentID] = *v
	return nil
}

func (s *InMemory) InsertAnonymousVote(ctx context.Context, v *AnonymousVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ballotOpenLocked(v.ElectionID, v.CandidateID); err != nil {
		return err
	}
	ledger := s.anonymous[v.ElectionID]
	if ledger == nil {
		ledger = make(map[string]AnonymousVote)
		s.anonymous[v.ElectionID] = ledger
	}
	if _, dup := ledger[v.RollNumber]; dup {
		return ErrAlreadyVoted
	}
	ledger[v.RollNumber] = *v
	return nil
}

func (s *InMemory) ballotOpenLocked(electionID, candidateID string) error {
	e, ok := s.elections[electionID]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusActive {
		return ErrElectionNotActive
	}
	if c, ok := s.candidates[candidateID]; !ok || c.ElectionID != electionID {
		return ErrInvalidCandidate
	}
	return nil
}

func (s *InMemory) HasVoted(ctx context.Context, electionID, studentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.votes[electionID][studentID]
	return ok, nil
}

func (s *InMemory) HasAnonymousVote(ctx context.Context, electionID, rollNumber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.anonymous[electionID][rollNumber]
	return ok, nil
}

func (s *InMemory) VoterIDs(ctx context.Context, electionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.votes[electionID]))
	for id := range s.votes[electionID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) CountVotes(ctx context.Context, electionID string) (map[string]VoteCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(electionID), nil
}

func (s *InMemory) countLocked(electionID string) map[string]VoteCount {
	out := make(map[string]VoteCount)
	for _, v := range s.votes[electionID] {
		c := out[v.CandidateID]
		c.Authenticated++
		out[v.CandidateID] = c
	}
	for _, v := range s.anonymous[electionID] {
		c := out[v.CandidateID]
		c.Anonymous++
		out[v.CandidateID] = c
	}
	return out
}

func clone(e Election) Election {
	e.PublicAccess.TimeSlots = append([]TimeSlot{}, e.PublicAccess.TimeSlots...)
	return e
}
