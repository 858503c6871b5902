package election

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/identity"
	"classvote.org/internal/ids"
	"classvote.org/internal/notify"
	"classvote.org/internal/obs"
	"classvote.org/internal/stream"
)

// ClassDirectory resolves the class an election belongs to.
type ClassDirectory interface {
	GetClass(ctx context.Context, id string) (classes.Class, error)
}

// UserDirectory resolves voters and candidates.
type UserDirectory interface {
	Lookup(ctx context.Context, id string) (identity.User, error)
	ListStudents(ctx context.Context, classID string) ([]identity.User, error)
}

// Events receives live election updates.
type Events interface {
	Publish(evt stream.Event)
}

// Service implements the election lifecycle.
type Service struct {
	store    Store
	classes  ClassDirectory
	users    UserDirectory
	notifier notify.Notifier
	outbox   *notify.Outbox
	audit    *audit.Logger
	events   Events
	cache    ResultsCache
	cacheTTL time.Duration
	baseURL  string
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEvents publishes vote and status events to ev.
func WithEvents(ev Events) ServiceOption {
	return func(s *Service) { s.events = ev }
}

// WithResultsCache serves published results from c for ttl.
func WithResultsCache(c ResultsCache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithBaseURL sets the public address used in emailed and QR links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithOutbox delivers election emails through o instead of a private
// outbox.
func WithOutbox(o *notify.Outbox) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.outbox = o
		}
	}
}

// NewService wires the election engine to its stores and collaborators.
func NewService(store Store, classDir ClassDirectory, users UserDirectory, notifier notify.Notifier, log *audit.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		classes:  classDir,
		users:    users,
		notifier: notifier,
		audit:    log,
		now:      time.Now,
		cacheTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.outbox == nil {
		s.outbox = notify.NewOutbox(notify.DefaultOutboxWorkers)
	}
	return s
}

// CreateInput describes a new election.
type CreateInput struct {
	ClassID              string    `json:"class_id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	Type                 string    `json:"election_type"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	AllowAnonymousVoting bool      `json:"allow_anonymous_voting"`
	RequireRollNumber    *bool     `json:"require_roll_number"`
}

// UpdateInput carries optional changes to a pending election.
type UpdateInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Type        *string    `json:"election_type"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// View is an election as rendered to a caller.
type View struct {
	Election
	Phase      Phase  `json:"phase"`
	VotingLink string `json:"voting_link,omitempty"`
}

// CreateElection stores a pending election for a class. Admins may create
// elections anywhere; teachers only for the classes they lead.
func (s *Service) CreateElection(ctx context.Context, p auth.Principal, in CreateInput) (Election, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher)); err != nil {
		return Election{}, err
	}
	class, err := s.classes.GetClass(ctx, strings.TrimSpace(in.ClassID))
	if err != nil {
		return Election{}, err
	}
	if p.Role == auth.RoleTeacher && class.ClassTeacherID != p.UserID {
		return Election{}, fmt.Errorf("%w: only the class teacher can create elections for %s", auth.ErrForbidden, class.Name)
	}
	typ, err := ParseType(in.Type)
	if err != nil {
		return Election{}, err
	}
	now := s.now().UTC()
	requireRoll := true
	if in.RequireRollNumber != nil {
		requireRoll = *in.RequireRollNumber
	}
	e := Election{
		ID:          ids.New(),
		ClassID:     class.ID,
		Title:       in.Title,
		Description: in.Description,
		Type:        typ,
		Status:      StatusPending,
		StartDate:   in.StartDate.UTC(),
		EndDate:     in.EndDate.UTC(),
		CreatedBy:   p.UserID,
		PublicAccess: PublicAccess{
			AllowAnonymousVoting: in.AllowAnonymousVoting,
			RequireRollNumber:    requireRoll,
			TimeSlots:            []TimeSlot{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.validate(); err != nil {
		return Election{}, err
	}
	if !e.StartDate.After(now) {
		return Election{}, fmt.Errorf("%w: start must be in the future", ErrInvalidDates)
	}
	if err := s.store.CreateElection(ctx, &e); err != nil {
		return Election{}, err
	}
	s.audit.Record(ctx, audit.ActionElectionCreated, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"class_id":    e.ClassID,
		"title":       e.Title,
	})
	s.broadcast(ctx, e, class, notify.NoticeCreated, nil, nil)
	return e, nil
}

// GetElection returns an election visible to p. Students only see the
// elections of their own class, without the QR token.
func (s *Service) GetElection(ctx context.Context, p auth.Principal, id string) (Election, error) {
	e, err := s.store.GetElection(ctx, id)
	if err != nil {
		return Election{}, err
	}
	if err := s.authorizeView(p, e); err != nil {
		return Election{}, err
	}
	if !s.canManage(ctx, p, e) {
		e = e.Redacted()
	}
	return e, nil
}

// ListElections returns elections matching f. Students are restricted to
// their own class.
func (s *Service) ListElections(ctx context.Context, p auth.Principal, f Filter) ([]Election, error) {
	if !p.Authenticated() {
		return nil, auth.ErrUnauthenticated
	}
	if p.Role == auth.RoleStudent {
		f.ClassID = p.ClassID
		if f.ClassID == "" {
			return []Election{}, nil
		}
	}
	list, err := s.store.ListElections(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if !s.canManage(ctx, p, list[i]) {
			list[i] = list[i].Redacted()
		}
	}
	return list, nil
}

// Describe attaches the derived phase and, for managers, the voting link.
func (s *Service) Describe(e Election) View {
	v := View{Election: e, Phase: e.Phase(s.now().UTC())}
	if e.QR.AccessToken != "" {
		v.VotingLink = s.VotingLink(e.QR.AccessToken)
	}
	return v
}

// VotingLink is the public URL encoded in an election's QR code.
func (s *Service) VotingLink(token string) string {
	return s.baseURL + "/vote/" + token
}

// UpdateElection edits a pending election. Changed dates are re-validated
// and re-checked for overlap.
func (s *Service) UpdateElection(ctx context.Context, p auth.Principal, id string, in UpdateInput) (Election, error) {
	e, err := s.manageable(ctx, p, id)
	if err != nil {
		return Election{}, err
	}
	if e.Status != StatusPending {
		return Election{}, ErrNotEditable
	}
	if in.Title != nil {
		e.Title = *in.Title
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Type != nil {
		if e.Type, err = ParseType(*in.Type); err != nil {
			return Election{}, err
		}
	}
	now := s.now().UTC()
	if in.StartDate != nil {
		e.StartDate = in.StartDate.UTC()
		if !e.StartDate.After(now) {
			return Election{}, fmt.Errorf("%w: start must be in the future", ErrInvalidDates)
		}
	}
	if in.EndDate != nil {
		e.EndDate = in.EndDate.UTC()
	}
	if err := e.validate(); err != nil {
		return Election{}, err
	}
	e.UpdatedAt = now
	if err := s.store.UpdateElection(ctx, e, StatusPending); err != nil {
		return Election{}, err
	}
	s.audit.Record(ctx, audit.ActionElectionUpdated, audit.StatusSuccess, map[string]any{"election_id": e.ID})
	return e, nil
}

// ActivateElection opens a pending election.
func (s *Service) ActivateElection(ctx context.Context, p auth.Principal, id string) (Election, error) {
	e, err := s.manageable(ctx, p, id)
	if err != nil {
		return Election{}, err
	}
	e, err = s.transition(ctx, e, StatusActive)
	if err != nil {
		return Election{}, err
	}
	s.audit.Record(ctx, audit.ActionElectionActivated, audit.StatusSuccess, map[string]any{"election_id": e.ID})
	return e, nil
}

// CancelElection ends a pending or active election without results.
func (s *Service) CancelElection(ctx context.Context, p auth.Principal, id string) (Election, error) {
	e, err := s.manageable(ctx, p, id)
	if err != nil {
		return Election{}, err
	}
	e, err = s.transition(ctx, e, StatusCancelled)
	if err != nil {
		return Election{}, err
	}
	s.audit.Record(ctx, audit.ActionElectionCancelled, audit.StatusSuccess, map[string]any{"election_id": e.ID})
	return e, nil
}

// CompleteElection closes an active election and records the tally. A tie
// or an empty ballot completes without a winner.
func (s *Service) CompleteElection(ctx context.Context, p auth.Principal, id string) (Tally, error) {
	e, err := s.manageable(ctx, p, id)
	if err != nil {
		return Tally{}, err
	}
	return s.complete(ctx, e)
}

func (s *Service) complete(ctx context.Context, e Election) (Tally, error) {
	if !e.Status.CanTransitionTo(StatusCompleted) {
		return Tally{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, StatusCompleted)
	}
	t, e, err := s.settle(ctx, e, func(_ Tally, r Results, _ time.Time) (Status, Results) {
		return StatusCompleted, r
	})
	if err != nil {
		return Tally{}, err
	}
	s.transitioned(e)
	s.audit.Record(ctx, audit.ActionElectionCompleted, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"total_votes": t.TotalVotes,
		"tie":         t.Tie,
		"winner_id":   t.WinnerID,
	})
	return t, nil
}

// DeleteElection removes a non-active election with its candidates and
// votes.
func (s *Service) DeleteElection(ctx context.Context, p auth.Principal, id string) error {
	e, err := s.manageable(ctx, p, id)
	if err != nil {
		return err
	}
	if e.Status == StatusActive {
		return ErrElectionActive
	}
	if err := s.store.DeleteElection(ctx, e.ID); err != nil {
		return err
	}
	s.forgetResults(ctx, e.ID)
	s.audit.Record(ctx, audit.ActionElectionDeleted, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"status":      string(e.Status),
	})
	return nil
}

// CountElectionsInClass satisfies classes.ElectionCounter.
func (s *Service) CountElectionsInClass(ctx context.Context, classID string) (int, error) {
	return s.store.CountElectionsInClass(ctx, classID)
}

// ActivateDue opens every pending election whose start has passed. It is
// the scheduled counterpart of ActivateElection and runs without a caller.
func (s *Service) ActivateDue(ctx context.Context) ([]Election, error) {
	pending, err := s.store.ListElections(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var done []Election
	for _, e := range pending {
		if e.StartDate.After(now) {
			continue
		}
		next, err := s.transition(ctx, e, StatusActive)
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			obs.Error("scheduled_activation_failed", map[string]any{"election_id": e.ID, "error": err})
			continue
		}
		s.audit.Record(ctx, audit.ActionElectionActivated, audit.StatusSuccess, map[string]any{
			"election_id": e.ID,
			"trigger":     "schedule",
		})
		done = append(done, next)
	}
	return done, nil
}

// CompleteDue completes every active election whose end has passed.
func (s *Service) CompleteDue(ctx context.Context) ([]Tally, error) {
	active, err := s.store.ListElections(ctx, Filter{Status: StatusActive})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var done []Tally
	for _, e := range active {
		if e.Phase(now) != PhaseEnded {
			continue
		}
		t, err := s.complete(ctx, e)
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			obs.Error("scheduled_completion_failed", map[string]any{"election_id": e.ID, "error": err})
			continue
		}
		done = append(done, t)
	}
	return done, nil
}

func (s *Service) transition(ctx context.Context, e Election, to Status) (Election, error) {
	if !e.Status.CanTransitionTo(to) {
		return Election{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	now := s.now().UTC()
	if err := s.store.TransitionStatus(ctx, e.ID, e.Status, to, now); err != nil {
		return Election{}, err
	}
	e.Status = to
	e.UpdatedAt = now
	s.transitioned(e)
	return e, nil
}

func (s *Service) transitioned(e Election) {
	obs.ElectionTransition(string(e.Status))
	s.publish(stream.Event{Type: stream.EventStatusChanged, ElectionID: e.ID, Status: string(e.Status)})
}

func (s *Service) publish(evt stream.Event) {
	if s.events == nil {
		return
	}
	evt.Timestamp = s.now().UTC()
	s.events.Publish(evt)
}

// manageable loads id and checks that p may administer it.
func (s *Service) manageable(ctx context.Context, p auth.Principal, id string) (Election, error) {
	if err := auth.Authorize(p, auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher)); err != nil {
		return Election{}, err
	}
	e, err := s.store.GetElection(ctx, id)
	if err != nil {
		return Election{}, err
	}
	if !s.canManage(ctx, p, e) {
		return Election{}, fmt.Errorf("%w: not the owner of this election", auth.ErrForbidden)
	}
	return e, nil
}

// canManage is true for admins, the election's creator and the class
// teacher.
func (s *Service) canManage(ctx context.Context, p auth.Principal, e Election) bool {
	switch p.Role {
	case auth.RoleAdmin:
		return p.Authenticated()
	case auth.RoleTeacher:
		if e.CreatedBy == p.UserID {
			return true
		}
		class, err := s.classes.GetClass(ctx, e.ClassID)
		return err == nil && class.ClassTeacherID == p.UserID
	default:
		return false
	}
}

func (s *Service) authorizeView(p auth.Principal, e Election) error {
	if !p.Authenticated() {
		return auth.ErrUnauthenticated
	}
	if p.IsStaff() || p.ClassID == e.ClassID {
		return nil
	}
	return fmt.Errorf("%w: election belongs to another class", auth.ErrForbidden)
}
