// Package election is the election lifecycle and vote-integrity engine:
// the state machine, candidate roster, authenticated and QR voting, and
// result tallying.
package election

import (
	"fmt"
	"strings"
	"time"

	"classvote.org/internal/apperr"
)

// Status is the stored lifecycle state of an election.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidElection, s)
	}
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes pending -> active -> completed and
// pending|active -> cancelled.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusCompleted || to == StatusCancelled
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return false
	}
}

// Type is the office an election fills.
type Type string

const (
	TypeCR    Type = "CR"
	TypeBR    Type = "BR"
	TypeOther Type = "Other"
)

// ParseType validates an election type. Empty means TypeCR.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CR":
		return TypeCR, nil
	case "BR":
		return TypeBR, nil
	case "OTHER":
		return TypeOther, nil
	default:
		return "", fmt.Errorf("%w: unknown election type %q", ErrInvalidElection, s)
	}
}

// Phase is the effective state of an election at a point in time. It is
// the only input to voting decisions.
type Phase int

const (
	PhasePending Phase = iota
	PhaseScheduled
	PhaseOpen
	PhaseEnded
	PhaseCompleted
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseScheduled:
		return "scheduled"
	case PhaseOpen:
		return "open"
	case PhaseEnded:
		return "ended"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

var (
	ErrNotFound              = apperr.New(apperr.KindNotFound, "election_not_found", "election not found")
	ErrInvalidElection       = apperr.New(apperr.KindValidation, "invalid_election", "invalid election")
	ErrInvalidDates          = apperr.New(apperr.KindValidation, "invalid_dates", "start must be in the future and before end")
	ErrOverlap               = apperr.New(apperr.KindConflict, "election_overlap", "class already has an election in this period")
	ErrInvalidTransition     = apperr.New(apperr.KindState, "invalid_transition", "election cannot move to that status")
	ErrNotEditable           = apperr.New(apperr.KindState, "election_not_editable", "only pending elections can be edited")
	ErrElectionActive        = apperr.New(apperr.KindState, "election_active", "active elections cannot be deleted")
	ErrElectionNotActive     = apperr.New(apperr.KindState, "election_not_active", "election is not open for voting")
	ErrUnauthorized          = apperr.New(apperr.KindAuthorization, "not_eligible", "you are not eligible to vote in this election")
	ErrAlreadyVoted          = apperr.New(apperr.KindConflict, "already_voted", "a vote has already been cast")
	ErrInvalidCandidate      = apperr.New(apperr.KindValidation, "invalid_candidate", "candidate is not on this ballot")
	ErrInvalidOrDisabledLink = apperr.New(apperr.KindNotFound, "invalid_or_disabled_link", "voting link is invalid or disabled")
	ErrVotingWindowClosed    = apperr.New(apperr.KindState, "voting_window_closed", "voting is not open right now")
	ErrRollNumberRequired    = apperr.New(apperr.KindValidation, "roll_number_required", "roll number is required")
	ErrQRNotGenerated        = apperr.New(apperr.KindState, "qr_not_generated", "generate a QR code first")
	ErrInvalidTimeSlot       = apperr.New(apperr.KindValidation, "invalid_time_slot", "time slot start must be before end")
	ErrTimeSlotNotFound      = apperr.New(apperr.KindNotFound, "time_slot_not_found", "time slot not found")
	ErrNotCompleted          = apperr.New(apperr.KindState, "election_not_completed", "results can only be published for completed elections")
	ErrResultsNotPublished   = apperr.New(apperr.KindAuthorization, "results_not_published", "results have not been published")
)

// QRAccess configures link-based anonymous voting.
type QRAccess struct {
	Enabled     bool       `json:"enabled"`
	AccessToken string     `json:"access_token,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// TimeSlot restricts anonymous voting to [Start, End] when active.
type TimeSlot struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Active bool      `json:"active"`
}

// Contains reports whether now falls inside an active slot, inclusive.
func (t TimeSlot) Contains(now time.Time) bool {
	return t.Active && !now.Before(t.Start) && !now.After(t.End)
}

// PublicAccess governs who may vote through the QR link.
type PublicAccess struct {
	AllowAnonymousVoting bool       `json:"allow_anonymous_voting"`
	RequireRollNumber    bool       `json:"require_roll_number"`
	TimeSlots            []TimeSlot `json:"voting_time_slots"`
}

// Results is the stored outcome of an election.
type Results struct {
	Published    bool       `json:"published"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	WinnerID     string     `json:"winner_id,omitempty"`
	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	Tie          bool       `json:"tie"`
}

// Election is a time-boxed ballot for one class. Votes are held by the
// store, keyed by election id.
type Election struct {
	ID           string       `json:"id"`
	ClassID      string       `json:"class_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Type         Type         `json:"election_type"`
	Status       Status       `json:"status"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	CreatedBy    string       `json:"created_by"`
	QR           QRAccess     `json:"qr_code"`
	PublicAccess PublicAccess `json:"public_access"`
	Results      Results      `json:"results"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Phase derives the effective state from the stored status and the clock.
func (e Election) Phase(now time.Time) Phase {
	switch e.Status {
	case StatusPending:
		return PhasePending
	case StatusActive:
		switch {
		case now.Before(e.StartDate):
			return PhaseScheduled
		case now.After(e.EndDate):
			return PhaseEnded
		default:
			return PhaseOpen
		}
	case StatusCompleted:
		return PhaseCompleted
	case StatusCancelled:
		return PhaseCancelled
	default:
		return PhasePending
	}
}

// IsActive is true only while the election is active and inside its window.
func (e Election) IsActive(now time.Time) bool {
	return e.Phase(now) == PhaseOpen
}

// IsVotingAllowed gates anonymous votes: the election must be open, allow
// anonymous voting, and either have no slots or be inside an active one.
func (e Election) IsVotingAllowed(now time.Time) bool {
	if !e.IsActive(now) || !e.PublicAccess.AllowAnonymousVoting {
		return false
	}
	if len(e.PublicAccess.TimeSlots) == 0 {
		return true
	}
	for _, slot := range e.PublicAccess.TimeSlots {
		if slot.Contains(now) {
			return true
		}
	}
	return false
}

// Blocking reports whether e takes part in the per-class overlap check.
func (e Election) Blocking() bool {
	return e.Status == StatusPending || e.Status == StatusActive
}

// Overlaps is the inclusive interval test against [start, end].
func (e Election) Overlaps(start, end time.Time) bool {
	return !start.After(e.EndDate) && !end.Before(e.StartDate)
}

// Redacted hides the QR access token from callers who cannot manage e.
func (e Election) Redacted() Election {
	e.QR.AccessToken = ""
	slots := make([]TimeSlot, len(e.PublicAccess.TimeSlots))
	copy(slots, e.PublicAccess.TimeSlots)
	e.PublicAccess.TimeSlots = slots
	return e
}

// Filter narrows ListElections. Zero values match everything.
type Filter struct {
	ClassID   string
	Status    Status
	CreatedBy string
}

// Matches reports whether e satisfies f.
func (f Filter) Matches(e Election) bool {
	if f.ClassID != "" && e.ClassID != f.ClassID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.CreatedBy != "" && e.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

func (e *Election) validate() error {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	switch {
	case e.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidElection)
	case e.ClassID == "":
		return fmt.Errorf("%w: class is required", ErrInvalidElection)
	case e.StartDate.IsZero() || e.EndDate.IsZero():
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidDates)
	case !e.EndDate.After(e.StartDate):
		return fmt.Errorf("%w: end must be after start", ErrInvalidDates)
	}
	return nil
}
