package audit

import (
	"fmt"
	"strings"

	"classvote.org/internal/apperr"
)

// Action is the closed set of audited operations.
type Action string

const (
	ActionUserRegister           Action = "user_register"
	ActionUserLogin              Action = "user_login"
	ActionUserLoginFailed        Action = "user_login_failed"
	ActionEmailVerified          Action = "email_verified"
	ActionPasswordResetRequested Action = "password_reset_requested"
	ActionPasswordResetCompleted Action = "password_reset_completed"
	ActionUserCreated            Action = "user_created"
	ActionUserUpdated            Action = "user_updated"
	ActionUserDeactivated        Action = "user_deactivated"
	ActionUserDeleted            Action = "user_deleted"
	ActionClassCreated           Action = "class_created"
	ActionClassUpdated           Action = "class_updated"
	ActionClassDeleted           Action = "class_deleted"
	ActionElectionCreated        Action = "election_created"
	ActionElectionUpdated        Action = "election_updated"
	ActionElectionActivated      Action = "election_activated"
	ActionElectionCompleted      Action = "election_completed"
	ActionElectionCancelled      Action = "election_cancelled"
	ActionElectionDeleted        Action = "election_deleted"
	ActionCandidateAdded         Action = "candidate_added"
	ActionCandidateUpdated       Action = "candidate_updated"
	ActionCandidateRemoved       Action = "candidate_removed"
	ActionVoteCast               Action = "vote_cast"
	ActionAnonymousVoteCast      Action = "anonymous_vote_cast"
	ActionQRGenerated            Action = "qr_generated"
	ActionQRToggled              Action = "qr_toggled"
	ActionPublicAccessUpdated    Action = "public_access_updated"
	ActionTimeSlotAdded          Action = "timeslot_added"
	ActionTimeSlotRemoved        Action = "timeslot_removed"
	ActionResultsCalculated      Action = "results_calculated"
	ActionResultsPublished       Action = "results_published"
	ActionRemindersSent          Action = "reminders_sent"
	ActionBackupCreated          Action = "backup_created"
	ActionSystemError            Action = "system_error"
)

var actions = map[Action]struct{}{
	ActionUserRegister: {}, ActionUserLogin: {}, ActionUserLoginFailed: {}, ActionEmailVerified: {},
	ActionPasswordResetRequested: {}, ActionPasswordResetCompleted: {}, ActionUserCreated: {},
	ActionUserUpdated: {}, ActionUserDeactivated: {}, ActionUserDeleted: {}, ActionClassCreated: {},
	ActionClassUpdated: {}, ActionClassDeleted: {}, ActionElectionCreated: {}, ActionElectionUpdated: {},
	ActionElectionActivated: {}, ActionElectionCompleted: {}, ActionElectionCancelled: {},
	ActionElectionDeleted: {}, ActionCandidateAdded: {}, ActionCandidateUpdated: {},
	ActionCandidateRemoved: {}, ActionVoteCast: {}, ActionAnonymousVoteCast: {}, ActionQRGenerated: {},
	ActionQRToggled: {}, ActionPublicAccessUpdated: {}, ActionTimeSlotAdded: {}, ActionTimeSlotRemoved: {},
	ActionResultsCalculated: {}, ActionResultsPublished: {}, ActionRemindersSent: {},
	ActionBackupCreated: {}, ActionSystemError: {},
}

// Status of an audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
)

var ErrInvalidFilter = apperr.New(apperr.KindValidation, "invalid_filter", "invalid log filter")

// ParseAction validates an action name.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := actions[a]; !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, raw)
	}
	return a, nil
}

// ParseStatus validates a status name.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusSuccess, StatusFailure, StatusWarning:
		return s, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, raw)
	}
}
