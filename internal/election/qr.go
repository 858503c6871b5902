package election

import (
	"context"
	"fmt"
	"time"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/ids"
)

const qrTokenBytes = 32

// PublicAccessInput carries optional public access changes.
type PublicAccessInput struct {
	AllowAnonymousVoting *bool `json:"allow_anonymous_voting"`
	RequireRollNumber    *bool `json:"require_roll_number"`
}

// GenerateQRToken issues the election's access token on first use and
// enables the link. Later calls return the same token.
func (s *Service) GenerateQRToken(ctx context.Context, p auth.Principal, electionID string) (QRAccess, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return QRAccess{}, err
	}
	token := e.QR.AccessToken
	if token == "" {
		if token, err = ids.Token(qrTokenBytes); err != nil {
			return QRAccess{}, err
		}
	}
	qr, err := s.store.SetQRToken(ctx, e.ID, token, s.now().UTC())
	if err != nil {
		return QRAccess{}, err
	}
	s.audit.Record(ctx, audit.ActionQRGenerated, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"reused":      e.QR.AccessToken != "",
	})
	return qr, nil
}

// ToggleQRAccess flips whether the link accepts votes. The token is kept.
func (s *Service) ToggleQRAccess(ctx context.Context, p auth.Principal, electionID string) (QRAccess, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return QRAccess{}, err
	}
	qr, err := s.store.ToggleQR(ctx, e.ID, s.now().UTC())
	if err != nil {
		return QRAccess{}, err
	}
	s.audit.Record(ctx, audit.ActionQRToggled, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"enabled":     qr.Enabled,
	})
	return qr, nil
}

// SetPublicAccess changes the anonymous voting policy.
func (s *Service) SetPublicAccess(ctx context.Context, p auth.Principal, electionID string, in PublicAccessInput) (PublicAccess, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return PublicAccess{}, err
	}
	pa := e.PublicAccess
	if in.AllowAnonymousVoting != nil {
		pa.AllowAnonymousVoting = *in.AllowAnonymousVoting
	}
	if in.RequireRollNumber != nil {
		pa.RequireRollNumber = *in.RequireRollNumber
	}
	if err := s.store.SetPublicAccess(ctx, e.ID, pa.AllowAnonymousVoting, pa.RequireRollNumber, s.now().UTC()); err != nil {
		return PublicAccess{}, err
	}
	s.audit.Record(ctx, audit.ActionPublicAccessUpdated, audit.StatusSuccess, map[string]any{
		"election_id":            e.ID,
		"allow_anonymous_voting": pa.AllowAnonymousVoting,
		"require_roll_number":    pa.RequireRollNumber,
	})
	return pa, nil
}

// AddVotingTimeSlot appends an active slot. Slots are ORed together.
func (s *Service) AddVotingTimeSlot(ctx context.Context, p auth.Principal, electionID string, start, end time.Time) (TimeSlot, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return TimeSlot{}, err
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return TimeSlot{}, fmt.Errorf("%w: %s - %s", ErrInvalidTimeSlot, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	slot := TimeSlot{ID: ids.New(), Start: start.UTC(), End: end.UTC(), Active: true}
	if err := s.store.AddTimeSlot(ctx, e.ID, slot); err != nil {
		return TimeSlot{}, err
	}
	s.audit.Record(ctx, audit.ActionTimeSlotAdded, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"slot_id":     slot.ID,
	})
	return slot, nil
}

// RemoveVotingTimeSlot deletes a slot.
func (s *Service) RemoveVotingTimeSlot(ctx context.Context, p auth.Principal, electionID, slotID string) error {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveTimeSlot(ctx, e.ID, slotID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.ActionTimeSlotRemoved, audit.StatusSuccess, map[string]any{
		"election_id": e.ID,
		"slot_id":     slotID,
	})
	return nil
}
