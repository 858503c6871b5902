package election

import (
	"context"

	"classvote.org/internal/audit"
	"classvote.org/internal/auth"
	"classvote.org/internal/classes"
	"classvote.org/internal/identity"
	"classvote.org/internal/notify"
	"classvote.org/internal/obs"
)

// ReminderReport summarizes a reminder run. Delivery happens in the
// background; its outcome is written to the audit log.
type ReminderReport struct {
	ElectionID string `json:"election_id"`
	Queued     int    `json:"queued"`
	Skipped    int    `json:"skipped"`
}

// SendReminders emails the class's students who have not voted yet in an
// open election.
func (s *Service) SendReminders(ctx context.Context, p auth.Principal, electionID string) (ReminderReport, error) {
	e, err := s.manageable(ctx, p, electionID)
	if err != nil {
		return ReminderReport{}, err
	}
	if !e.IsActive(s.now().UTC()) {
		return ReminderReport{}, ErrElectionNotActive
	}
	class, err := s.classes.GetClass(ctx, e.ClassID)
	if err != nil {
		return ReminderReport{}, err
	}
	voters, err := s.store.VoterIDs(ctx, e.ID)
	if err != nil {
		return ReminderReport{}, err
	}
	voted := make(map[string]bool, len(voters))
	for _, id := range voters {
		voted[id] = true
	}
	report := s.broadcast(ctx, e, class, notify.NoticeReminder, voted, func(ctx context.Context, r ReminderReport, sent, failed int) {
		s.audit.Record(ctx, audit.ActionRemindersSent, audit.StatusSuccess, map[string]any{
			"election_id": r.ElectionID,
			"sent":        sent,
			"failed":      failed,
			"skipped":     r.Skipped,
		})
	})
	return report, nil
}

// broadcast queues an email about e to every active student of class,
// except those in skip, and returns once the recipients are known. done,
// when set, runs after the last delivery with the outcome. Delivery
// failures are counted and logged, never returned.
func (s *Service) broadcast(ctx context.Context, e Election, class classes.Class, kind notify.NoticeKind, skip map[string]bool, done func(ctx context.Context, r ReminderReport, sent, failed int)) ReminderReport {
	report := ReminderReport{ElectionID: e.ID}
	if s.notifier == nil || s.users == nil {
		return report
	}
	students, err := s.users.ListStudents(ctx, class.ID)
	if err != nil {
		obs.Error("election_notice_failed", map[string]any{"election_id": e.ID, "error": err})
		return report
	}
	notice := notify.ElectionNotice{
		Kind:      kind,
		Title:     e.Title,
		ClassName: class.FullName(),
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Link:      s.baseURL + "/elections/" + e.ID,
	}
	var recipients []identity.User
	for _, st := range students {
		if skip[st.ID] {
			report.Skipped++
			continue
		}
		recipients = append(recipients, st)
	}
	report.Queued = len(recipients)
	queued := report
	s.outbox.Go(ctx, "election_notice", func(ctx context.Context) {
		sent, failed := 0, 0
		for _, st := range recipients {
			if res := s.notifier.SendElectionNotificationEmail(ctx, st.Email, st.Name, notice); res.Success {
				sent++
			} else {
				failed++
			}
		}
		if failed > 0 {
			obs.Warn("election_notice_undelivered", map[string]any{"election_id": e.ID, "kind": string(kind), "failed": failed})
		}
		if done != nil {
			done(ctx, queued, sent, failed)
		}
	})
	return report
}
