package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"classvote.org/internal/obs"
)

type flakyTransport struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []Message
}

func (f *flakyTransport) Send(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("connection refused")
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

func quietLog(t *testing.T) {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetOutput(io.Discard)
	t.Cleanup(func() { logger.SetOutput(original) })
}

func TestSendEmailRetriesThenSucceeds(t *testing.T) {
	quietLog(t)
	tr := &flakyTransport{failures: 2}
	m := NewMailer(tr, "https://vote.example.edu", WithInitialInterval(time.Millisecond))

	res := m.SendEmail(context.Background(), Message{To: "a@example.edu", Subject: "hi", Text: "hello"})
	if !res.Success || res.MessageID != "msg-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if tr.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.calls)
	}
}

func TestSendEmailGivesUp(t *testing.T) {
	quietLog(t)
	tr := &flakyTransport{failures: 100}
	m := NewMailer(tr, "", WithInitialInterval(time.Millisecond), WithMaxRetries(2))

	res := m.SendEmail(context.Background(), Message{To: "a@example.edu"})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if tr.calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", tr.calls)
	}
}

func TestSendEmailRequiresRecipient(t *testing.T) {
	quietLog(t)
	tr := &flakyTransport{}
	res := NewMailer(tr, "").SendEmail(context.Background(), Message{Subject: "x"})
	if res.Success || tr.calls != 0 {
		t.Fatalf("expected rejection without sending, got %+v calls=%d", res, tr.calls)
	}
}

func TestTemplatesCarryLinks(t *testing.T) {
	quietLog(t)
	tr := &flakyTransport{}
	m := NewMailer(tr, "https://vote.example.edu/")
	ctx := context.Background()

	m.SendVerificationEmail(ctx, "s@example.edu", "Sam", "tok en")
	m.SendPasswordResetEmail(ctx, "s@example.edu", "Sam", "reset1")
	m.SendElectionNotificationEmail(ctx, "s@example.edu", "Sam", ElectionNotice{
		Kind: NoticeReminder, Title: "CR 2026", ClassName: "CS - Year 3 - Section A",
		StartDate: time.Now(), EndDate: time.Now().Add(time.Hour),
	})
	if len(tr.sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(tr.sent))
	}
	if !strings.Contains(tr.sent[0].Text, "https://vote.example.edu/verify-email?token=tok+en") {
		t.Fatalf("verification link missing: %s", tr.sent[0].Text)
	}
	if !strings.Contains(tr.sent[1].Text, "/reset-password?token=reset1") {
		t.Fatalf("reset link missing: %s", tr.sent[1].Text)
	}
	if !strings.Contains(tr.sent[2].Subject, "reminder") || !strings.Contains(tr.sent[2].Text, "You have not voted yet") {
		t.Fatalf("reminder content missing: %+v", tr.sent[2])
	}
}
