package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"classvote.org/internal/auth"
	"classvote.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestCreateLogMirrorsEntry(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithClient(ctx, "10.0.0.7", "test-agent")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: "user-42", Role: auth.RoleAdmin})

	store := NewMemoryStore()
	l := New(store)
	got := l.CreateLog(ctx, Entry{Action: ActionClassCreated, Details: map[string]any{"foo": "bar"}})
	if got == nil {
		t.Fatal("expected stored entry")
	}
	if got.ActorID != "user-42" || got.IP != "10.0.0.7" || got.UserAgent != "test-agent" {
		t.Fatalf("context metadata not applied: %+v", got)
	}
	if got.Status != StatusSuccess {
		t.Fatalf("default status = %q", got.Status)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one stored entry, got %d", store.Len())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "class_created" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-123" || entry["user_id"] != "user-42" {
		t.Fatalf("unexpected ids: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, *Entry) error { return errors.New("disk full") }
func (failingStore) Query(context.Context, Filter) ([]Entry, int, error) {
	return nil, 0, errors.New("disk full")
}

func TestCreateLogSwallowsStoreFailure(t *testing.T) {
	buf := captureLog(t)

	l := New(failingStore{})
	if got := l.CreateLog(context.Background(), Entry{Action: ActionVoteCast}); got != nil {
		t.Fatalf("expected nil on failure, got %+v", got)
	}
	if !strings.Contains(buf.String(), "audit_write_failed") {
		t.Fatalf("failure not reported: %s", buf.String())
	}

	var nilLogger *Logger
	if got := nilLogger.CreateLog(context.Background(), Entry{Action: ActionVoteCast}); got == nil {
		t.Fatal("nil logger should still produce the mirrored entry")
	}
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	captureLog(t)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	store := NewMemoryStore()
	l := New(store, WithClock(func() time.Time { return clock }))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		l.CreateLog(ctx, Entry{Action: ActionVoteCast, ActorID: "s1"})
	}
	clock = base.Add(10 * time.Minute)
	l.CreateLog(ctx, Entry{Action: ActionUserLoginFailed, Status: StatusFailure})

	page, err := l.Query(ctx, Filter{Action: ActionVoteCast, PageSize: 2, Page: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 2 {
		t.Fatalf("unexpected page: total=%d len=%d", page.Total, len(page.Entries))
	}
	if !page.Entries[0].CreatedAt.After(page.Entries[1].CreatedAt) {
		t.Fatalf("entries not newest first")
	}

	failures, err := l.Query(ctx, Filter{Status: StatusFailure})
	if err != nil || failures.Total != 1 {
		t.Fatalf("status filter: total=%d err=%v", failures.Total, err)
	}

	window, err := l.Query(ctx, Filter{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	if err != nil || window.Total != 3 {
		t.Fatalf("time filter: total=%d err=%v", window.Total, err)
	}

	if _, err := l.Query(ctx, Filter{From: base.Add(time.Hour), To: base}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if _, err := l.Query(ctx, Filter{PageSize: 1000}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter for page size, got %v", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("VOTE_CAST"); err != nil || a != ActionVoteCast {
		t.Fatalf("ParseAction: %v %v", a, err)
	}
	if _, err := ParseAction("drop_tables"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if _, err := ParseStatus("maybe"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}
