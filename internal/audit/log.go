package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"classvote.org/internal/auth"
	"classvote.org/internal/ids"
	"classvote.org/internal/obs"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Entry is one append-only system log record.
type Entry struct {
	ID        string         `json:"id"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	Details   map[string]any `json:"details"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Status    Status         `json:"status"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Action   Action
	Status   Status
	ActorID  string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Page is one page of Query results, newest first.
type Page struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Logger is the audit log front end used by services. The zero value and a
// nil *Logger are both safe and only mirror to the operational log.
type Logger struct {
	store Store
	now   func() time.Time
}

// Option configures Logger.
type Option func(*Logger)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New builds a Logger on top of store, which may be nil.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateLog records e and returns the stored entry. Failures are never
// propagated: they are reported on the operational log and nil is returned.
func (l *Logger) CreateLog(ctx context.Context, e Entry) *Entry {
	now := time.Now
	if l != nil && l.now != nil {
		now = l.now
	}
	e.ID = ids.New()
	e.CreatedAt = now().UTC()
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.ActorID == "" {
		if uid, ok := auth.UserIDFromContext(ctx); ok {
			e.ActorID = uid
		}
	}
	meta := clientFromContext(ctx)
	if e.IP == "" {
		e.IP = meta.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = meta.UserAgent
	}
	if e.RequestID == "" {
		e.RequestID = requestIDFromContext(ctx)
	}

	emit(e)

	if l == nil || l.store == nil {
		return &e
	}
	if err := l.store.Append(ctx, &e); err != nil {
		obs.AuditWriteFailed()
		obs.Error("audit_write_failed", map[string]any{
			"action":     string(e.Action),
			"request_id": e.RequestID,
			"error":      err.Error(),
		})
		return nil
	}
	return &e
}

// Record is CreateLog for callers that only need the side effect.
func (l *Logger) Record(ctx context.Context, action Action, status Status, details map[string]any) {
	l.CreateLog(ctx, Entry{Action: action, Status: status, Details: details})
}

// Query returns entries matching f, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) (Page, error) {
	if l == nil || l.store == nil {
		return Page{}, fmt.Errorf("audit store unavailable")
	}
	f, err := normalizeFilter(f)
	if err != nil {
		return Page{}, err
	}
	entries, total, err := l.store.Query(ctx, f)
	if err != nil {
		return Page{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Entries: entries, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func normalizeFilter(f Filter) (Filter, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = defaultPageSize
	}
	if f.Page < 1 {
		return f, fmt.Errorf("%w: page must be >= 1", ErrInvalidFilter)
	}
	if f.PageSize < 1 || f.PageSize > maxPageSize {
		return f, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidFilter, maxPageSize)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, fmt.Errorf("%w: from is after to", ErrInvalidFilter)
	}
	f.ActorID = strings.TrimSpace(f.ActorID)
	return f, nil
}

// Offset returns the number of rows to skip for f.
func (f Filter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// Matches reports whether e satisfies f, ignoring pagination.
func (f Filter) Matches(e Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// emit mirrors the entry on the operational log.
func emit(e Entry) {
	entry := map[string]any{
		"ts":     e.CreatedAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  string(e.Action),
		"status": string(e.Status),
		"fields": e.Details,
	}
	if e.RequestID != "" {
		entry["request_id"] = e.RequestID
	}
	if e.ActorID != "" {
		entry["user_id"] = e.ActorID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		obs.Error("audit_marshal_failed", map[string]any{"action": string(e.Action)})
		return
	}
	obs.Logger().Println(string(data))
}
