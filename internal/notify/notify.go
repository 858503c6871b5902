// Package notify delivers account and election emails. Delivery failures are
// reported in the returned Result and on the operational log; they are never
// returned as errors because no caller may fail on a lost email.
package notify

import (
	"context"
	"time"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Result reports the outcome of one delivery.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NoticeKind distinguishes election emails.
type NoticeKind string

const (
	NoticeCreated  NoticeKind = "created"
	NoticeReminder NoticeKind = "reminder"
)

// ElectionNotice is the data rendered into election emails.
type ElectionNotice struct {
	Kind      NoticeKind
	Title     string
	ClassName string
	StartDate time.Time
	EndDate   time.Time
	Link      string
}

// Notifier is what services depend on.
type Notifier interface {
	SendEmail(ctx context.Context, msg Message) Result
	SendVerificationEmail(ctx context.Context, to, name, token string) Result
	SendPasswordResetEmail(ctx context.Context, to, name, token string) Result
	SendElectionNotificationEmail(ctx context.Context, to, name string, notice ElectionNotice) Result
}
