package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/cenkalti/backoff/v4"

	"classvote.org/internal/obs"
)

const defaultMaxRetries = 3

// Transport hands a rendered message to the wire and returns its id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Mailer renders templates and delivers them through a Transport with
// exponential backoff.
type Mailer struct {
	transport  Transport
	baseURL    string
	appName    string
	maxRetries uint64
	initial    time.Duration
}

// MailerOption configures Mailer.
type MailerOption func(*Mailer)

// WithMaxRetries bounds delivery retries after the first attempt.
func WithMaxRetries(n uint64) MailerOption {
	return func(m *Mailer) { m.maxRetries = n }
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) MailerOption {
	return func(m *Mailer) {
		if d > 0 {
			m.initial = d
		}
	}
}

// WithAppName sets the product name used in subjects.
func WithAppName(name string) MailerOption {
	return func(m *Mailer) {
		if name = strings.TrimSpace(name); name != "" {
			m.appName = name
		}
	}
}

// NewMailer builds a Mailer; baseURL prefixes links in emails.
func NewMailer(t Transport, baseURL string, opts ...MailerOption) *Mailer {
	m := &Mailer{
		transport:  t,
		baseURL:    strings.TrimRight(baseURL, "/"),
		appName:    "ClassVote",
		maxRetries: defaultMaxRetries,
		initial:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Notifier = (*Mailer)(nil)

// ErrInvalidRecipient marks messages that can never be delivered.
var ErrInvalidRecipient = errors.New("notify: recipient is required")

func (m *Mailer) SendEmail(ctx context.Context, msg Message) Result {
	if strings.TrimSpace(msg.To) == "" {
		return m.report(msg, "", ErrInvalidRecipient)
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initial
	var retry backoff.BackOff = backoff.WithContext(backoff.WithMaxRetries(policy, m.maxRetries), ctx)

	var id string
	err := backoff.Retry(func() error {
		var sendErr error
		id, sendErr = m.transport.Send(ctx, msg)
		return sendErr
	}, retry)
	return m.report(msg, id, err)
}

func (m *Mailer) report(msg Message, id string, err error) Result {
	if err != nil {
		obs.EmailSent(false)
		obs.Warn("email_failed", map[string]any{
			"to":      msg.To,
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return Result{Success: false, Error: err.Error()}
	}
	obs.EmailSent(true)
	return Result{Success: true, MessageID: id}
}

func (m *Mailer) SendVerificationEmail(ctx context.Context, to, name, token string) Result {
	link := m.link("/verify-email", token)
	msg, err := m.render(to, m.appName+": verify your email", verificationTmpl, map[string]any{
		"Name": name, "Link": link, "App": m.appName, "Hours": 24,
	})
	if err != nil {
		return m.report(Message{To: to}, "", err)
	}
	return m.SendEmail(ctx, msg)
}

func (m *Mailer) SendPasswordResetEmail(ctx context.Context, to, name, token string) Result {
	link := m.link("/reset-password", token)
	msg, err := m.render(to, m.appName+": reset your password", resetTmpl, map[string]any{
		"Name": name, "Link": link, "App": m.appName, "Hours": 1,
	})
	if err != nil {
		return m.report(Message{To: to}, "", err)
	}
	return m.SendEmail(ctx, msg)
}

func (m *Mailer) SendElectionNotificationEmail(ctx context.Context, to, name string, n ElectionNotice) Result {
	subject := fmt.Sprintf("%s: new election %q", m.appName, n.Title)
	if n.Kind == NoticeReminder {
		subject = fmt.Sprintf("%s: reminder to vote in %q", m.appName, n.Title)
	}
	link := n.Link
	if link == "" {
		link = m.baseURL + "/elections"
	}
	msg, err := m.render(to, subject, electionTmpl, map[string]any{
		"Name":     name,
		"Title":    n.Title,
		"Class":    n.ClassName,
		"Start":    n.StartDate.UTC().Format(time.RFC1123),
		"End":      n.EndDate.UTC().Format(time.RFC1123),
		"Link":     link,
		"Reminder": n.Kind == NoticeReminder,
	})
	if err != nil {
		return m.report(Message{To: to}, "", err)
	}
	return m.SendEmail(ctx, msg)
}

func (m *Mailer) link(path, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}

type template struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func newTemplate(name, body string) template {
	return template{
		html: htmltemplate.Must(htmltemplate.New(name).Parse(body)),
		text: texttemplate.Must(texttemplate.New(name).Parse(body)),
	}
}

func (m *Mailer) render(to, subject string, t template, data map[string]any) (Message, error) {
	var html, text bytes.Buffer
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

var (
	verificationTmpl = newTemplate("verify", `Hello {{.Name}},

Confirm your {{.App}} account by opening the link below. It expires in {{.Hours}} hours.

{{.Link}}
`)
	resetTmpl = newTemplate("reset", `Hello {{.Name}},

A password reset was requested for your {{.App}} account. The link below expires in {{.Hours}} hour.
If you did not ask for this, ignore this email.

{{.Link}}
`)
	electionTmpl = newTemplate("election", `Hello {{.Name}},
{{if .Reminder}}
You have not voted yet in "{{.Title}}" for {{.Class}}. Voting closes {{.End}}.
{{else}}
A new election "{{.Title}}" has been scheduled for {{.Class}}.
Voting opens {{.Start}} and closes {{.End}}.
{{end}}
{{.Link}}
`)
)
