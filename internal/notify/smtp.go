package notify

import (
	"context"
	"fmt"
	"time"

	mail "gopkg.in/mail.v2"

	"classvote.org/internal/ids"
	"classvote.org/internal/obs"
)

// SMTPConfig describes the outbound relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPTransport sends mail through an SMTP relay.
type SMTPTransport struct {
	dialer *mail.Dialer
	from   string
	domain string
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return &SMTPTransport{dialer: d, from: cfg.From, domain: cfg.Host}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@%s>", ids.New(), t.domain)
	m := mail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	if err := t.dialer.DialAndSend(m); err != nil {
		return "", err
	}
	return id, nil
}

// LogTransport writes messages to the operational log instead of sending them.
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	id := ids.New()
	obs.Info("email_logged", map[string]any{
		"message_id": id,
		"to":         msg.To,
		"subject":    msg.Subject,
		"body":       msg.Text,
	})
	return id, nil
}
