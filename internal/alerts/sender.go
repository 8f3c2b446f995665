// Package alerts emails the operations inbox about conditions that need a
// human: dead-lettered deliveries and sweep runs with errors.
package alerts

import (
	"context"
	"fmt"
	"net"
	"time"

	"leadgate_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Sender delivers plain-text alert mails over the configured SMTP server.
type Sender struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
}

// NewSender returns nil when alerting is disabled; a nil sender drops
// alerts silently.
func NewSender(cfg config.AlertConfig) *Sender {
	if !cfg.GetAlertsEnabled() || cfg.GetSMTPHost() == "" {
		return nil
	}

	return &Sender{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetAlertFromAddress(),
		to:       cfg.GetAlertToAddress(),
	}
}

func (s *Sender) Send(ctx context.Context, subject, body string) error {
	if s == nil {
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("alert from: %w", err)
	}
	if err := msg.To(s.to); err != nil {
		return fmt.Errorf("alert to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("alert smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("alert smtp send: %w", err)
	}

	return nil
}
