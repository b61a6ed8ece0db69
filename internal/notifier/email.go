package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"example.com/iotmon/services/telemetry/config"

	"github.com/pkg/errors"
)

// Sender delivers alert notifications. Delivery failure is reported to
// the caller; the caller decides whether it matters.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// smtpSender implements Sender over plain SMTP
type smtpSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender creates an email sender
func NewSMTPSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{cfg: cfg}
}

// Send delivers one message. The context is accepted for interface
// symmetry; net/smtp does not support cancellation mid-send.
func (s *smtpSender) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return errors.Wrapf(err, "send mail to %s", to)
	}

	return nil
}
