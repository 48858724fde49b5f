// Package mailer delivers login links to site members.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gatewarden/gatewarden/pkg/config"
)

// Sender delivers a login link to an email address. siteURL is the
// site the link grants access to, shown to the recipient.
type Sender interface {
	SendLoginLink(ctx context.Context, email, siteURL, loginURL string) error
}

// New creates a Sender for the configured delivery mode.
func New(log logrus.FieldLogger, cfg *config.MailerConfig) (Sender, error) {
	switch cfg.Mode {
	case "log":
		return &logSender{
			log: log.WithField("component", "mailer"),
		}, nil
	case "smtp":
		return &smtpSender{
			log: log.WithField("component", "mailer"),
			cfg: &cfg.SMTP,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mailer mode: %s", cfg.Mode)
	}
}

// logSender writes login links to the log instead of sending mail.
// Meant for development and tests.
type logSender struct {
	log logrus.FieldLogger
}

func (s *logSender) SendLoginLink(
	_ context.Context, email, siteURL, loginURL string,
) error {
	s.log.WithField("email", email).
		WithField("site", siteURL).
		WithField("url", loginURL).
		Info("Login link")

	return nil
}

type smtpSender struct {
	log logrus.FieldLogger
	cfg *config.SMTPConfig
}

func (s *smtpSender) SendLoginLink(
	ctx context.Context, email, siteURL, loginURL string,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := buildMessage(s.cfg.From, email, siteURL, loginURL)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if err := smtp.SendMail(
		addr, auth, s.cfg.From, []string{email}, message,
	); err != nil {
		return fmt.Errorf("sending login link to %s: %w", email, err)
	}

	s.log.WithField("email", email).
		WithField("site", siteURL).
		Info("Login link sent")

	return nil
}

func buildMessage(from, to, siteURL, loginURL string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Log in to %s\r\n", siteURL)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Follow this link to log in to %s:\r\n\r\n", siteURL)
	fmt.Fprintf(&b, "    %s\r\n\r\n", loginURL)
	b.WriteString("The link is valid for a limited time and only from this site.\r\n")
	b.WriteString("If you did not request it, you can ignore this message.\r\n")

	return []byte(b.String())
}
