// Package notify delivers signup notifications: the UUID reminder mail
// to the requesting user and optional admin copies by mail and Slack.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// MailerConfig configures SMTP delivery. From must be the first admin
// address; its local part doubles as the SMTP login name.
type MailerConfig struct {
	Logger         *slog.Logger
	Host           string
	Port           int
	From           string
	Password       string
	NotifyOnSignup bool
}

func (cfg *MailerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		return errors.New("smtp port is required")
	}
	if cfg.From == "" || !strings.Contains(cfg.From, "@") {
		return errors.New("from address is required")
	}
	return nil
}

// Mailer sends UUID reminder mail over SMTP with STARTTLS.
type Mailer struct {
	log *slog.Logger
	cfg MailerConfig
	now func() time.Time

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg MailerConfig) (*Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mailer{
		log:  cfg.Logger,
		cfg:  cfg,
		now:  time.Now,
		send: smtp.SendMail,
	}, nil
}

func (m *Mailer) auth() smtp.Auth {
	user := strings.SplitN(m.cfg.From, "@", 2)[0]
	return smtp.PlainAuth("", user, m.cfg.Password, m.cfg.Host)
}

func (m *Mailer) message(subject, to, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// SendUUIDReminder mails the access UUID of login to toEmail, greeting
// recipient by name, and copies the admin address when configured.
func (m *Mailer) SendUUIDReminder(login, recipient, toEmail, uuid string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	body := fmt.Sprintf(`Dear %s,

You, or someone else, requested the UUID for %s.

It allows you to find out the recent activity and carbon footprint of %s.

The UUID is: %s

(This is an automated email)
`, recipient, login, login, uuid)

	msg := m.message(
		fmt.Sprintf("Cluster carbon footprint: UUID reminder for %s", login),
		toEmail, body)
	if err := m.send(addr, m.auth(), m.cfg.From, []string{toEmail}, msg); err != nil {
		return fmt.Errorf("failed to send reminder to %s: %w", toEmail, err)
	}

	if !m.cfg.NotifyOnSignup {
		return nil
	}

	adminBody := fmt.Sprintf(`Someone asked for a UUID reminder:
User: %s
Name: %s
`, login, recipient)
	adminMsg := m.message(
		fmt.Sprintf("Cluster carbon footprint: UUID requested for %s", login),
		m.cfg.From, adminBody)
	if err := m.send(addr, m.auth(), m.cfg.From, []string{m.cfg.From}, adminMsg); err != nil {
		// The user already has their mail; an admin copy failure is
		// not worth failing the request over.
		m.log.Warn("notify: failed to send admin copy", "login", login, "error", err)
	}
	return nil
}
