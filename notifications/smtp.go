// Package notifications turns published domain events into e-mails for the finance
// and OPEC teams.
package notifications

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
)

// Sender delivers one plain-text message.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, body string) error
}

// SMTPMailer sends through a submission server; port 465 uses implicit TLS, other
// ports upgrade with STARTTLS when offered.
type SMTPMailer struct {
	Settings config.SMTPSettings
	Timeout  time.Duration
}

func NewSMTPMailer(settings config.SMTPSettings) *SMTPMailer {
	return &SMTPMailer{Settings: settings, Timeout: 15 * time.Second}
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject string, body string) error {
	if !m.Settings.Enabled() {
		return errors.New("smtp is not configured")
	}
	if len(to) == 0 {
		return nil
	}
	cfg := m.Settings
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client, err := m.client(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(parseAddress(cfg.From)); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(buildMessage(cfg.From, to, subject, body))); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (m *SMTPMailer) client(ctx context.Context, addr string) (*smtp.Client, error) {
	host := m.Settings.Host
	dialer := &net.Dialer{Timeout: m.Timeout}
	if m.Settings.Port == 465 {
		conn, err := (&tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host}}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, host)
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

func buildMessage(from string, to []string, subject string, body string) string {
	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}
	return strings.Join(headers, "\r\n")
}

func parseAddress(from string) string {
	start := strings.Index(from, "<")
	end := strings.Index(from, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(from[start+1 : end])
	}
	return strings.TrimSpace(from)
}
