package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// SMTPSender sends outbound mail through the user's own account. It is
// the delivery channel of the mailto unsubscribe strategy.
type SMTPSender struct {
	cfg      model.SMTPConfig
	username string
	password string
}

// NewSMTPSender creates an SMTP sender for the given account.
func NewSMTPSender(cfg model.SMTPConfig, username, password string) *SMTPSender {
	return &SMTPSender{cfg: cfg, username: username, password: password}
}

// Send delivers a plain-text message. The connection uses implicit TLS
// or STARTTLS depending on configuration.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.username))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	addr := s.cfg.Host + ":" + s.cfg.Port

	if s.cfg.TLS {
		return s.sendWithTLS(addr, to, msg.String())
	}
	return s.sendWithStartTLS(addr, to, msg.String())
}

// sendWithTLS sends an email over an implicit TLS connection.
func (s *SMTPSender) sendWithTLS(addr, to, body string) error {
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.username, s.password, s.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return s.sendViaClient(client, to, body)
}

// sendWithStartTLS sends an email using STARTTLS.
func (s *SMTPSender) sendWithStartTLS(addr, to, body string) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: s.cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", s.username, s.password, s.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return s.sendViaClient(client, to, body)
}

// sendViaClient sends a message using an already-authenticated SMTP client.
func (s *SMTPSender) sendViaClient(client *smtp.Client, to, body string) error {
	if err := client.Mail(s.username); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing message: %w", err)
	}

	return client.Quit()
}
