// Package email sends the review notification mail. One HTML message per
// call, no queueing; the executor treats send failures as non-fatal.
package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	// From is the envelope sender, a bare mailbox address.
	From string
	// FromName is an optional display name for the From header.
	FromName string
}

type Sender struct {
	config Config
	auth   smtp.Auth
}

// NewSender builds a sender. With empty credentials it talks to the relay
// unauthenticated, which is how the local dev mailcatcher runs.
func NewSender(config Config) *Sender {
	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	return &Sender{
		config: config,
		auth:   auth,
	}
}

// SendMail delivers a single HTML message. Header values are stripped of CR
// and LF so recipient or subject strings cannot smuggle extra headers in.
func (s *Sender) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.config.Host, s.config.Port)

	fromHeader := s.config.From
	if strings.TrimSpace(s.config.FromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", sanitizeHeader(fromHeader))
	fmt.Fprintf(&msg, "To: %s\r\n", sanitizeHeader(to))
	fmt.Fprintf(&msg, "Subject: %s\r\n", sanitizeHeader(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	body := []byte(msg.String())
	to = sanitizeHeader(to)

	if s.auth != nil {
		return smtp.SendMail(addr, s.auth, s.config.From, []string{to}, body)
	}

	return s.sendUnauthenticated(ctx, addr, to, body)
}

func (s *Sender) sendUnauthenticated(ctx context.Context, addr, to string, body []byte) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Mail(s.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("open data stream: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish data stream: %w", err)
	}

	return c.Quit()
}

var headerSanitizer = strings.NewReplacer("\r", "", "\n", "")

func sanitizeHeader(s string) string {
	return headerSanitizer.Replace(s)
}
