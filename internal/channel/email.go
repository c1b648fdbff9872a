package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

// EmailOptions hold the outbound SMTP account shared by all email channels.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Email sends plain-text mail over SMTP.
type Email struct {
	opts EmailOptions
}

func NewEmail(opts EmailOptions) *Email {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &Email{opts: opts}
}

func (e *Email) Send(ctx context.Context, cfg domain.ChannelConfig, title, message string) error {
	if strings.TrimSpace(e.opts.Host) == "" {
		return errors.New("smtp host is not configured")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = title
	}

	addr := fmt.Sprintf("%s:%d", e.opts.Host, e.opts.Port)
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer conn.Close()

	// net/smtp is not context-aware. The conn deadline bounds every protocol
	// step after the dial, including reads through the StartTLS wrapper.
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(d)
	}

	c, err := smtp.NewClient(conn, e.opts.Host)
	if err != nil {
		return fmt.Errorf("smtp client failed: %w", err)
	}
	defer func() { _ = c.Quit() }()

	if e.opts.Username != "" {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: e.opts.Host}); err != nil {
				return fmt.Errorf("smtp starttls failed: %w", err)
			}
		}
		auth := smtp.PlainAuth("", e.opts.Username, e.opts.Password, e.opts.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := c.Mail(e.opts.From); err != nil {
		return fmt.Errorf("smtp MAIL FROM failed: %w", err)
	}
	if err := c.Rcpt(cfg.To); err != nil {
		return fmt.Errorf("smtp RCPT TO failed: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA failed: %w", err)
	}
	if _, err := w.Write([]byte(textEmail(e.opts.From, cfg.To, subject, message))); err != nil {
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	return nil
}

func textEmail(from, to, subject, body string) string {
	if strings.TrimSpace(body) == "" {
		body = "(empty)"
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")

	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
		"Date: " + time.Now().Format(time.RFC1123Z),
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body + "\r\n"
}
