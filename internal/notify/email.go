package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/config"
)

var errNoRecipient = errors.New("user has no email address")

type EmailSender struct {
	cfg config.SMTPConfig
}

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	to := strings.TrimSpace(msg.Email)
	if to == "" {
		return skipped(ChannelEmail, "no_recipient"), errNoRecipient
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return DeliveryResult{}, fmt.Errorf("smtp handshake with %s: %w", addr, err)
	}
	defer client.Close()

	if s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return DeliveryResult{}, fmt.Errorf("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return DeliveryResult{}, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if strings.TrimSpace(s.cfg.Username) != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return DeliveryResult{}, fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	from, err := mail.ParseAddress(strings.TrimSpace(s.cfg.From))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("invalid SMTP_FROM: %w", err)
	}
	if err := client.Mail(from.Address); err != nil {
		return DeliveryResult{}, fmt.Errorf("smtp MAIL command failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return DeliveryResult{}, fmt.Errorf("smtp RCPT command failed for %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("smtp DATA command failed: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(s.cfg.From, to, msg.Title, msg.Body))); err != nil {
		_ = w.Close()
		return DeliveryResult{}, err
	}
	if err := w.Close(); err != nil {
		return DeliveryResult{}, err
	}
	if err := client.Quit(); err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Status: StatusSent, Channel: ChannelEmail}, nil
}

func buildMessage(from, to, subject, body string) string {
	stripCRLF := strings.NewReplacer("\r", "", "\n", " ")
	headers := []string{
		"From: " + from,
		"To: " + stripCRLF.Replace(to),
		"Subject: " + stripCRLF.Replace(subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
	}
	return strings.Join(headers, "\r\n") + body
}
