package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/campaignkit/outreach/internal/config"
)

// SMTPSender delivers mail over plain SMTP. SMTP dial and write errors
// carry no provider status, so they classify as transient.
type SMTPSender struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	return &SMTPSender{
		dialer:    gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.fromEmail, s.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	}
}

// NewSender picks the transport configured for this deployment.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	switch cfg.Provider {
	case "sendgrid":
		return NewSendGridSender(cfg), nil
	case "smtp":
		return NewSMTPSender(cfg), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
