package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/campaignkit/outreach/internal/config"
)

const sendgridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGridSender delivers mail through the SendGrid v3 API.
type SendGridSender struct {
	apiKey    string
	fromEmail string
	fromName  string
	client    *http.Client
	url       string
}

func NewSendGridSender(cfg config.EmailConfig) *SendGridSender {
	return &SendGridSender{
		apiKey:    cfg.SendGridAPIKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		client:    &http.Client{Timeout: 30 * time.Second},
		url:       sendgridURL,
	}
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgRequest struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From    sgAddress `json:"from"`
	Subject string    `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	req := sgRequest{
		From:    sgAddress{Email: s.fromEmail, Name: s.fromName},
		Subject: subject,
	}
	req.Personalizations = []struct {
		To []sgAddress `json:"to"`
	}{{To: []sgAddress{{Email: to}}}}
	req.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/html", Value: htmlBody}}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal sendgrid request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sendgrid request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	sendErr := &SendError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed struct {
		Errors []ProviderError `json:"errors"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		sendErr.Errors = parsed.Errors
	}
	return sendErr
}
