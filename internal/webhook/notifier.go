// Package webhook posts one-line outcome notifications to a user-configured
// Discord-compatible webhook URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Notifier struct {
	httpClient *http.Client
}

func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts {"content": message} to url. Callers treat failures as
// log-only; delivery status is never affected by this path.
func (n *Notifier) Notify(ctx context.Context, url, message string) error {
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("webhook rejected (status %d): %s", resp.StatusCode, raw)
	}
	return nil
}
