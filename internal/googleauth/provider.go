// Package googleauth exchanges stored Google refresh tokens for short-lived
// access tokens used by the sheet write-back path.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/campaignkit/outreach/internal/config"
)

const defaultTokenURL = "https://oauth2.googleapis.com/token"

// Provider refreshes access tokens and caches them for most of their
// lifetime so one worker run does not hammer the token endpoint.
type Provider struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokenURL     string
	tokens       *cache.Cache
}

func NewProvider(cfg config.GoogleConfig) *Provider {
	return &Provider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		tokenURL:     defaultTokenURL,
		// Google access tokens live ~1 hour; expire the cache well short
		// of that so a cached token is always still usable.
		tokens: cache.New(45*time.Minute, 10*time.Minute),
	}
}

// AccessToken exchanges refreshToken for an access token. Returns empty
// string without error when refreshToken is empty, matching the pipeline's
// treatment of a missing credential as "skip write-back".
func (p *Provider) AccessToken(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", nil
	}

	if tok, found := p.tokens.Get(refreshToken); found {
		return tok.(string), nil
	}

	form := url.Values{}
	form.Set("client_id", p.clientID)
	form.Set("client_secret", p.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("token refresh rejected (status %d): %s", resp.StatusCode, raw)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}

	ttl := cache.DefaultExpiration
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn)*time.Second - 5*time.Minute
	}
	p.tokens.Set(refreshToken, parsed.AccessToken, ttl)

	return parsed.AccessToken, nil
}
