package delivery

import (
	"context"
	"fmt"

	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/sheets"
	"github.com/campaignkit/outreach/pkg/circuitbreaker"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
)

// SheetWriter writes the outcome marker back to the source sheet.
type SheetWriter interface {
	UpdateCell(ctx context.Context, accessToken, sheetID, cellRange, value string) error
}

// TokenProvider turns a stored refresh token into an access token.
type TokenProvider interface {
	AccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Notifier posts a one-line outcome message to a webhook URL.
type Notifier interface {
	Notify(ctx context.Context, url, message string) error
}

// Outcome describes one resolved delivery for propagation.
type Outcome struct {
	Status    model.RecipientStatus
	Recipient *model.Recipient
	Campaign  *model.Campaign
	User      *model.User
	Job       *model.SendJob
	Reason    string
}

// Propagator pushes resolved outcomes to the sheet and the user's webhook.
// Both targets are best-effort: a failure here is logged and counted but
// never changes the recipient's committed status and never retries the job.
type Propagator struct {
	sheets   SheetWriter
	tokens   TokenProvider
	notifier Notifier
	logger   *logger.Logger
	metrics  *metrics.Metrics

	sheetBreaker   *circuitbreaker.CircuitBreaker
	webhookBreaker *circuitbreaker.CircuitBreaker
}

func NewPropagator(sheetWriter SheetWriter, tokens TokenProvider, notifier Notifier, logger *logger.Logger, metrics *metrics.Metrics) *Propagator {
	return &Propagator{
		sheets:         sheetWriter,
		tokens:         tokens,
		notifier:       notifier,
		logger:         logger,
		metrics:        metrics,
		sheetBreaker:   circuitbreaker.New(circuitbreaker.Settings{Name: "sheet-writeback"}),
		webhookBreaker: circuitbreaker.New(circuitbreaker.Settings{Name: "webhook-notify"}),
	}
}

func (p *Propagator) Propagate(ctx context.Context, outcome *Outcome) {
	p.writeSheetStatus(ctx, outcome)
	p.notifyWebhook(ctx, outcome)
}

func (p *Propagator) writeSheetStatus(ctx context.Context, outcome *Outcome) {
	statusCol := outcome.Campaign.ColumnMapping[model.FieldStatus]
	if statusCol == "" {
		return
	}

	token := p.resolveToken(ctx, outcome)
	if token == "" {
		p.logger.Warn("no sheet credential available, skipping write-back",
			"recipient_id", outcome.Recipient.ID.String())
		return
	}

	cellRange := sheets.StatusRange(statusCol, outcome.Recipient.RowIndex)
	err := p.sheetBreaker.Execute(func() error {
		return p.sheets.UpdateCell(ctx, token, outcome.Campaign.SheetID, cellRange, string(outcome.Status))
	})
	if err != nil {
		p.metrics.PropagationErrors.WithLabelValues("sheet").Inc()
		p.logger.Error(err, "sheet write-back failed (non-fatal)",
			"recipient_id", outcome.Recipient.ID.String(), "range", cellRange)
	}
}

func (p *Propagator) notifyWebhook(ctx context.Context, outcome *Outcome) {
	if outcome.User.DiscordWebhookURL == nil || *outcome.User.DiscordWebhookURL == "" {
		return
	}

	var message string
	data := outcome.Recipient.Data
	if outcome.Status == model.RecipientStatusSent {
		name := data["Name"]
		if name == "" {
			name = outcome.Recipient.Email()
		}
		message = fmt.Sprintf("Email sent to %s (%s), campaign %q",
			name, outcome.Recipient.Email(), outcome.Campaign.Name)
	} else {
		reason := outcome.Reason
		if reason == "" {
			reason = "unknown error"
		}
		message = fmt.Sprintf("Permanent failure sending to %s: %s",
			outcome.Recipient.Email(), reason)
	}

	err := p.webhookBreaker.Execute(func() error {
		return p.notifier.Notify(ctx, *outcome.User.DiscordWebhookURL, message)
	})
	if err != nil {
		p.metrics.PropagationErrors.WithLabelValues("webhook").Inc()
		p.logger.Error(err, "webhook notify failed (non-fatal)",
			"recipient_id", outcome.Recipient.ID.String())
	}
}

// resolveToken prefers a fresh token from the user's stored refresh token
// and falls back to the short-lived provider token captured at campaign
// creation.
func (p *Propagator) resolveToken(ctx context.Context, outcome *Outcome) string {
	if outcome.User.GoogleRefreshToken != nil && *outcome.User.GoogleRefreshToken != "" {
		token, err := p.tokens.AccessToken(ctx, *outcome.User.GoogleRefreshToken)
		if err != nil {
			p.metrics.PropagationErrors.WithLabelValues("token").Inc()
			p.logger.Error(err, "token refresh failed (non-fatal)",
				"user_id", outcome.User.ID.String())
		} else if token != "" {
			return token
		}
	}
	return outcome.Job.ProviderToken
}
