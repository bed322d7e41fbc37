// Package delivery executes the per-recipient send lifecycle when a
// scheduled job comes due: pending to SENT or FAILED, with bounded retry on
// transient transport failures.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/campaignkit/outreach/internal/email"
	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/repository"
	"github.com/campaignkit/outreach/internal/service/template"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
	"github.com/campaignkit/outreach/pkg/queue"
)

// maxRecipientAttempts caps executed send attempts per recipient. It is
// deliberately tighter than the queue's own retry budget: the handler
// resolves the recipient to FAILED before the queue runs out of attempts.
const maxRecipientAttempts = 3

const errMissingEmail = "Missing email address"

type Service struct {
	recipients repository.RecipientRepository
	campaigns  repository.CampaignRepository
	users      repository.UserRepository
	sender     email.Sender
	renderer   *template.Renderer
	propagator *Propagator
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewService(
	recipients repository.RecipientRepository,
	campaigns repository.CampaignRepository,
	users repository.UserRepository,
	sender email.Sender,
	renderer *template.Renderer,
	propagator *Propagator,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		recipients: recipients,
		campaigns:  campaigns,
		users:      users,
		sender:     sender,
		renderer:   renderer,
		propagator: propagator,
		logger:     logger,
		metrics:    metrics,
	}
}

// HandleJob is the queue handler: it decodes and validates the payload,
// then runs the state machine. A payload failing validation is a permanent
// job failure, never a crash.
func (s *Service) HandleJob(ctx context.Context, payload []byte) error {
	var job model.SendJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("%w: undecodable payload: %v", queue.ErrPermanent, err)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return s.Process(ctx, &job)
}

// Process runs one delivery attempt for the job's recipient. Returning an
// error signals the queue to retry; returning nil resolves the job.
func (s *Service) Process(ctx context.Context, job *model.SendJob) error {
	// A missing entity is fatal for this attempt but retryable: it may be
	// a replication-lag race right after campaign creation.
	recipient, err := s.recipients.Get(ctx, job.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load recipient: %w", err)
	}
	campaign, err := s.campaigns.Get(ctx, recipient.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	user, err := s.users.Get(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	// Terminal states are sticky. A re-fired job for a resolved recipient
	// must never cause a second send.
	if recipient.Terminal() {
		s.logger.Debug("recipient already resolved, skipping",
			"recipient_id", recipient.ID.String(), "status", string(recipient.Status))
		return nil
	}

	to := recipient.Email()
	if to == "" {
		return s.failTerminal(ctx, recipient, campaign, user, job, errMissingEmail)
	}

	subject := s.renderer.Subject(recipient.Data)
	body := s.renderer.Body(recipient.Data)

	start := time.Now()
	sendErr := s.sender.Send(ctx, to, subject, body)
	s.metrics.SendLatency.Observe(time.Since(start).Seconds())

	if sendErr == nil {
		return s.succeed(ctx, recipient, campaign, user, job)
	}

	permanent := email.IsPermanent(sendErr)
	if permanent {
		s.metrics.EmailsFailed.WithLabelValues("permanent").Inc()
	} else {
		s.metrics.EmailsFailed.WithLabelValues("transient").Inc()
	}

	if permanent || recipient.Attempts+1 >= maxRecipientAttempts {
		return s.failTerminal(ctx, recipient, campaign, user, job, sendErr.Error())
	}

	// Transient with budget left: bump the counter and hand the job back
	// to the queue for a delayed retry.
	if err := s.recipients.RecordAttempt(ctx, recipient.ID, recipient.Attempts+1, sendErr.Error()); err != nil {
		s.logger.Error(err, "failed to record attempt", "recipient_id", recipient.ID.String())
	}
	s.logger.Warn("transient send failure, retrying",
		"recipient_id", recipient.ID.String(), "attempt", recipient.Attempts+1, "error", sendErr.Error())
	return sendErr
}

func (s *Service) succeed(ctx context.Context, recipient *model.Recipient, campaign *model.Campaign, user *model.User, job *model.SendJob) error {
	now := time.Now()
	updated, err := s.recipients.MarkTerminal(ctx, recipient.ID, model.RecipientStatusSent, recipient.Attempts+1, nil, &now)
	if err != nil {
		return fmt.Errorf("failed to mark recipient sent: %w", err)
	}
	if !updated {
		s.logger.Warn("recipient resolved concurrently, skipping propagation",
			"recipient_id", recipient.ID.String())
		return nil
	}

	s.metrics.EmailsSent.Inc()
	s.logger.Info("email sent",
		"recipient_id", recipient.ID.String(), "campaign_id", campaign.ID.String())

	s.propagator.Propagate(ctx, &Outcome{
		Status:    model.RecipientStatusSent,
		Recipient: recipient,
		Campaign:  campaign,
		User:      user,
		Job:       job,
	})
	s.maybeComplete(ctx, campaign)
	return nil
}

// failTerminal commits FAILED and never re-throws: this path is final and
// the queue must not retry it.
func (s *Service) failTerminal(ctx context.Context, recipient *model.Recipient, campaign *model.Campaign, user *model.User, job *model.SendJob, reason string) error {
	updated, err := s.recipients.MarkTerminal(ctx, recipient.ID, model.RecipientStatusFailed, recipient.Attempts+1, &reason, nil)
	if err != nil {
		return fmt.Errorf("failed to mark recipient failed: %w", err)
	}
	if !updated {
		return nil
	}

	s.logger.Warn("recipient failed terminally",
		"recipient_id", recipient.ID.String(), "reason", reason)

	s.propagator.Propagate(ctx, &Outcome{
		Status:    model.RecipientStatusFailed,
		Recipient: recipient,
		Campaign:  campaign,
		User:      user,
		Job:       job,
		Reason:    reason,
	})
	s.maybeComplete(ctx, campaign)
	return nil
}

// maybeComplete flips the campaign to completed once its last recipient has
// resolved. Best-effort: the campaign status is informational.
func (s *Service) maybeComplete(ctx context.Context, campaign *model.Campaign) {
	if campaign.Status == model.CampaignStatusCompleted {
		return
	}
	pending, err := s.recipients.CountPendingByCampaign(ctx, campaign.ID)
	if err != nil {
		s.logger.Error(err, "failed to count pending recipients", "campaign_id", campaign.ID.String())
		return
	}
	if pending > 0 {
		return
	}
	if err := s.campaigns.UpdateStatus(ctx, campaign.ID, model.CampaignStatusCompleted); err != nil {
		s.logger.Error(err, "failed to mark campaign completed", "campaign_id", campaign.ID.String())
		return
	}
	s.logger.Info("campaign completed", "campaign_id", campaign.ID.String())
}
