package delivery

import (
	"context"
	"time"

	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/repository"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/queue"
)

// Enqueuer schedules delivery jobs. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}, opts queue.Options) (string, error)
}

// Reaper is the safety net for the at-least-once contract: it periodically
// re-enqueues recipients that are still pending well past their send time,
// which happens when the planner's enqueue failed or a job was lost. The
// terminal-state guard in the handler makes duplicate jobs harmless.
type Reaper struct {
	recipients repository.RecipientRepository
	campaigns  repository.CampaignRepository
	enqueuer   Enqueuer
	interval   time.Duration
	minAge     time.Duration
	batchSize  int
	logger     *logger.Logger
}

func NewReaper(
	recipients repository.RecipientRepository,
	campaigns repository.CampaignRepository,
	enqueuer Enqueuer,
	interval, minAge time.Duration,
	logger *logger.Logger,
) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if minAge <= 0 {
		minAge = 2 * time.Hour
	}
	return &Reaper{
		recipients: recipients,
		campaigns:  campaigns,
		enqueuer:   enqueuer,
		interval:   interval,
		minAge:     minAge,
		batchSize:  100,
		logger:     logger,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error(err, "stale recipient sweep failed")
			}
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.minAge)
	stale, err := r.recipients.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return err
	}

	for _, recipient := range stale {
		campaign, err := r.campaigns.Get(ctx, recipient.CampaignID)
		if err != nil {
			r.logger.Error(err, "failed to load campaign for stale recipient",
				"recipient_id", recipient.ID.String())
			continue
		}

		job := &model.SendJob{
			RecipientID:   recipient.ID,
			UserID:        campaign.UserID,
			SheetID:       campaign.SheetID,
			RowIndex:      recipient.RowIndex,
			ColumnMapping: campaign.ColumnMapping,
		}
		if _, err := r.enqueuer.Enqueue(ctx, job, queue.Options{}); err != nil {
			r.logger.Error(err, "failed to re-enqueue stale recipient",
				"recipient_id", recipient.ID.String())
			continue
		}
		r.logger.Info("re-enqueued stale pending recipient",
			"recipient_id", recipient.ID.String(), "send_time", recipient.SendTime)
	}
	return nil
}
