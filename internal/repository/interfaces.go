package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campaignkit/outreach/internal/model"
)

type CampaignRepository interface {
	Create(ctx context.Context, campaign *model.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error
}

type RecipientRepository interface {
	Create(ctx context.Context, recipient *model.Recipient) error
	Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, p model.Pagination) ([]*model.Recipient, error)
	CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	CountPendingByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)

	// MarkTerminal moves a pending recipient to SENT or FAILED. It reports
	// false when the recipient was already terminal, which makes re-fired
	// jobs for resolved recipients a no-op.
	MarkTerminal(ctx context.Context, id uuid.UUID, status model.RecipientStatus, attempts int, lastError *string, sentAt *time.Time) (bool, error)

	// RecordAttempt persists an incremented attempt counter and last error
	// for a recipient that stays pending (transient failure path).
	RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	// ListStalePending returns pending recipients whose send time passed
	// more than minAge ago; the reaper re-enqueues them.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Recipient, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
}
