package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/repository"
	apperrors "github.com/campaignkit/outreach/pkg/errors"
)

type campaignRepository struct {
	BaseRepository
}

func NewCampaignRepository(db BaseRepository) repository.CampaignRepository {
	return &campaignRepository{BaseRepository: db}
}

func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	query := `
		INSERT INTO campaigns (
			id, user_id, name, sheet_id, column_mapping,
			status, start_time, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	campaign.ID = uuid.New()
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.UserID,
		campaign.Name,
		campaign.SheetID,
		campaign.ColumnMapping,
		campaign.Status,
		campaign.StartTime,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `
		SELECT id, user_id, name, sheet_id, column_mapping,
			   status, start_time, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	var campaign model.Campaign
	err := r.db.GetContext(ctx, &campaign, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("campaign", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Campaign, error) {
	query := `
		SELECT id, user_id, name, sheet_id, column_mapping,
			   status, start_time, created_at, updated_at
		FROM campaigns
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	var campaigns []*model.Campaign
	if err := r.db.SelectContext(ctx, &campaigns, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound("campaign", nil)
	}
	return nil
}
