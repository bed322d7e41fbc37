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

type recipientRepository struct {
	BaseRepository
}

func NewRecipientRepository(db BaseRepository) repository.RecipientRepository {
	return &recipientRepository{BaseRepository: db}
}

const recipientColumns = `
	id, campaign_id, row_index, data, status, attempts,
	last_error, send_time, sent_at, created_at, updated_at
`

func (r *recipientRepository) Create(ctx context.Context, recipient *model.Recipient) error {
	query := `
		INSERT INTO recipients (` + recipientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	recipient.ID = uuid.New()
	recipient.CreatedAt = time.Now()
	recipient.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		recipient.ID,
		recipient.CampaignID,
		recipient.RowIndex,
		recipient.Data,
		recipient.Status,
		recipient.Attempts,
		recipient.LastError,
		recipient.SendTime,
		recipient.SentAt,
		recipient.CreatedAt,
		recipient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

func (r *recipientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`

	var recipient model.Recipient
	err := r.db.GetContext(ctx, &recipient, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("recipient", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return &recipient, nil
}

func (r *recipientRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, p model.Pagination) ([]*model.Recipient, error) {
	p.Normalize()
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE campaign_id = $1
		ORDER BY row_index
		LIMIT $2 OFFSET $3
	`
	var recipients []*model.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, campaignID, p.Limit(), p.Offset()); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

func (r *recipientRepository) CountByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

func (r *recipientRepository) CountPendingByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM recipients WHERE campaign_id = $1 AND status = $2`,
		campaignID, model.RecipientStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending recipients: %w", err)
	}
	return count, nil
}

// MarkTerminal is the single write that commits a delivery outcome. The
// status guard makes terminal states sticky: a second job firing for an
// already-resolved recipient updates nothing and gets false back.
func (r *recipientRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status model.RecipientStatus, attempts int, lastError *string, sentAt *time.Time) (bool, error) {
	query := `
		UPDATE recipients
		SET status = $1, attempts = $2, last_error = $3, sent_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		status, attempts, lastError, sentAt, time.Now(), id, model.RecipientStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark recipient terminal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *recipientRepository) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE recipients
		SET attempts = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	_, err := r.db.ExecContext(ctx, query, attempts, lastError, time.Now(), id, model.RecipientStatusPending)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func (r *recipientRepository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*model.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE status = $1 AND send_time < $2
		ORDER BY send_time
		LIMIT $3
	`
	var recipients []*model.Recipient
	if err := r.db.SelectContext(ctx, &recipients, query, model.RecipientStatusPending, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale pending recipients: %w", err)
	}
	return recipients, nil
}
