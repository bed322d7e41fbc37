// Package campaign implements the scheduling planner: one synchronous pass
// over a sheet's rows that materializes recipients and their delayed send
// jobs.
package campaign

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campaignkit/outreach/internal/model"
	"github.com/campaignkit/outreach/internal/repository"
	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/queue"
)

// Enqueuer schedules delivery jobs. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload interface{}, opts queue.Options) (string, error)
}

// SheetReader reads the source spreadsheet at campaign creation.
type SheetReader interface {
	GetColumns(ctx context.Context, accessToken, sheetID string) ([]string, error)
	GetRows(ctx context.Context, accessToken, sheetID string) ([][]string, error)
}

// RetryPolicy is the queue-level retry budget attached to every send job.
// The recipient-level cap of three attempts is enforced by the delivery
// handler itself; this budget only has to stay at or above it.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

type Service struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	enqueuer   Enqueuer
	sheets     SheetReader
	policy     RetryPolicy
	logger     *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewService(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	enqueuer Enqueuer,
	sheets SheetReader,
	policy RetryPolicy,
	rng *rand.Rand,
	logger *logger.Logger,
) *Service {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = queue.DefaultMaxAttempts
	}
	if policy.Backoff <= 0 {
		policy.Backoff = queue.DefaultBackoff
	}
	return &Service{
		campaigns:  campaigns,
		recipients: recipients,
		enqueuer:   enqueuer,
		sheets:     sheets,
		policy:     policy,
		rng:        rng,
		logger:     logger,
	}
}

// CreateCampaign persists the campaign, reads the sheet, and materializes
// one recipient plus one delayed job per data row. Rows whose enqueue fails
// are logged and skipped; remaining rows still get scheduled.
func (s *Service) CreateCampaign(ctx context.Context, req *model.CreateCampaignRequest) (*model.Campaign, error) {
	campaign := &model.Campaign{
		UserID:        req.UserID,
		Name:          req.Name,
		SheetID:       req.SheetID,
		ColumnMapping: model.JSONMap(req.ColumnMapping),
		Status:        model.CampaignStatusPending,
		StartTime:     req.StartTime,
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	rows, err := s.sheets.GetRows(ctx, req.ProviderToken, req.SheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet rows: %w", err)
	}

	scheduled := 0
	for i, row := range rows {
		recipient := &model.Recipient{
			CampaignID: campaign.ID,
			RowIndex:   i + 2, // row 1 is the header
			Data:       extractFields(campaign.ColumnMapping, row),
			Status:     model.RecipientStatusPending,
			Attempts:   0,
			SendTime:   s.sendTimeFor(campaign.StartTime, i),
		}
		if err := s.recipients.Create(ctx, recipient); err != nil {
			s.logger.Error(err, "failed to create recipient, skipping row",
				"campaign_id", campaign.ID.String(), "row_index", recipient.RowIndex)
			continue
		}

		job := &model.SendJob{
			RecipientID:   recipient.ID,
			UserID:        campaign.UserID,
			ProviderToken: req.ProviderToken,
			SheetID:       campaign.SheetID,
			RowIndex:      recipient.RowIndex,
			ColumnMapping: campaign.ColumnMapping,
		}
		_, err := s.enqueuer.Enqueue(ctx, job, queue.Options{
			Delay:       time.Until(recipient.SendTime),
			MaxAttempts: s.policy.MaxAttempts,
			Backoff:     s.policy.Backoff,
		})
		if err != nil {
			// The recipient stays pending with no job; the stale-pending
			// reaper picks it up later.
			s.logger.Error(err, "failed to enqueue send job",
				"campaign_id", campaign.ID.String(), "recipient_id", recipient.ID.String())
			continue
		}
		scheduled++
	}

	// The campaign-level status is informational; delivery state lives on
	// the recipients.
	if err := s.campaigns.UpdateStatus(ctx, campaign.ID, model.CampaignStatusRunning); err != nil {
		s.logger.Error(err, "failed to mark campaign running", "campaign_id", campaign.ID.String())
	} else {
		campaign.Status = model.CampaignStatusRunning
	}

	s.logger.Info("campaign scheduled",
		"campaign_id", campaign.ID.String(), "rows", len(rows), "jobs", scheduled)

	return campaign, nil
}

func (s *Service) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

func (s *Service) ListCampaigns(ctx context.Context, userID uuid.UUID) ([]*model.Campaign, error) {
	return s.campaigns.ListByUser(ctx, userID)
}

func (s *Service) ListRecipients(ctx context.Context, campaignID uuid.UUID, p model.Pagination) ([]*model.Recipient, int, error) {
	if _, err := s.campaigns.Get(ctx, campaignID); err != nil {
		return nil, 0, err
	}
	recipients, err := s.recipients.ListByCampaign(ctx, campaignID, p)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.recipients.CountByCampaign(ctx, campaignID)
	if err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

func (s *Service) GetSheetColumns(ctx context.Context, accessToken, sheetID string) ([]string, error) {
	return s.sheets.GetColumns(ctx, accessToken, sheetID)
}

// sendTimeFor staggers row i one hour after row i-1, with the minute
// replaced by a uniform random value so the cadence is not suspiciously
// exact.
func (s *Service) sendTimeFor(start time.Time, i int) time.Time {
	t := start.Add(time.Duration(i) * time.Hour)
	s.mu.Lock()
	minute := s.rng.Intn(60)
	s.mu.Unlock()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, t.Second(), t.Nanosecond(), t.Location())
}

// extractFields snapshots the mapped cell values for one row. A field whose
// column is absent or out of range yields an empty string. The reserved
// Status key names the write-back column and carries no recipient data.
func extractFields(mapping model.JSONMap, row []string) model.JSONMap {
	data := model.JSONMap{}
	for field, column := range mapping {
		if field == model.FieldStatus {
			continue
		}
		idx := columnIndex(column)
		if idx >= 0 && idx < len(row) {
			data[field] = row[idx]
		} else {
			data[field] = ""
		}
	}
	return data
}

// columnIndex converts a spreadsheet column locator ("A", "B", ... "AA")
// to a zero-based index, -1 if the locator is not a column letter.
func columnIndex(column string) int {
	if column == "" {
		return -1
	}
	idx := 0
	for _, c := range column {
		if c < 'A' || c > 'Z' {
			return -1
		}
		idx = idx*26 + int(c-'A') + 1
	}
	return idx - 1
}
