package model

import (
	"time"

	"github.com/google/uuid"
)

type CampaignStatus string

const (
	CampaignStatusPending   CampaignStatus = "pending"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// FieldStatus is the reserved mapping key naming the spreadsheet column
// that receives the delivery outcome.
const FieldStatus = "Status"

// FieldEmail is the mapping key for the recipient address column.
const FieldEmail = "Email"

// Campaign is one outreach run against one spreadsheet. The column mapping
// is fixed at creation; later sheet edits never change recipients that were
// already materialized from it.
type Campaign struct {
	Base
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	Name          string         `json:"name" db:"name"`
	SheetID       string         `json:"sheet_id" db:"sheet_id"`
	ColumnMapping JSONMap        `json:"column_mapping" db:"column_mapping"`
	Status        CampaignStatus `json:"status" db:"status"`
	StartTime     time.Time      `json:"start_time" db:"start_time"`
}

type CreateCampaignRequest struct {
	Name          string            `json:"name" binding:"required"`
	SheetID       string            `json:"sheet_id" binding:"required"`
	ColumnMapping map[string]string `json:"column_mapping" binding:"required,dive,column_letter"`
	StartTime     time.Time         `json:"start_time" binding:"required"`
	UserID        uuid.UUID         `json:"user_id" binding:"required"`
	ProviderToken string            `json:"provider_token"`
}
