package model

import (
	"fmt"

	"github.com/google/uuid"
)

// SendJob is the payload carried by one scheduled delivery job. It holds
// enough context to act without re-reading the campaign under race: the
// sheet coordinates for status write-back and an optional short-lived
// provider token from campaign creation.
type SendJob struct {
	RecipientID   uuid.UUID `json:"recipient_id"`
	UserID        uuid.UUID `json:"user_id"`
	ProviderToken string    `json:"provider_token,omitempty"`
	SheetID       string    `json:"sheet_id"`
	RowIndex      int       `json:"row_index"`
	ColumnMapping JSONMap   `json:"column_mapping"`
}

// Validate rejects payloads missing required fields. A payload that fails
// validation is a permanent job failure, never a crash.
func (j *SendJob) Validate() error {
	if j.RecipientID == uuid.Nil {
		return fmt.Errorf("send job: missing recipient id")
	}
	if j.UserID == uuid.Nil {
		return fmt.Errorf("send job: missing user id")
	}
	return nil
}
