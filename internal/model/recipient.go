package model

import (
	"time"

	"github.com/google/uuid"
)

type RecipientStatus string

// Recipient delivery states. Sent and failed are terminal: once a recipient
// reaches either, no job may move it again.
const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "SENT"
	RecipientStatusFailed  RecipientStatus = "FAILED"
)

// Recipient is one addressable spreadsheet row with its own delivery
// lifecycle. Data is an immutable snapshot of the mapped cell values taken
// at campaign creation.
type Recipient struct {
	Base
	CampaignID uuid.UUID       `json:"campaign_id" db:"campaign_id"`
	RowIndex   int             `json:"row_index" db:"row_index"`
	Data       JSONMap         `json:"data" db:"data"`
	Status     RecipientStatus `json:"status" db:"status"`
	Attempts   int             `json:"attempts" db:"attempts"`
	LastError  *string         `json:"last_error,omitempty" db:"last_error"`
	SendTime   time.Time       `json:"send_time" db:"send_time"`
	SentAt     *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
}

// Terminal reports whether the recipient has reached a final delivery state.
func (r *Recipient) Terminal() bool {
	return r.Status == RecipientStatusSent || r.Status == RecipientStatusFailed
}

// Email returns the snapshotted destination address, empty if the source
// row had none.
func (r *Recipient) Email() string {
	return r.Data[FieldEmail]
}
