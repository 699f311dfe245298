package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidInput = errors.New("invalid_input")
)

// Annotation is an analyst note attached to a transaction. Only the reason
// code feeds scoring, as one extra zero-weight reason; the summary is kept
// for humans.
type Annotation struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TransactionID string       `gorm:"size:128;uniqueIndex:idx_annotations_transaction" json:"transaction_id"`
	ReasonCode    string       `gorm:"size:64" json:"reason_code"`
	SummaryText   string       `json:"summary_text"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Annotation) TableName() string {
	return "annotations"
}

type UpsertRequest struct {
	TransactionID string `json:"-"`
	ReasonCode    string `json:"reason_code"`
	SummaryText   string `json:"summary_text"`
}
