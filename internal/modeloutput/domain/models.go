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

// ModelOutput is the anomaly collaborator's verdict for one transaction.
// Absence is a valid state; scoring proceeds rule-only without it.
type ModelOutput struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TransactionID string       `gorm:"size:128;uniqueIndex:idx_model_outputs_transaction" json:"transaction_id"`
	RiskScore     float64      `json:"ml_risk_score"`
	Confidence    float64      `json:"confidence_score"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (ModelOutput) TableName() string {
	return "model_outputs"
}

// UpsertRequest carries the collaborator's payload. Resubmitting for the
// same transaction replaces the stored scores.
type UpsertRequest struct {
	TransactionID string  `json:"-"`
	RiskScore     float64 `json:"ml_risk_score"`
	Confidence    float64 `json:"confidence_score"`
}
