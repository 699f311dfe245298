package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/pkg/db/pagination"
)

var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidInput = errors.New("invalid_input")
)

// Cause names what invalidated previously emitted events.
type Cause string

const (
	CauseLateArrival           Cause = "late_arrival"
	CauseClientCorrection      Cause = "client_correction"
	CauseTransactionCorrection Cause = "transaction_correction"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// RescoreSignal marks a client/time-range whose current events may be stale.
// Signals never re-trigger scoring by themselves; the worker (or an explicit
// request) replays the range and resolves them.
type RescoreSignal struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	ClientID      string       `gorm:"size:128;index:idx_rescore_signals_client" json:"client_id"`
	TransactionID string       `gorm:"size:128" json:"transaction_id,omitempty"`
	Cause         Cause        `gorm:"size:32" json:"cause"`
	Status        Status       `gorm:"size:16;index:idx_rescore_signals_status" json:"status"`
	RangeFrom     time.Time    `json:"range_from"`
	RangeTo       time.Time    `json:"range_to"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

func (RescoreSignal) TableName() string {
	return "rescore_signals"
}

type RaiseRequest struct {
	ClientID      string
	TransactionID string
	Cause         Cause
	RangeFrom     time.Time
	RangeTo       time.Time
}

// NewSignal builds a pending signal from a raise request.
func NewSignal(id snowflake.ID, req RaiseRequest) *RescoreSignal {
	return &RescoreSignal{
		ID:            id,
		ClientID:      req.ClientID,
		TransactionID: req.TransactionID,
		Cause:         req.Cause,
		Status:        StatusPending,
		RangeFrom:     req.RangeFrom.UTC(),
		RangeTo:       req.RangeTo.UTC(),
		CreatedAt:     time.Now().UTC(),
	}
}

type ListRequest struct {
	pagination.Pagination
	ClientID string `form:"client_id"`
	Status   string `form:"status"`
	Cause    string `form:"cause"`
}
