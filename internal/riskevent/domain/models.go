package domain

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/sentinel/internal/fuse"
	"github.com/smallbiznis/sentinel/internal/rules"
	"github.com/smallbiznis/sentinel/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidInput = errors.New("invalid_input")
)

// Reason codes appended after the fired rule codes.
const (
	ReasonMLAnomaly       = "ml_anomaly"
	ReasonUnmappedCountry = "unmapped_country"
	ReasonMLLowConfidence = "ml_low_confidence_ignored"
	ReasonNoFlag          = "no_flag"
)

// ReasonList stores ordered reason codes as a native text[] on postgres and
// falls back to the pq array literal in a text column elsewhere (sqlite tests).
type ReasonList []string

func (r *ReasonList) Scan(src interface{}) error {
	return (*pq.StringArray)(r).Scan(src)
}

func (r ReasonList) Value() (driver.Value, error) {
	return pq.StringArray(r).Value()
}

// GormDataType gives the schema parser a scalar column class so the slice is
// not treated as a has-many relation; per-dialect DDL comes from GormDBDataType.
func (ReasonList) GormDataType() string {
	return "text"
}

func (ReasonList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// RiskEvent is the immutable scoring verdict for one transaction revision.
// A superseding re-score inserts a new row; prior rows are never updated.
type RiskEvent struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	EventKey      string         `gorm:"size:64;uniqueIndex" json:"event_key"`
	TransactionID string         `gorm:"size:128;index:idx_risk_events_txn" json:"transaction_id"`
	ClientID      string         `gorm:"size:128;index:idx_risk_events_client" json:"client_id"`
	EngineVersion string         `gorm:"size:32" json:"engine_version"`
	Revision      int            `json:"revision"`
	PriorEventKey *string        `gorm:"size:64" json:"prior_event_key,omitempty"`
	Score         float64        `json:"score"`
	RuleScore     float64        `json:"rule_score"`
	Severity      string         `gorm:"size:16;index" json:"severity"`
	Reasons       ReasonList     `json:"reasons"`
	RuleDetail    datatypes.JSON `json:"rule_detail,omitempty"`
	NoFlag        bool           `json:"no_flag"`
	MLBlended     bool           `json:"ml_blended"`
	OccurredAt    time.Time      `gorm:"index" json:"occurred_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (RiskEvent) TableName() string {
	return "risk_events"
}

// EventKey derives the deterministic identity for one scoring of one
// transaction under one engine version.
func EventKey(transactionID, engineVersion string, revision int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", transactionID, engineVersion, revision)))
	return hex.EncodeToString(sum[:])
}

// EmitInput carries one fused scoring outcome into the emitter. Supersede
// selects revision+1 with a pointer back to the replaced event; without it an
// existing current event is returned unchanged.
type EmitInput struct {
	TransactionID   string
	ClientID        string
	EngineVersion   string
	OccurredAt      time.Time
	Fired           []rules.FiredRule
	Fusion          fuse.Fusion
	CountryUnmapped bool
	AnnotationCode  string
	Supersede       bool
}

type ListRequest struct {
	pagination.Pagination
	ClientID      string `form:"client_id"`
	TransactionID string `form:"transaction_id"`
	Severity      string `form:"severity"`
	NoFlag        *bool  `form:"no_flag"`
}
