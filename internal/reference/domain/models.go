package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// CountryRiskScore is one effective-dated risk weight for a country. Ranges
// are half-open: the weight applies from EffectiveFrom (inclusive) until
// EffectiveTo (exclusive), or indefinitely when EffectiveTo is nil.
type CountryRiskScore struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	CountryCode   string       `gorm:"type:char(2);not null;index:idx_country_risk_lookup" json:"country_code"`
	RiskWeight    float64      `gorm:"not null" json:"risk_weight"`
	EffectiveFrom time.Time    `gorm:"not null;index:idx_country_risk_lookup" json:"effective_from"`
	EffectiveTo   *time.Time   `json:"effective_to,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (CountryRiskScore) TableName() string { return "country_risk_scores" }

// Covers reports whether the range holds at the given instant.
func (c CountryRiskScore) Covers(asOf time.Time) bool {
	if asOf.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveTo != nil && !asOf.Before(*c.EffectiveTo) {
		return false
	}
	return true
}

type UpsertCountryRiskRequest struct {
	CountryCode   string
	RiskWeight    float64
	EffectiveFrom *time.Time
}

type GetCountryRiskRequest struct {
	CountryCode string
	AsOf        *time.Time
}

var (
	ErrNotFound              = errors.New("not_found")
	ErrInvalidCountryCode    = errors.New("invalid_country_code")
	ErrInvalidRiskWeight     = errors.New("invalid_risk_weight")
	ErrInvalidEffectiveRange = errors.New("invalid_effective_range")
)
