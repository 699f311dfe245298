package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidExternalID  = errors.New("invalid_external_id")
	ErrInvalidCountryCode = errors.New("invalid_country_code")
)

// Client mirrors the upstream enrichment record the engine scores against.
// The engine reads it; ownership stays upstream.
type Client struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	ExternalID  string       `gorm:"size:128;uniqueIndex" json:"external_id"`
	CountryCode string       `gorm:"size:2" json:"country_code"`
	Name        string       `gorm:"size:255" json:"name,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (Client) TableName() string {
	return "clients"
}

type UpsertClientRequest struct {
	ExternalID  string `json:"external_id" binding:"required"`
	CountryCode string `json:"country_code"`
	Name        string `json:"name"`
}

// CorrectClientRequest fixes a wrong country on an existing client. Applying
// it raises a re-score signal covering the client's history.
type CorrectClientRequest struct {
	ExternalID  string `json:"-"`
	CountryCode string `json:"country_code" binding:"required"`
	Name        string `json:"name"`
}
