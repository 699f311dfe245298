package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindEffective(ctx context.Context, db *gorm.DB, countryCode string, asOf time.Time) (*CountryRiskScore, error)
	ListEffective(ctx context.Context, db *gorm.DB, asOf time.Time) ([]CountryRiskScore, error)
	CloseOpenRange(ctx context.Context, db *gorm.DB, countryCode string, closeAt time.Time) error
	Insert(ctx context.Context, db *gorm.DB, score *CountryRiskScore) error
}
