package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/sentinel/internal/reference/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEffective(ctx context.Context, db *gorm.DB, countryCode string, asOf time.Time) (*domain.CountryRiskScore, error) {
	var score domain.CountryRiskScore
	err := db.WithContext(ctx).Raw(
		`SELECT id, country_code, risk_weight, effective_from, effective_to, created_at
		 FROM country_risk_scores
		 WHERE country_code = ?
		   AND effective_from <= ?
		   AND (effective_to IS NULL OR effective_to > ?)
		 ORDER BY effective_from DESC
		 LIMIT 1`,
		countryCode,
		asOf,
		asOf,
	).Scan(&score).Error
	if err != nil {
		return nil, err
	}
	if score.ID == 0 {
		return nil, nil
	}
	return &score, nil
}

func (r *repo) ListEffective(ctx context.Context, db *gorm.DB, asOf time.Time) ([]domain.CountryRiskScore, error) {
	var scores []domain.CountryRiskScore
	err := db.WithContext(ctx).
		Model(&domain.CountryRiskScore{}).
		Where("effective_from <= ?", asOf).
		Where("effective_to IS NULL OR effective_to > ?", asOf).
		Order("country_code asc, effective_from desc").
		Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (r *repo) CloseOpenRange(ctx context.Context, db *gorm.DB, countryCode string, closeAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE country_risk_scores
		 SET effective_to = ?
		 WHERE country_code = ? AND effective_to IS NULL AND effective_from < ?`,
		closeAt,
		countryCode,
		closeAt,
	).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, score *domain.CountryRiskScore) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO country_risk_scores (id, country_code, risk_weight, effective_from, effective_to, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		score.ID,
		score.CountryCode,
		score.RiskWeight,
		score.EffectiveFrom,
		score.EffectiveTo,
		score.CreatedAt,
	).Error
}
