package repository

import (
	"context"

	"github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*domain.ModelOutput, error) {
	var output domain.ModelOutput
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM model_outputs WHERE transaction_id = ?`, transactionID).
		Scan(&output).Error
	if err != nil {
		return nil, err
	}
	if output.ID == 0 {
		return nil, nil
	}
	return &output, nil
}

func (r *repo) Upsert(ctx context.Context, tx *gorm.DB, output *domain.ModelOutput) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"risk_score", "confidence", "updated_at"}),
		}).
		Create(output).Error
}
