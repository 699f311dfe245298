package repository

import (
	"context"

	"github.com/smallbiznis/sentinel/internal/annotation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*domain.Annotation, error) {
	var annotation domain.Annotation
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM annotations WHERE transaction_id = ?`, transactionID).
		Scan(&annotation).Error
	if err != nil {
		return nil, err
	}
	if annotation.ID == 0 {
		return nil, nil
	}
	return &annotation, nil
}

func (r *repo) Upsert(ctx context.Context, tx *gorm.DB, annotation *domain.Annotation) error {
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason_code", "summary_text", "updated_at"}),
		}).
		Create(annotation).Error
}
