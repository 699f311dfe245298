package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCurrentByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM transactions
			WHERE external_id = ?
			ORDER BY version DESC LIMIT 1`, externalID).
		Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, txn *domain.Transaction) error {
	return tx.WithContext(ctx).Create(txn).Error
}

func (r *repo) ListCurrentByClientRange(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, from, to time.Time) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := tx.WithContext(ctx).
		Raw(`SELECT t.* FROM transactions t
			WHERE t.client_id = ?
			  AND t.occurred_at >= ?
			  AND t.occurred_at <= ?
			  AND NOT EXISTS (
				SELECT 1 FROM transactions s
				WHERE s.external_id = t.external_id AND s.version > t.version
			  )
			ORDER BY t.occurred_at ASC, t.version ASC`, clientID, from, to).
		Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) ListVersions(ctx context.Context, tx *gorm.DB, externalID string) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := tx.WithContext(ctx).
		Where("external_id = ?", externalID).
		Order("version ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
