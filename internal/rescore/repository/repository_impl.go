package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/rescore/domain"
	"github.com/smallbiznis/sentinel/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, signal *domain.RescoreSignal) error {
	return tx.WithContext(ctx).Create(signal).Error
}

func (r *repo) LockPending(ctx context.Context, tx *gorm.DB, limit int) ([]domain.RescoreSignal, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT * FROM rescore_signals
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`
	if tx.Dialector.Name() == "postgres" {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var rows []domain.RescoreSignal
	err := tx.WithContext(ctx).
		Raw(query, domain.StatusPending, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkResolved(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := tx.WithContext(ctx).
		Model(&domain.RescoreSignal{}).
		Where("id IN ? AND status = ?", ids, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":      domain.StatusResolved,
			"resolved_at": at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) PendingForClient(ctx context.Context, tx *gorm.DB, clientID string, from, to time.Time) ([]domain.RescoreSignal, error) {
	var rows []domain.RescoreSignal
	err := tx.WithContext(ctx).
		Where("client_id = ? AND status = ? AND range_from <= ? AND range_to >= ?",
			clientID, domain.StatusPending, to, from).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, req domain.ListRequest) ([]*domain.RescoreSignal, error) {
	query := tx.WithContext(ctx).Model(&domain.RescoreSignal{})

	if req.ClientID != "" {
		query = query.Where("client_id = ?", req.ClientID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Cause != "" {
		query = query.Where("cause = ?", req.Cause)
	}

	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		cursorID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		query = query.Where("id < ?", cursorID)
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 50
	}

	var signals []*domain.RescoreSignal
	if err := query.Order("id DESC").Limit(limit + 1).Find(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}
