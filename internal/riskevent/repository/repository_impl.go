package repository

import (
	"context"
	"strconv"

	"github.com/smallbiznis/sentinel/internal/riskevent/domain"
	"github.com/smallbiznis/sentinel/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, event *domain.RiskEvent) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_key"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByEventKey(ctx context.Context, tx *gorm.DB, eventKey string) (*domain.RiskEvent, error) {
	var event domain.RiskEvent
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM risk_events WHERE event_key = ?`, eventKey).
		Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) FindCurrent(ctx context.Context, tx *gorm.DB, transactionID, engineVersion string) (*domain.RiskEvent, error) {
	var event domain.RiskEvent
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM risk_events
			WHERE transaction_id = ? AND engine_version = ?
			ORDER BY revision DESC LIMIT 1`, transactionID, engineVersion).
		Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, req domain.ListRequest) ([]*domain.RiskEvent, error) {
	query := tx.WithContext(ctx).Model(&domain.RiskEvent{})

	if req.ClientID != "" {
		query = query.Where("client_id = ?", req.ClientID)
	}
	if req.TransactionID != "" {
		query = query.Where("transaction_id = ?", req.TransactionID)
	}
	if req.Severity != "" {
		query = query.Where("severity = ?", req.Severity)
	}
	if req.NoFlag != nil {
		query = query.Where("no_flag = ?", *req.NoFlag)
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

	var events []*domain.RiskEvent
	if err := query.Order("id DESC").Limit(limit + 1).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListRevisions(ctx context.Context, tx *gorm.DB, transactionID, engineVersion string) ([]*domain.RiskEvent, error) {
	var events []*domain.RiskEvent
	err := tx.WithContext(ctx).
		Where("transaction_id = ? AND engine_version = ?", transactionID, engineVersion).
		Order("revision ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
