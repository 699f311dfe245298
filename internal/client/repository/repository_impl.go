package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*domain.Client, error) {
	var client domain.Client
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM clients WHERE external_id = ?`, externalID).
		Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Client, error) {
	var client domain.Client
	err := tx.WithContext(ctx).
		Raw(`SELECT * FROM clients WHERE id = ?`, id).
		Scan(&client).Error
	if err != nil {
		return nil, err
	}
	if client.ID == 0 {
		return nil, nil
	}
	return &client, nil
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, client *domain.Client) error {
	return tx.WithContext(ctx).Create(client).Error
}

func (r *repo) Update(ctx context.Context, tx *gorm.DB, client *domain.Client) error {
	return tx.WithContext(ctx).
		Model(&domain.Client{}).
		Where("id = ?", client.ID).
		Updates(map[string]interface{}{
			"country_code": client.CountryCode,
			"name":         client.Name,
			"updated_at":   client.UpdatedAt,
		}).Error
}
