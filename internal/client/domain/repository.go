package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindByExternalID returns nil when the client is unknown.
	FindByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*Client, error)
	FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Client, error)
	Insert(ctx context.Context, tx *gorm.DB, client *Client) error
	Update(ctx context.Context, tx *gorm.DB, client *Client) error
}
