package window

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Loader supplies window history from storage. Entries must be the current
// version of each transaction, strictly after `after`, and at or before
// `until`; a zero `until` means unbounded on the right.
type Loader interface {
	LoadEntries(ctx context.Context, clientID string, after, until time.Time) ([]Entry, error)
}

type gormLoader struct {
	db *gorm.DB
}

func NewGormLoader(db *gorm.DB) Loader {
	return &gormLoader{db: db}
}

func (l *gormLoader) LoadEntries(ctx context.Context, clientID string, after, until time.Time) ([]Entry, error) {
	query := `
		SELECT t.external_id AS txn_id, t.occurred_at AS at, t.amount
		FROM transactions t
		JOIN clients c ON c.id = t.client_id
		WHERE c.external_id = ?
		  AND t.occurred_at > ?
		  AND NOT EXISTS (
			SELECT 1 FROM transactions s
			WHERE s.client_id = t.client_id
			  AND s.external_id = t.external_id
			  AND s.version > t.version
		  )`
	args := []interface{}{clientID, after}
	if !until.IsZero() {
		query += ` AND t.occurred_at <= ?`
		args = append(args, until)
	}
	query += ` ORDER BY t.occurred_at ASC`

	var entries []Entry
	if err := l.db.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].At = entries[i].At.UTC()
	}
	return entries, nil
}
