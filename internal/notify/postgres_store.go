package notify

import (
	"context"
	"database/sql"
	"time"
)

// PostgresDedupStore persists claimed notification keys in PostgreSQL.
//
// The insert-if-absent gives an atomic claim across concurrent webhook
// deliveries and overlapping sweep runs.
type PostgresDedupStore struct {
	db *sql.DB
}

// NewPostgresDedupStore creates a new PostgreSQL-backed dedup store.
func NewPostgresDedupStore(db *sql.DB) *PostgresDedupStore {
	return &PostgresDedupStore{db: db}
}

func (p *PostgresDedupStore) Once(ctx context.Context, key string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO sent_notifications (key, sent_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`,
		key, time.Now())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Compile-time assertion that PostgresDedupStore implements DedupStore.
var _ DedupStore = (*PostgresDedupStore)(nil)
