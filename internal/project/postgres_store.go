package project

import (
	"context"
	"database/sql"
	"time"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// PostgresStore persists project data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed project store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const projectColumns = `id, seller_id, title, price_cents, status, seller_account_id, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, pr *Project) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pr.ID, pr.SellerID, pr.Title, pr.PriceCents,
		string(pr.Status), nullString(pr.SellerAccountID), pr.CreatedAt, pr.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Project, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	pr, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "project not found")
	}
	return pr, err
}

func (p *PostgresStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE projects SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(to), time.Now(), id, string(from))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Project
	for rows.Next() {
		pr, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pr)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(s scanner) (*Project, error) {
	pr := &Project{}
	var (
		status    string
		accountID sql.NullString
	)
	err := s.Scan(&pr.ID, &pr.SellerID, &pr.Title, &pr.PriceCents,
		&status, &accountID, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	pr.Status = Status(status)
	pr.SellerAccountID = accountID.String
	return pr, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
