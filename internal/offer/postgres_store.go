package offer

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// PostgresStore persists offer data in PostgreSQL.
//
// The one-active-offer-per-(project, buyer) invariant is enforced by a
// partial unique index rather than a read-then-write check, so it holds
// under concurrent inserts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, project_id, buyer_id, seller_id, price_cents, counter_cents,
	message, status, awaiting_reply_from, last_actor_id, expires_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.ProjectID, o.BuyerID, o.SellerID, o.PriceCents, o.CounterCents,
		nullString(o.Message), string(o.Status), nullString(o.AwaitingReplyFrom),
		o.LastActorID, o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return fault.New(fault.KindValidation, "an active offer already exists for this project")
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "offer not found")
	}
	return o, err
}

func (p *PostgresStore) UpdateIf(ctx context.Context, o *Offer, expected Status) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers
		SET counter_cents = $1, message = $2, status = $3,
		    awaiting_reply_from = $4, last_actor_id = $5,
		    expires_at = $6, updated_at = $7
		WHERE id = $8 AND status = $9`,
		o.CounterCents, nullString(o.Message), string(o.Status),
		nullString(o.AwaitingReplyFrom), o.LastActorID,
		o.ExpiresAt, o.UpdatedAt, o.ID, string(expected),
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (p *PostgresStore) ListByProject(ctx context.Context, projectID string, limit int) ([]*Offer, error) {
	return p.list(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, projectID, limit)
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	return p.list(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, buyerID, limit)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	return p.list(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE status IN ('pending', 'countered') AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(s scanner) (*Offer, error) {
	o := &Offer{}
	var (
		status   string
		message  sql.NullString
		awaiting sql.NullString
	)
	err := s.Scan(&o.ID, &o.ProjectID, &o.BuyerID, &o.SellerID,
		&o.PriceCents, &o.CounterCents, &message, &status, &awaiting,
		&o.LastActorID, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	o.Message = message.String
	o.AwaitingReplyFrom = awaiting.String
	return o, nil
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
