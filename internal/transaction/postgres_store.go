package transaction

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/joseairosa/codesalvage/internal/fault"
)

// PostgresStore persists transaction data in PostgreSQL.
//
// Exactly-once sale is enforced by two partial unique indexes, both
// scoped to active payment states (pending or succeeded): one on
// project_id, one on offer_id. A failed checkout drops out of both, so
// the project and the accepted offer free up for retry. Violations
// surface as Validation faults so a losing concurrent checkout gets a
// client error, not a 500.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txnColumns = `id, project_id, buyer_id, seller_id, offer_id, amount_cents,
	commission_cents, seller_receives_cents, payment_status, escrow_status,
	delivery_status, processor_ref, release_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.ProjectID, t.BuyerID, t.SellerID, nullString(t.OfferID),
		t.AmountCents, t.CommissionCents, t.SellerReceivesCents,
		string(t.PaymentStatus), string(t.EscrowStatus), string(t.DeliveryStatus),
		nullString(t.ProcessorRef), nullTime(t.ReleaseAt), t.CreatedAt, t.UpdatedAt,
	)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "transactions_one_active_per_project":
			return fault.New(fault.KindValidation, "project already has an active transaction")
		case "transactions_offer_id_key":
			return fault.New(fault.KindValidation, "offer has already been used for a checkout")
		}
		return fault.Wrap(fault.KindValidation, "transaction conflicts with an existing one", err)
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "transaction not found")
	}
	return t, err
}

func (p *PostgresStore) GetByProcessorRef(ctx context.Context, ref string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE processor_ref = $1`, ref)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "transaction not found")
	}
	return t, err
}

// UpdateIf writes only the status-machine columns. delivery_status is
// deliberately excluded: it moves on its own axis through SetDelivered,
// and writing it here would let a transition revert a delivery that
// committed after the caller's read.
func (p *PostgresStore) UpdateIf(ctx context.Context, t *Transaction, expected Expected) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = $1, escrow_status = $2, release_at = $3, updated_at = $4
		WHERE id = $5 AND payment_status = $6 AND escrow_status = $7`,
		string(t.PaymentStatus), string(t.EscrowStatus),
		nullTime(t.ReleaseAt), t.UpdatedAt,
		t.ID, string(expected.Payment), string(expected.Escrow),
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

func (p *PostgresStore) SetDelivered(ctx context.Context, id string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET delivery_status = $1, updated_at = $2
		WHERE id = $3 AND delivery_status = $4`,
		string(DeliveryDelivered), time.Now(), id, string(DeliveryPending),
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

func (p *PostgresStore) SetProcessorRef(ctx context.Context, id, ref string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET processor_ref = $1, updated_at = $2 WHERE id = $3`,
		ref, time.Now(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fault.New(fault.KindNotFound, "transaction not found")
	}
	return nil
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Transaction, error) {
	return p.list(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, buyerID, limit)
}

func (p *PostgresStore) ListReleasable(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	return p.list(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE escrow_status = 'held' AND release_at <= $1
		ORDER BY release_at ASC
		LIMIT $2`, now, limit)
}

func (p *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Transaction, error) {
	return p.list(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE payment_status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, before, limit)
}

func (p *PostgresStore) ListReleasingWithin(ctx context.Context, now, horizon time.Time, limit int) ([]*Transaction, error) {
	return p.list(ctx, `
		SELECT `+txnColumns+`
		FROM transactions
		WHERE escrow_status = 'held' AND release_at > $1 AND release_at <= $2
		ORDER BY release_at ASC
		LIMIT $3`, now, horizon, limit)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var (
		offerID      sql.NullString
		processorRef sql.NullString
		releaseAt    sql.NullTime
		payment      string
		escrow       string
		delivery     string
	)
	err := s.Scan(&t.ID, &t.ProjectID, &t.BuyerID, &t.SellerID, &offerID,
		&t.AmountCents, &t.CommissionCents, &t.SellerReceivesCents,
		&payment, &escrow, &delivery, &processorRef, &releaseAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.OfferID = offerID.String
	t.ProcessorRef = processorRef.String
	t.ReleaseAt = releaseAt.Time
	t.PaymentStatus = PaymentStatus(payment)
	t.EscrowStatus = EscrowStatus(escrow)
	t.DeliveryStatus = DeliveryStatus(delivery)
	return t, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a zero time to sql.NullTime.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
