package marketdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaar/internal/market"
)

// PaymentStore persists payments in Postgres.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore constructs a PaymentStore backed by Postgres.
func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// InitSchema creates the payments table if it does not exist.
func (s *PaymentStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			order_ids TEXT NOT NULL,
			amount NUMERIC(12, 2) NOT NULL,
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			expire_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payments_user_idx ON payments (user_id)`,
	})
}

func (s *PaymentStore) InsertPayment(ctx context.Context, p market.Payment) error {
	orderIDs, err := encodeList(p.OrderIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, order_ids, amount, method, status, expire_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, orderIDs, p.Amount, string(p.Method), string(p.Status),
		p.ExpireTime, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment %s: %w", p.ID, market.ErrDuplicate)
	}
	return err
}

func (s *PaymentStore) GetPayment(ctx context.Context, id string) (market.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, order_ids, amount, method, status, expire_time, created_at, updated_at
		FROM payments
		WHERE id = $1`,
		id,
	)

	var (
		p        market.Payment
		orderIDs string
		method   string
		status   string
	)
	if err := row.Scan(&p.ID, &p.UserID, &orderIDs, &p.Amount, &method, &status,
		&p.ExpireTime, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.Payment{}, market.ErrNotFound
		}
		return market.Payment{}, err
	}
	ids, err := decodeList(orderIDs)
	if err != nil {
		return market.Payment{}, fmt.Errorf("payment %s order_ids: %w", p.ID, err)
	}
	p.OrderIDs = ids
	p.Method = market.PaymentMethod(method)
	p.Status = market.PaymentStatus(status)
	return p, nil
}

// TryTransition moves a payment from expected to next in one statement.
func (s *PaymentStore) TryTransition(ctx context.Context, id string, expected, next market.PaymentStatus) (bool, error) {
	return conditionalExec(ctx, s.db, `
		UPDATE payments
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
	)
}
