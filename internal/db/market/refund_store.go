package marketdb

import (
	"context"
	"database/sql"
	"fmt"

	"bazaar/internal/market"
)

// RefundStore keeps the refund transaction history in Postgres. A partial
// unique index allows at most one successful refund per order.
type RefundStore struct {
	db *sql.DB
}

// NewRefundStore constructs a RefundStore backed by Postgres.
func NewRefundStore(db *sql.DB) *RefundStore {
	return &RefundStore{db: db}
}

// InitSchema creates the refund table and its indexes if they do not exist.
func (s *RefundStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS refund_transactions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			amount NUMERIC(12, 2) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS refund_transactions_success_idx
			ON refund_transactions (order_id) WHERE status = 'SUCCESS'`,
	})
}

func (s *RefundStore) InsertRefund(ctx context.Context, r market.RefundTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refund_transactions (id, order_id, buyer_id, seller_id, amount, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.OrderID, r.BuyerID, r.SellerID, r.Amount, r.Reason, string(r.Status), r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("refund for order %s: %w", r.OrderID, market.ErrDuplicate)
	}
	return err
}

func (s *RefundStore) ListByOrder(ctx context.Context, orderID string) ([]market.RefundTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, amount, reason, status, created_at
		FROM refund_transactions
		WHERE order_id = $1
		ORDER BY created_at`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.RefundTransaction
	for rows.Next() {
		var r market.RefundTransaction
		var status string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.BuyerID, &r.SellerID, &r.Amount, &r.Reason, &status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = market.RefundStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
