package marketdb

import (
	"context"
	"database/sql"
)

// ReviewStore answers whether an order already carries a buyer review.
type ReviewStore struct {
	db *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// InitSchema creates the reviews table if it does not exist.
func (s *ReviewStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS order_reviews (
			order_id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			rating INT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	})
}

func (s *ReviewStore) IsReviewed(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_reviews WHERE order_id = $1)`,
		orderID,
	).Scan(&exists)
	return exists, err
}
