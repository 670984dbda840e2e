package marketdb

import (
	"context"
	"database/sql"
	"errors"

	"bazaar/internal/market"
)

// ProductStore reads products and performs the conditional status update in Postgres.
type ProductStore struct {
	db *sql.DB
}

// NewProductStore constructs a ProductStore backed by Postgres.
func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

// InitSchema creates the product tables if they do not exist.
func (s *ProductStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(12, 2) NOT NULL,
			status TEXT NOT NULL DEFAULT 'ON_SALE',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS product_images (
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			position INT NOT NULL,
			url TEXT NOT NULL,
			PRIMARY KEY (product_id, position)
		)`,
	})
}

func (s *ProductStore) FindProduct(ctx context.Context, id string) (market.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, description, price, status
		FROM products
		WHERE id = $1`,
		id,
	)

	var p market.Product
	var status string
	if err := row.Scan(&p.ID, &p.SellerID, &p.Title, &p.Description, &p.Price, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return market.Product{}, market.ErrNotFound
		}
		return market.Product{}, err
	}
	p.Status = market.ProductStatus(status)
	return p, nil
}

func (s *ProductStore) FindImages(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url
		FROM product_images
		WHERE product_id = $1
		ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// TryTransition moves a product from expected to next in one statement.
func (s *ProductStore) TryTransition(ctx context.Context, id string, expected, next market.ProductStatus) (bool, error) {
	return conditionalExec(ctx, s.db, `
		UPDATE products
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
	)
}
