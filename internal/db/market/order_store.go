package marketdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaar/internal/market"
)

// OrderStore persists orders in Postgres.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			price_at_purchase NUMERIC(12, 2) NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			image_urls TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_buyer_idx ON orders (buyer_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS orders_seller_idx ON orders (seller_id, created_at DESC)`,
	})
}

const orderColumns = `id, buyer_id, seller_id, product_id, price_at_purchase, title, description, image_urls, status, note, created_at, updated_at`

func (s *OrderStore) InsertOrder(ctx context.Context, order market.Order) error {
	images, err := encodeList(order.ImageURLs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.BuyerID, order.SellerID, order.ProductID, order.PriceAtPurchase,
		order.Title, order.Description, images, string(order.Status), order.Note,
		order.CreatedAt, order.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", order.ID, market.ErrDuplicate)
	}
	return err
}

func (s *OrderStore) GetOrder(ctx context.Context, id string) (market.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Order{}, market.ErrNotFound
	}
	return order, err
}

// TryTransition moves an order from expected to next in one statement.
func (s *OrderStore) TryTransition(ctx context.Context, id string, expected, next market.OrderStatus) (bool, error) {
	return conditionalExec(ctx, s.db, `
		UPDATE orders
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next),
	)
}

func (s *OrderStore) TryTransitionWithNote(ctx context.Context, id string, expected, next market.OrderStatus, note string) (bool, error) {
	return conditionalExec(ctx, s.db, `
		UPDATE orders
		SET status = $3, note = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(expected), string(next), note,
	)
}

func (s *OrderStore) ListByBuyer(ctx context.Context, buyerID string) ([]market.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

func (s *OrderStore) ListBySeller(ctx context.Context, sellerID string) ([]market.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
}

func (s *OrderStore) list(ctx context.Context, query string, arg string) ([]market.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (market.Order, error) {
	var (
		o      market.Order
		images string
		status string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.PriceAtPurchase,
		&o.Title, &o.Description, &images, &status, &o.Note, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return market.Order{}, err
	}
	urls, err := decodeList(images)
	if err != nil {
		return market.Order{}, fmt.Errorf("order %s image_urls: %w", o.ID, err)
	}
	o.ImageURLs = urls
	o.Status = market.OrderStatus(status)
	return o, nil
}
