package orders

import (
	"context"

	"bazaar/internal/market"
)

// ProductLock guards the product side of the saga. It only performs the
// three transitions an order may cause on its product.
type ProductLock struct {
	store market.ConditionalUpdater[market.ProductStatus]
}

// NewProductLock constructs a ProductLock over the product store.
func NewProductLock(store market.ConditionalUpdater[market.ProductStatus]) *ProductLock {
	return &ProductLock{store: store}
}

// Lock reserves an ON_SALE product for a new order.
func (l *ProductLock) Lock(ctx context.Context, productID string) (bool, error) {
	return l.store.TryTransition(ctx, productID, market.ProductOnSale, market.ProductLocked)
}

// Unlock puts a LOCKED product back on sale.
func (l *ProductLock) Unlock(ctx context.Context, productID string) (bool, error) {
	return l.store.TryTransition(ctx, productID, market.ProductLocked, market.ProductOnSale)
}

// MarkSold finalises a LOCKED product after the buyer confirmed receipt.
func (l *ProductLock) MarkSold(ctx context.Context, productID string) (bool, error) {
	return l.store.TryTransition(ctx, productID, market.ProductLocked, market.ProductSold)
}
