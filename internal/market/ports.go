package market

import (
	"context"
	"errors"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by stores when an insert collides with an existing row.
var ErrDuplicate = errors.New("duplicate")

// ConditionalUpdater moves a row from expected to next in a single atomic
// step. A false result without error means the row was missing or no longer
// in the expected state.
type ConditionalUpdater[S ~string] interface {
	TryTransition(ctx context.Context, id string, expected, next S) (bool, error)
}

// ProductStore is the product catalog plus its conditional status update.
type ProductStore interface {
	ConditionalUpdater[ProductStatus]
	FindProduct(ctx context.Context, id string) (Product, error)
	FindImages(ctx context.Context, id string) ([]string, error)
}

// OrderStore persists orders. Orders are never deleted.
type OrderStore interface {
	ConditionalUpdater[OrderStatus]
	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	// TryTransitionWithNote behaves like TryTransition and also replaces the note.
	TryTransitionWithNote(ctx context.Context, id string, expected, next OrderStatus, note string) (bool, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Order, error)
}

// PaymentStore persists payments.
type PaymentStore interface {
	ConditionalUpdater[PaymentStatus]
	InsertPayment(ctx context.Context, payment Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
}

// RefundStore persists refund attempts. At most one SUCCESS row exists per order.
type RefundStore interface {
	InsertRefund(ctx context.Context, refund RefundTransaction) error
	ListByOrder(ctx context.Context, orderID string) ([]RefundTransaction, error)
}

// CartStore is the buyer's shopping cart.
type CartStore interface {
	Remove(ctx context.Context, userID, productID string) error
}

// ReviewStore answers whether the buyer already reviewed an order.
type ReviewStore interface {
	IsReviewed(ctx context.Context, orderID string) (bool, error)
}

// NotificationSink delivers order events to a recipient.
type NotificationSink interface {
	Notify(ctx context.Context, recipientID string, event Event) error
}

// PasswordVerifier checks a user's payment password.
type PasswordVerifier interface {
	Verify(ctx context.Context, userID, password string) (bool, error)
}
