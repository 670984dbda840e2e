package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the sale state of a listed product.
type ProductStatus string

const (
	ProductOnSale ProductStatus = "ON_SALE"
	ProductLocked ProductStatus = "LOCKED"
	ProductSold   ProductStatus = "SOLD"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderAwaitingPayment  OrderStatus = "AWAITING_PAYMENT"
	OrderAwaitingShipping OrderStatus = "AWAITING_SHIPPING"
	OrderShipped          OrderStatus = "SHIPPED"
	OrderCompleted        OrderStatus = "COMPLETED"
	OrderReturnRequested  OrderStatus = "RETURN_REQUESTED"
	OrderReturned         OrderStatus = "RETURNED"
	OrderCancelled        OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderAwaitingPayment:  {OrderAwaitingShipping, OrderCancelled},
	OrderAwaitingShipping: {OrderShipped},
	OrderShipped:          {OrderCompleted},
	OrderCompleted:        {OrderReturnRequested},
	OrderReturnRequested:  {OrderReturned, OrderCompleted},
}

// CanTransition reports whether the order state machine allows s -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentStatus is the state of a payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentTimeout   PaymentStatus = "TIMEOUT"
)

// Terminal reports whether no further transition is possible.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// PaymentMethod names the instrument used for a payment.
type PaymentMethod string

const (
	MethodBalance PaymentMethod = "BALANCE"
	MethodCard    PaymentMethod = "CARD"
	MethodWallet  PaymentMethod = "WALLET"
)

// Valid reports whether the method is one the platform accepts.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBalance, MethodCard, MethodWallet:
		return true
	}
	return false
}

// RefundStatus is the outcome of a simulated refund.
type RefundStatus string

const (
	RefundSuccess RefundStatus = "SUCCESS"
	RefundFailed  RefundStatus = "FAILED"
)

// Product is a single listed item. Each product is sold at most once.
type Product struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	Price       decimal.Decimal
	Status      ProductStatus
	ImageURLs   []string
}

// Order is the purchase of one product by one buyer. The title,
// description and images are copied from the product at creation time.
type Order struct {
	ID              string
	BuyerID         string
	SellerID        string
	ProductID       string
	PriceAtPurchase decimal.Decimal
	Title           string
	Description     string
	ImageURLs       []string
	Status          OrderStatus
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Payment covers one or more orders owned by the same buyer.
type Payment struct {
	ID         string
	UserID     string
	OrderIDs   []string
	Amount     decimal.Decimal
	Method     PaymentMethod
	Status     PaymentStatus
	ExpireTime time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Expired reports whether a pending payment has passed its deadline.
func (p Payment) Expired(now time.Time) bool {
	return p.Status == PaymentPending && now.After(p.ExpireTime)
}

// RefundTransaction is the immutable record of one refund attempt.
type RefundTransaction struct {
	ID        string
	OrderID   string
	BuyerID   string
	SellerID  string
	Amount    decimal.Decimal
	Reason    string
	Status    RefundStatus
	CreatedAt time.Time
}

// Event is delivered to a NotificationSink whenever an order changes state.
type Event struct {
	Type       string      `json:"type"`
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	Message    string      `json:"message,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
