package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"bazaar/internal/market"
)

// Orders is an in-memory order store.
type Orders struct {
	mu     sync.Mutex
	orders map[string]market.Order
	now    func() time.Time

	// FailInsert, when set, is returned by InsertOrder for the matching product id.
	FailInsert func(productID string) error
}

// NewOrders constructs an empty order store using the wall clock.
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]market.Order), now: time.Now}
}

// SetClock replaces the clock used for UpdatedAt.
func (o *Orders) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

func (o *Orders) InsertOrder(_ context.Context, order market.Order) error {
	if o.FailInsert != nil {
		if err := o.FailInsert(order.ProductID); err != nil {
			return err
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.orders[order.ID]; ok {
		return market.ErrDuplicate
	}
	order.ImageURLs = append([]string(nil), order.ImageURLs...)
	o.orders[order.ID] = order
	return nil
}

func (o *Orders) GetOrder(_ context.Context, id string) (market.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return market.Order{}, market.ErrNotFound
	}
	order.ImageURLs = append([]string(nil), order.ImageURLs...)
	return order, nil
}

func (o *Orders) TryTransition(ctx context.Context, id string, expected, next market.OrderStatus) (bool, error) {
	return o.transition(id, expected, next, nil)
}

func (o *Orders) TryTransitionWithNote(ctx context.Context, id string, expected, next market.OrderStatus, note string) (bool, error) {
	return o.transition(id, expected, next, &note)
}

func (o *Orders) transition(id string, expected, next market.OrderStatus, note *string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok || order.Status != expected {
		return false, nil
	}
	order.Status = next
	order.UpdatedAt = o.now()
	if note != nil {
		order.Note = *note
	}
	o.orders[id] = order
	return true, nil
}

// Touch overrides UpdatedAt for an order.
func (o *Orders) Touch(id string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if order, ok := o.orders[id]; ok {
		order.UpdatedAt = at
		o.orders[id] = order
	}
}

func (o *Orders) ListByBuyer(_ context.Context, buyerID string) ([]market.Order, error) {
	return o.list(func(order market.Order) bool { return order.BuyerID == buyerID }), nil
}

func (o *Orders) ListBySeller(_ context.Context, sellerID string) ([]market.Order, error) {
	return o.list(func(order market.Order) bool { return order.SellerID == sellerID }), nil
}

// All returns every stored order, newest first.
func (o *Orders) All() []market.Order {
	return o.list(func(market.Order) bool { return true })
}

func (o *Orders) list(match func(market.Order) bool) []market.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []market.Order
	for _, order := range o.orders {
		if match(order) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
