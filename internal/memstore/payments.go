package memstore

import (
	"context"
	"sync"
	"time"

	"bazaar/internal/market"
)

// Payments is an in-memory payment store.
type Payments struct {
	mu       sync.Mutex
	payments map[string]market.Payment
	now      func() time.Time
}

// NewPayments constructs an empty payment store.
func NewPayments() *Payments {
	return &Payments{payments: make(map[string]market.Payment), now: time.Now}
}

func (p *Payments) InsertPayment(_ context.Context, payment market.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.payments[payment.ID]; ok {
		return market.ErrDuplicate
	}
	payment.OrderIDs = append([]string(nil), payment.OrderIDs...)
	p.payments[payment.ID] = payment
	return nil
}

func (p *Payments) GetPayment(_ context.Context, id string) (market.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[id]
	if !ok {
		return market.Payment{}, market.ErrNotFound
	}
	payment.OrderIDs = append([]string(nil), payment.OrderIDs...)
	return payment, nil
}

func (p *Payments) TryTransition(_ context.Context, id string, expected, next market.PaymentStatus) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[id]
	if !ok || payment.Status != expected {
		return false, nil
	}
	payment.Status = next
	payment.UpdatedAt = p.now()
	p.payments[id] = payment
	return true, nil
}
