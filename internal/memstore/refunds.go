package memstore

import (
	"context"
	"sort"
	"sync"

	"bazaar/internal/market"
)

// Refunds is an in-memory refund store.
type Refunds struct {
	mu      sync.Mutex
	refunds map[string][]market.RefundTransaction
}

// NewRefunds constructs an empty refund store.
func NewRefunds() *Refunds {
	return &Refunds{refunds: make(map[string][]market.RefundTransaction)}
}

func (r *Refunds) InsertRefund(_ context.Context, refund market.RefundTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.refunds[refund.OrderID] {
		if existing.ID == refund.ID {
			return market.ErrDuplicate
		}
		if refund.Status == market.RefundSuccess && existing.Status == market.RefundSuccess {
			return market.ErrDuplicate
		}
	}
	r.refunds[refund.OrderID] = append(r.refunds[refund.OrderID], refund)
	return nil
}

func (r *Refunds) ListByOrder(_ context.Context, orderID string) ([]market.RefundTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]market.RefundTransaction(nil), r.refunds[orderID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
