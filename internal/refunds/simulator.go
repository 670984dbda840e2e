package refunds

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"bazaar/internal/market"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultDelay stands in for the latency of a real refund gateway.
	DefaultDelay = 500 * time.Millisecond
	// DefaultSuccessRate is the share of simulated refunds that succeed.
	DefaultSuccessRate = 0.95
)

// ErrRefundFailed marks a simulated refund that the gateway declined.
var ErrRefundFailed = errors.New("simulated refund failed")

// Config tunes the simulator. Zero values take the defaults; a negative
// Delay disables the wait.
type Config struct {
	Delay       time.Duration
	SuccessRate float64
	// Roll returns a number in [0, 1); the refund succeeds when it is below SuccessRate.
	Roll  func() float64
	Sleep func(context.Context, time.Duration) error
	NewID func() string
	Now   func() time.Time
}

// Simulator pretends to move money back to the buyer and records the outcome.
type Simulator struct {
	store       market.RefundStore
	logger      *zap.Logger
	delay       time.Duration
	successRate float64
	roll        func() float64
	sleep       func(context.Context, time.Duration) error
	newID       func() string
	now         func() time.Time
}

// NewSimulator constructs a Simulator writing to store.
func NewSimulator(store market.RefundStore, logger *zap.Logger, cfg Config) *Simulator {
	s := &Simulator{
		store:       store,
		logger:      logger,
		delay:       cfg.Delay,
		successRate: cfg.SuccessRate,
		roll:        cfg.Roll,
		sleep:       cfg.Sleep,
		newID:       cfg.NewID,
		now:         cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	switch {
	case s.delay == 0:
		s.delay = DefaultDelay
	case s.delay < 0:
		s.delay = 0
	}
	if s.successRate <= 0 || s.successRate > 1 {
		s.successRate = DefaultSuccessRate
	}
	if s.roll == nil {
		s.roll = lockedRand()
	}
	if s.sleep == nil {
		s.sleep = sleepWithContext
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ProcessRefund refunds the full purchase price of order. The returned
// transaction is always persisted; a FAILED one comes back with
// ErrRefundFailed. Cancelling ctx during the gateway delay aborts before
// anything is written.
func (s *Simulator) ProcessRefund(ctx context.Context, order market.Order, reason string) (market.RefundTransaction, error) {
	if err := s.sleep(ctx, s.delay); err != nil {
		return market.RefundTransaction{}, err
	}

	refund := market.RefundTransaction{
		ID:        s.newID(),
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Amount:    order.PriceAtPurchase,
		Reason:    reason,
		Status:    market.RefundSuccess,
		CreatedAt: s.now().UTC(),
	}
	if s.roll() >= s.successRate {
		refund.Status = market.RefundFailed
	}

	if err := s.store.InsertRefund(ctx, refund); err != nil {
		return market.RefundTransaction{}, err
	}
	s.logger.Info("refund simulated",
		zap.String("refund_id", refund.ID),
		zap.String("order_id", order.ID),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.String("status", string(refund.Status)))

	if refund.Status == market.RefundFailed {
		return refund, ErrRefundFailed
	}
	return refund, nil
}

func lockedRand() func() float64 {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
