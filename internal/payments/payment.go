package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/observability"
	"bazaar/internal/orders/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultTTL is how long a payment stays PENDING before it times out.
const DefaultTTL = 15 * time.Minute

// OrderSaga is the part of the order service a payment drives.
type OrderSaga interface {
	AdvanceAfterPayment(ctx context.Context, orderIDs []string, paymentID string) market.Result
	CancelAfterPaymentFailure(ctx context.Context, orderIDs []string, reason string) market.Result
}

// OrderReader loads orders for validation.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (market.Order, error)
}

// Deps are the collaborators of the payment Service.
type Deps struct {
	Payments  market.PaymentStore
	Orders    OrderReader
	Saga      OrderSaga
	Passwords market.PasswordVerifier
	Sagas     saga.Store
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	TTL       time.Duration
	NewID     func() string
	Now       func() time.Time
}

// Service owns the payment lifecycle PENDING -> SUCCESS | FAILED | CANCELLED | TIMEOUT.
// Each payment leaves PENDING exactly once; the conditional update decides the winner.
type Service struct {
	payments  market.PaymentStore
	orders    OrderReader
	saga      OrderSaga
	passwords market.PasswordVerifier
	sagas     saga.Store
	metrics   *observability.Metrics
	logger    *zap.Logger
	ttl       time.Duration
	newID     func() string
	now       func() time.Time
}

// NewService constructs a payment Service.
func NewService(deps Deps) *Service {
	s := &Service{
		payments:  deps.Payments,
		orders:    deps.Orders,
		saga:      deps.Saga,
		passwords: deps.Passwords,
		sagas:     deps.Sagas,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		ttl:       deps.TTL,
		newID:     deps.NewID,
		now:       deps.Now,
	}
	if s.sagas == nil {
		s.sagas = saga.NoopStore{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreatePayment opens a PENDING payment for orders the buyer owns and that
// still await payment. The declared amount must equal the sum of the
// orders' purchase prices exactly.
func (s *Service) CreatePayment(ctx context.Context, buyerID string, orderIDs []string, declared decimal.Decimal, method market.PaymentMethod) (res market.Result) {
	defer market.Recover(s.logger, "payments.CreatePayment", &res)

	if buyerID == "" || len(orderIDs) == 0 {
		return market.Fail(market.CodeInvalidParameter, "buyer and at least one order are required")
	}
	if !method.Valid() {
		return market.Fail(market.CodeInvalidParameter, fmt.Sprintf("unsupported payment method %q", method))
	}
	// Zero is allowed: free listings still settle through a payment.
	if declared.IsNegative() {
		return market.Fail(market.CodeInvalidParameter, "payment amount must not be negative")
	}
	seen := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if _, dup := seen[id]; dup || id == "" {
			return market.Fail(market.CodeInvalidParameter, "order ids must be unique and non-empty")
		}
		seen[id] = struct{}{}
	}

	total := decimal.Zero
	for _, orderID := range orderIDs {
		order, err := s.orders.GetOrder(ctx, orderID)
		if errors.Is(err, market.ErrNotFound) {
			return market.Fail(market.CodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		if err != nil {
			s.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
			return market.SystemError()
		}
		if order.BuyerID != buyerID {
			return market.Fail(market.CodeOrderPermissionDenied, fmt.Sprintf("order %s does not belong to you", orderID))
		}
		if order.Status != market.OrderAwaitingPayment {
			return market.Fail(market.CodeOrderStatusInvalid, fmt.Sprintf("order %s is %s", orderID, order.Status))
		}
		total = total.Add(order.PriceAtPurchase)
	}
	if !total.Equal(declared) {
		return market.Fail(market.CodeOrderAmountMismatch,
			fmt.Sprintf("declared %s does not match order total %s", declared.StringFixed(2), total.StringFixed(2)))
	}

	now := s.now().UTC()
	payment := market.Payment{
		ID:         s.newID(),
		UserID:     buyerID,
		OrderIDs:   append([]string(nil), orderIDs...),
		Amount:     total,
		Method:     method,
		Status:     market.PaymentPending,
		ExpireTime: now.Add(s.ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.payments.InsertPayment(ctx, payment); err != nil {
		s.logger.Error("insert payment failed", zap.String("buyer_id", buyerID), zap.Error(err))
		return market.SystemError()
	}
	return market.Succeed("payment created", market.PaymentData(payment))
}

// ProcessPayment settles a PENDING payment after checking ownership, expiry
// and the payment password, then advances every covered order.
func (s *Service) ProcessPayment(ctx context.Context, paymentID, password, userID string) (res market.Result) {
	defer market.Recover(s.logger, "payments.ProcessPayment", &res)

	payment, fail, ok := s.loadOwned(ctx, paymentID, userID)
	if !ok {
		return fail
	}
	if payment.Status.Terminal() {
		return market.Fail(market.CodePaymentAlreadyProcessed, fmt.Sprintf("payment is already %s", payment.Status))
	}
	if payment.Expired(s.now()) {
		s.terminate(ctx, payment, market.PaymentTimeout, "payment timed out")
		return market.Fail(market.CodePaymentTimeout, "payment has expired")
	}

	valid, err := s.passwords.Verify(ctx, userID, password)
	if err != nil {
		s.logger.Error("verify payment password failed", zap.String("user_id", userID), zap.Error(err))
		return market.SystemError()
	}
	if !valid {
		return market.Fail(market.CodePaymentPasswordError, "incorrect payment password")
	}

	won, err := s.payments.TryTransition(ctx, payment.ID, market.PaymentPending, market.PaymentSuccess)
	if err != nil {
		s.logger.Error("settle payment failed", zap.String("payment_id", payment.ID), zap.Error(err))
		return market.SystemError()
	}
	if !won {
		s.metrics.RecordConflict("payment")
		return market.Fail(market.CodePaymentAlreadyProcessed, "payment was processed concurrently")
	}

	journal := saga.Begin(ctx, s.sagas, s.logger, s.newID(), saga.KindPaymentSettle, userID)
	journal.Step(ctx, "payment:"+payment.ID, string(market.PaymentSuccess), "")
	advance := s.saga.AdvanceAfterPayment(ctx, payment.OrderIDs, payment.ID)

	payment.Status = market.PaymentSuccess
	data := market.PaymentData(payment)
	for k, v := range advance.Data {
		data[k] = v
	}
	if !advance.OK {
		journal.Step(ctx, "advance-orders", "failed", advance.Message)
		journal.Finish(ctx, saga.StatusFailed)
		s.metrics.RecordSaga(string(saga.KindPaymentSettle), string(saga.StatusFailed))
		s.logger.Warn("payment settled but not every order advanced",
			zap.String("payment_id", payment.ID), zap.String("code", string(advance.Code)), zap.String("message", advance.Message))
		return market.Fail(advance.Code, "payment succeeded but "+advance.Message).WithData(data)
	}
	journal.Step(ctx, "advance-orders", "succeeded", advance.Message)
	journal.Finish(ctx, saga.StatusSucceeded)
	s.metrics.RecordSaga(string(saga.KindPaymentSettle), string(saga.StatusSucceeded))
	return market.Succeed("payment succeeded", data)
}

// HandleTimeout closes an expired PENDING payment and cancels its orders.
func (s *Service) HandleTimeout(ctx context.Context, paymentID string) (res market.Result) {
	defer market.Recover(s.logger, "payments.HandleTimeout", &res)

	payment, fail, ok := s.load(ctx, paymentID)
	if !ok {
		return fail
	}
	if payment.Status.Terminal() {
		return market.Fail(market.CodePaymentAlreadyProcessed, fmt.Sprintf("payment is already %s", payment.Status))
	}
	if !payment.Expired(s.now()) {
		return market.Fail(market.CodePaymentNotExpired, "payment has not expired yet")
	}
	return s.terminate(ctx, payment, market.PaymentTimeout, "payment timed out")
}

// CancelPayment lets the buyer abandon a PENDING payment.
func (s *Service) CancelPayment(ctx context.Context, paymentID, userID string) (res market.Result) {
	defer market.Recover(s.logger, "payments.CancelPayment", &res)

	payment, fail, ok := s.loadOwned(ctx, paymentID, userID)
	if !ok {
		return fail
	}
	if payment.Status.Terminal() {
		return market.Fail(market.CodePaymentAlreadyProcessed, fmt.Sprintf("payment is already %s", payment.Status))
	}
	if payment.Expired(s.now()) {
		s.terminate(ctx, payment, market.PaymentTimeout, "payment timed out")
		return market.Fail(market.CodePaymentTimeout, "payment has expired")
	}
	return s.terminate(ctx, payment, market.PaymentCancelled, "payment cancelled by buyer")
}

// FailPayment records a gateway failure for a PENDING payment.
func (s *Service) FailPayment(ctx context.Context, paymentID, reason string) (res market.Result) {
	defer market.Recover(s.logger, "payments.FailPayment", &res)

	payment, fail, ok := s.load(ctx, paymentID)
	if !ok {
		return fail
	}
	if payment.Status.Terminal() {
		return market.Fail(market.CodePaymentAlreadyProcessed, fmt.Sprintf("payment is already %s", payment.Status))
	}
	if reason == "" {
		reason = "payment failed"
	}
	return s.terminate(ctx, payment, market.PaymentFailed, reason)
}

// GetPayment returns a payment to its owner, applying the timeout first
// when a PENDING payment is past its deadline.
func (s *Service) GetPayment(ctx context.Context, paymentID, userID string) (res market.Result) {
	defer market.Recover(s.logger, "payments.GetPayment", &res)

	payment, fail, ok := s.loadOwned(ctx, paymentID, userID)
	if !ok {
		return fail
	}
	if payment.Expired(s.now()) {
		s.terminate(ctx, payment, market.PaymentTimeout, "payment timed out")
		if payment, fail, ok = s.load(ctx, paymentID); !ok {
			return fail
		}
	}
	return market.Succeed("ok", market.PaymentData(payment))
}

func (s *Service) terminate(ctx context.Context, payment market.Payment, status market.PaymentStatus, reason string) market.Result {
	won, err := s.payments.TryTransition(ctx, payment.ID, market.PaymentPending, status)
	if err != nil {
		s.logger.Error("close payment failed", zap.String("payment_id", payment.ID), zap.String("status", string(status)), zap.Error(err))
		return market.SystemError()
	}
	if !won {
		s.metrics.RecordConflict("payment")
		return market.Fail(market.CodePaymentAlreadyProcessed, "payment was processed concurrently")
	}

	journal := saga.Begin(ctx, s.sagas, s.logger, s.newID(), saga.KindPaymentAbort, payment.UserID)
	journal.Step(ctx, "payment:"+payment.ID, string(status), reason)
	cancel := s.saga.CancelAfterPaymentFailure(ctx, payment.OrderIDs, reason)

	payment.Status = status
	data := market.PaymentData(payment)
	for k, v := range cancel.Data {
		data[k] = v
	}
	if !cancel.OK {
		journal.Finish(ctx, saga.StatusFailed)
		s.metrics.RecordSaga(string(saga.KindPaymentAbort), string(saga.StatusFailed))
		return market.Fail(cancel.Code, "payment closed but "+cancel.Message).WithData(data)
	}
	journal.Finish(ctx, saga.StatusCompensated)
	s.metrics.RecordSaga(string(saga.KindPaymentAbort), string(saga.StatusCompensated))
	return market.Succeed("payment closed", data)
}

func (s *Service) load(ctx context.Context, paymentID string) (market.Payment, market.Result, bool) {
	if paymentID == "" {
		return market.Payment{}, market.Fail(market.CodeInvalidParameter, "payment id is required"), false
	}
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if errors.Is(err, market.ErrNotFound) {
		return market.Payment{}, market.Fail(market.CodePaymentNotFound, "payment not found"), false
	}
	if err != nil {
		s.logger.Error("load payment failed", zap.String("payment_id", paymentID), zap.Error(err))
		return market.Payment{}, market.SystemError(), false
	}
	return payment, market.Result{}, true
}

// loadOwned hides payments of other users behind PAYMENT_NOT_FOUND.
func (s *Service) loadOwned(ctx context.Context, paymentID, userID string) (market.Payment, market.Result, bool) {
	payment, fail, ok := s.load(ctx, paymentID)
	if !ok {
		return payment, fail, false
	}
	if payment.UserID != userID {
		return market.Payment{}, market.Fail(market.CodePaymentNotFound, "payment not found"), false
	}
	return payment, market.Result{}, true
}
