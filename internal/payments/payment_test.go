package payments

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/memstore"
	"bazaar/internal/observability"
	"bazaar/internal/orders"
	"bazaar/internal/orders/saga"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *clock
	products *memstore.Products
	orders   *memstore.Orders
	payments *memstore.Payments
	creds    *memstore.Credentials
	sagas    *saga.MemoryStore
	orderSvc *orders.Service
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := observability.NewMetrics()
	f := &fixture{
		clock:    &clock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		products: memstore.NewProducts(),
		orders:   memstore.NewOrders(),
		payments: memstore.NewPayments(),
		creds:    memstore.NewCredentials(),
		sagas:    saga.NewMemoryStore(),
	}
	f.orderSvc = orders.NewService(orders.Deps{
		Products: f.products,
		Orders:   f.orders,
		Sagas:    f.sagas,
		Metrics:  metrics,
		Logger:   logger,
		Now:      f.clock.Now,
	})
	f.svc = NewService(Deps{
		Payments:  f.payments,
		Orders:    f.orders,
		Saga:      f.orderSvc,
		Passwords: f.creds,
		Sagas:     f.sagas,
		Metrics:   metrics,
		Logger:    logger,
		TTL:       15 * time.Minute,
		Now:       f.clock.Now,
	})
	if err := f.creds.SetPassword(context.Background(), "buyer", "246810"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	return f
}

func (f *fixture) order(t *testing.T, productID, price string) string {
	t.Helper()
	f.products.Put(market.Product{
		ID:       productID,
		SellerID: "seller",
		Title:    "item " + productID,
		Price:    decimal.RequireFromString(price),
		Status:   market.ProductOnSale,
	})
	res := f.orderSvc.Create(context.Background(), "buyer", []string{productID})
	if !res.OK {
		t.Fatalf("create order: %+v", res)
	}
	return res.Data["orderIds"].([]string)[0]
}

func (f *fixture) pay(t *testing.T, orderIDs []string, amount string) string {
	t.Helper()
	res := f.svc.CreatePayment(context.Background(), "buyer", orderIDs, decimal.RequireFromString(amount), market.MethodBalance)
	if !res.OK {
		t.Fatalf("create payment: %+v", res)
	}
	return res.Data["paymentId"].(string)
}

func (f *fixture) orderStatus(t *testing.T, id string) market.OrderStatus {
	t.Helper()
	order, err := f.orders.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	return order.Status
}

func (f *fixture) paymentStatus(t *testing.T, id string) market.PaymentStatus {
	t.Helper()
	payment, err := f.payments.GetPayment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	return payment.Status
}

func TestProcessPayment_AdvancesOrders(t *testing.T) {
	f := newFixture(t)
	o1 := f.order(t, "p1", "10.50")
	o2 := f.order(t, "p2", "4.25")
	paymentID := f.pay(t, []string{o1, o2}, "14.75")

	res := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "buyer")
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Data["successCount"] != 2 {
		t.Fatalf("expected 2 advanced orders, got %+v", res.Data)
	}
	if f.paymentStatus(t, paymentID) != market.PaymentSuccess {
		t.Fatalf("expected payment SUCCESS")
	}
	for _, id := range []string{o1, o2} {
		if got := f.orderStatus(t, id); got != market.OrderAwaitingShipping {
			t.Fatalf("expected %s AWAITING_SHIPPING, got %s", id, got)
		}
	}
	if got := f.products.Status("p1"); got != market.ProductLocked {
		t.Fatalf("paid product stays LOCKED until receipt, got %s", got)
	}

	again := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "buyer")
	if again.Code != market.CodePaymentAlreadyProcessed {
		t.Fatalf("expected PAYMENT_ALREADY_PROCESSED, got %+v", again)
	}
}

func TestProcessPayment_TimeoutCancelsOrders(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(t, "p1", "30")
	paymentID := f.pay(t, []string{orderID}, "30.00")

	f.clock.Advance(16 * time.Minute)
	res := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "buyer")
	if res.Code != market.CodePaymentTimeout {
		t.Fatalf("expected PAYMENT_TIMEOUT, got %+v", res)
	}
	if f.paymentStatus(t, paymentID) != market.PaymentTimeout {
		t.Fatalf("expected payment TIMEOUT")
	}
	if f.orderStatus(t, orderID) != market.OrderCancelled {
		t.Fatalf("expected order CANCELLED")
	}
	if f.products.Status("p1") != market.ProductOnSale {
		t.Fatalf("expected product back ON_SALE")
	}
}

func TestProcessPayment_Rejections(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(t, "p1", "30")
	paymentID := f.pay(t, []string{orderID}, "30")

	if res := f.svc.ProcessPayment(context.Background(), paymentID, "000000", "buyer"); res.Code != market.CodePaymentPasswordError {
		t.Fatalf("expected PAYMENT_PASSWORD_ERROR, got %+v", res)
	}
	if res := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "intruder"); res.Code != market.CodePaymentNotFound {
		t.Fatalf("expected PAYMENT_NOT_FOUND for another user, got %+v", res)
	}
	if res := f.svc.ProcessPayment(context.Background(), "missing", "246810", "buyer"); res.Code != market.CodePaymentNotFound {
		t.Fatalf("expected PAYMENT_NOT_FOUND, got %+v", res)
	}
	if f.paymentStatus(t, paymentID) != market.PaymentPending {
		t.Fatalf("rejected attempts must leave the payment PENDING")
	}
}

func TestProcessPayment_ConcurrentAttemptsSettleOnce(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(t, "p1", "8")
	paymentID := f.pay(t, []string{orderID}, "8")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "buyer")
			if res.OK {
				wins.Add(1)
				return
			}
			if res.Code != market.CodePaymentAlreadyProcessed {
				t.Errorf("unexpected code %s", res.Code)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected a single settlement, got %d", wins.Load())
	}
	if f.orderStatus(t, orderID) != market.OrderAwaitingShipping {
		t.Fatalf("expected order AWAITING_SHIPPING")
	}
}

func TestCreatePayment_Validation(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(t, "p1", "12.30")

	cases := []struct {
		name   string
		buyer  string
		orders []string
		amount string
		method market.PaymentMethod
		want   market.Code
	}{
		{"bad method", "buyer", []string{orderID}, "12.30", "CASH", market.CodeInvalidParameter},
		{"negative amount", "buyer", []string{orderID}, "-12.30", market.MethodCard, market.CodeInvalidParameter},
		{"zero amount", "buyer", []string{orderID}, "0", market.MethodCard, market.CodeOrderAmountMismatch},
		{"duplicate order", "buyer", []string{orderID, orderID}, "24.60", market.MethodCard, market.CodeInvalidParameter},
		{"unknown order", "buyer", []string{"missing"}, "12.30", market.MethodCard, market.CodeOrderNotFound},
		{"not owner", "someone", []string{orderID}, "12.30", market.MethodCard, market.CodeOrderPermissionDenied},
		{"wrong amount", "buyer", []string{orderID}, "12.29", market.MethodCard, market.CodeOrderAmountMismatch},
	}
	for _, tc := range cases {
		res := f.svc.CreatePayment(context.Background(), tc.buyer, tc.orders, decimal.RequireFromString(tc.amount), tc.method)
		if res.OK || res.Code != tc.want {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.want, res)
		}
	}

	if res := f.orderSvc.CancelAfterPaymentFailure(context.Background(), []string{orderID}, "test"); !res.OK {
		t.Fatalf("cancel: %+v", res)
	}
	res := f.svc.CreatePayment(context.Background(), "buyer", []string{orderID}, decimal.RequireFromString("12.30"), market.MethodCard)
	if res.Code != market.CodeOrderStatusInvalid {
		t.Fatalf("expected ORDER_STATUS_INVALID for cancelled order, got %+v", res)
	}
}

func TestCreatePayment_FreeOrderSettles(t *testing.T) {
	f := newFixture(t)
	orderID := f.order(t, "p-free", "0.00")

	paymentID := f.pay(t, []string{orderID}, "0")
	if res := f.svc.ProcessPayment(context.Background(), paymentID, "246810", "buyer"); !res.OK {
		t.Fatalf("process: %+v", res)
	}
	if got := f.orderStatus(t, orderID); got != market.OrderAwaitingShipping {
		t.Fatalf("expected AWAITING_SHIPPING, got %s", got)
	}

	other := f.order(t, "p-free-2", "0.00")
	expiring := f.pay(t, []string{other}, "0.00")
	f.clock.Advance(16 * time.Minute)
	if res := f.svc.HandleTimeout(context.Background(), expiring); !res.OK {
		t.Fatalf("timeout: %+v", res)
	}
	if got := f.products.Status("p-free-2"); got != market.ProductOnSale {
		t.Fatalf("expected free product released, got %s", got)
	}
}

func TestCancelAndFailPayment(t *testing.T) {
	f := newFixture(t)
	o1 := f.order(t, "p1", "5")
	o2 := f.order(t, "p2", "6")
	cancelID := f.pay(t, []string{o1}, "5")
	failID := f.pay(t, []string{o2}, "6")

	if res := f.svc.CancelPayment(context.Background(), cancelID, "buyer"); !res.OK {
		t.Fatalf("cancel: %+v", res)
	}
	if f.paymentStatus(t, cancelID) != market.PaymentCancelled || f.orderStatus(t, o1) != market.OrderCancelled {
		t.Fatalf("expected cancelled payment and order")
	}
	if res := f.svc.CancelPayment(context.Background(), cancelID, "buyer"); res.Code != market.CodePaymentAlreadyProcessed {
		t.Fatalf("expected PAYMENT_ALREADY_PROCESSED, got %+v", res)
	}

	if res := f.svc.FailPayment(context.Background(), failID, "card declined"); !res.OK {
		t.Fatalf("fail: %+v", res)
	}
	if f.paymentStatus(t, failID) != market.PaymentFailed || f.orderStatus(t, o2) != market.OrderCancelled {
		t.Fatalf("expected failed payment and cancelled order")
	}
	if f.products.Status("p2") != market.ProductOnSale {
		t.Fatalf("expected product released after failure")
	}
	if runs := f.sagas.Records(saga.KindPaymentAbort); len(runs) != 2 {
		t.Fatalf("expected two abort sagas, got %d", len(runs))
	}
}

func TestHandleTimeoutAndLazyExpiry(t *testing.T) {
	f := newFixture(t)
	o1 := f.order(t, "p1", "5")
	o2 := f.order(t, "p2", "7")
	early := f.pay(t, []string{o1}, "5")
	lazy := f.pay(t, []string{o2}, "7")

	if res := f.svc.HandleTimeout(context.Background(), early); res.Code != market.CodePaymentNotExpired {
		t.Fatalf("expected PAYMENT_NOT_EXPIRED, got %+v", res)
	}

	f.clock.Advance(15*time.Minute + time.Second)
	if res := f.svc.HandleTimeout(context.Background(), early); !res.OK {
		t.Fatalf("timeout: %+v", res)
	}
	if f.orderStatus(t, o1) != market.OrderCancelled {
		t.Fatalf("expected order cancelled after timeout")
	}

	res := f.svc.GetPayment(context.Background(), lazy, "buyer")
	if !res.OK || res.Data["status"] != string(market.PaymentTimeout) {
		t.Fatalf("expected lazily timed out payment, got %+v", res)
	}
	if f.orderStatus(t, o2) != market.OrderCancelled {
		t.Fatalf("expected order cancelled on read")
	}
}
