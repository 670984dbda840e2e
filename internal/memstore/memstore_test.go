package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bazaar/internal/market"

	"github.com/shopspring/decimal"
)

func TestProductsTryTransitionSingleWinner(t *testing.T) {
	products := NewProducts()
	products.Put(market.Product{ID: "p1", SellerID: "s1", Status: market.ProductOnSale, Price: decimal.NewFromInt(10)})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := products.TryTransition(context.Background(), "p1", market.ProductOnSale, market.ProductLocked)
			if err != nil {
				t.Errorf("TryTransition: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if products.Status("p1") != market.ProductLocked {
		t.Fatalf("expected LOCKED, got %s", products.Status("p1"))
	}
}

func TestProductsTryTransitionMissing(t *testing.T) {
	products := NewProducts()
	ok, err := products.TryTransition(context.Background(), "missing", market.ProductOnSale, market.ProductLocked)
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
	if _, err := products.FindProduct(context.Background(), "missing"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrdersTransitionStampsUpdatedAt(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	orders := NewOrders()
	orders.SetClock(func() time.Time { return now })
	ctx := context.Background()

	if err := orders.InsertOrder(ctx, market.Order{ID: "o1", BuyerID: "b1", Status: market.OrderCompleted}); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
	ok, err := orders.TryTransitionWithNote(ctx, "o1", market.OrderCompleted, market.OrderReturnRequested, "broken")
	if err != nil || !ok {
		t.Fatalf("expected transition, got (%v, %v)", ok, err)
	}
	got, err := orders.GetOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if !got.UpdatedAt.Equal(now) || got.Note != "broken" || got.Status != market.OrderReturnRequested {
		t.Fatalf("unexpected order: %+v", got)
	}

	ok, err = orders.TryTransition(ctx, "o1", market.OrderCompleted, market.OrderReturnRequested)
	if err != nil || ok {
		t.Fatalf("expected stale transition to be rejected, got (%v, %v)", ok, err)
	}
	if err := orders.InsertOrder(ctx, market.Order{ID: "o1"}); !errors.Is(err, market.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRefundsAllowOneSuccessPerOrder(t *testing.T) {
	refunds := NewRefunds()
	ctx := context.Background()

	if err := refunds.InsertRefund(ctx, market.RefundTransaction{ID: "r1", OrderID: "o1", Status: market.RefundFailed}); err != nil {
		t.Fatalf("insert failed refund: %v", err)
	}
	if err := refunds.InsertRefund(ctx, market.RefundTransaction{ID: "r2", OrderID: "o1", Status: market.RefundSuccess}); err != nil {
		t.Fatalf("insert success refund: %v", err)
	}
	if err := refunds.InsertRefund(ctx, market.RefundTransaction{ID: "r3", OrderID: "o1", Status: market.RefundSuccess}); !errors.Is(err, market.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second success, got %v", err)
	}
	list, _ := refunds.ListByOrder(ctx, "o1")
	if len(list) != 2 {
		t.Fatalf("expected 2 refunds, got %d", len(list))
	}
}

func TestCredentialsVerify(t *testing.T) {
	creds := NewCredentials()
	ctx := context.Background()
	if err := creds.SetPassword(ctx, "u1", "123456"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if ok, err := creds.Verify(ctx, "u1", "123456"); err != nil || !ok {
		t.Fatalf("expected valid password, got (%v, %v)", ok, err)
	}
	if ok, err := creds.Verify(ctx, "u1", "654321"); err != nil || ok {
		t.Fatalf("expected invalid password, got (%v, %v)", ok, err)
	}
	if ok, err := creds.Verify(ctx, "unknown", "123456"); err != nil || ok {
		t.Fatalf("expected unknown user to fail, got (%v, %v)", ok, err)
	}
}
