package marketdb

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/orders/saga"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

var orderRowColumns = []string{
	"id", "buyer_id", "seller_id", "product_id", "price_at_purchase", "title",
	"description", "image_urls", "status", "note", "created_at", "updated_at",
}

func TestInitSchema_CreatesEveryTable(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS products",
		"CREATE TABLE IF NOT EXISTS product_images",
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE INDEX IF NOT EXISTS orders_buyer_idx",
		"CREATE INDEX IF NOT EXISTS orders_seller_idx",
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE INDEX IF NOT EXISTS payments_user_idx",
		"CREATE TABLE IF NOT EXISTS refund_transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS refund_transactions_success_idx",
		"CREATE TABLE IF NOT EXISTS order_reviews",
		"CREATE TABLE IF NOT EXISTS payment_credentials",
		"CREATE TABLE IF NOT EXISTS sagas",
		"CREATE TABLE IF NOT EXISTS saga_steps",
	} {
		mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectClose()

	if err := InitSchema(context.Background(), db); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestInitSchema_StopsOnError(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS products").
		WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	if err := InitSchema(context.Background(), db); err == nil {
		t.Fatalf("expected error")
	}
}

func TestProductStore_FindProduct(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT id, seller_id, title, description, price, status FROM products").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "description", "price", "status"}).
			AddRow("p-1", "seller-1", "Lamp", "brass", "19.90", "ON_SALE"))
	mock.ExpectClose()

	store := NewProductStore(db)
	p, err := store.FindProduct(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("FindProduct: %v", err)
	}
	if p.SellerID != "seller-1" || p.Status != market.ProductOnSale {
		t.Fatalf("unexpected product: %+v", p)
	}
	if !p.Price.Equal(decimal.RequireFromString("19.90")) {
		t.Fatalf("unexpected price: %s", p.Price)
	}
}

func TestProductStore_FindProductNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT id, seller_id, title, description, price, status FROM products").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewProductStore(db)
	if _, err := store.FindProduct(context.Background(), "missing"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductStore_FindImagesOrdered(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT url FROM product_images").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"url"}).
			AddRow("https://img/1.png").
			AddRow("https://img/2.png"))
	mock.ExpectClose()

	store := NewProductStore(db)
	urls, err := store.FindImages(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("FindImages: %v", err)
	}
	if len(urls) != 2 || urls[0] != "https://img/1.png" {
		t.Fatalf("unexpected urls: %v", urls)
	}
}

func TestProductStore_TryTransition(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE products SET status").
		WithArgs("p-1", "ON_SALE", "LOCKED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET status").
		WithArgs("p-1", "ON_SALE", "LOCKED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewProductStore(db)
	ok, err := store.TryTransition(context.Background(), "p-1", market.ProductOnSale, market.ProductLocked)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = store.TryTransition(context.Background(), "p-1", market.ProductOnSale, market.ProductLocked)
	if err != nil || ok {
		t.Fatalf("second transition should lose: ok=%v err=%v", ok, err)
	}
}

func TestOrderStore_InsertOrder(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := market.Order{
		ID:              "o-1",
		BuyerID:         "buyer-1",
		SellerID:        "seller-1",
		ProductID:       "p-1",
		PriceAtPurchase: decimal.RequireFromString("19.90"),
		Title:           "Lamp",
		Description:     "brass",
		ImageURLs:       []string{"https://img/1.png"},
		Status:          market.OrderAwaitingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	mock.ExpectExec("INSERT INTO orders").
		WithArgs("o-1", "buyer-1", "seller-1", "p-1", decimal.RequireFromString("19.90"),
			"Lamp", "brass", `["https://img/1.png"]`, "AWAITING_PAYMENT", "",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewOrderStore(db)
	if err := store.InsertOrder(context.Background(), order); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}
}

func TestOrderStore_InsertDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO orders").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectClose()

	store := NewOrderStore(db)
	err := store.InsertOrder(context.Background(), market.Order{ID: "o-1"})
	if !errors.Is(err, market.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestOrderStore_GetOrder(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, buyer_id, seller_id").
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("o-1", "buyer-1", "seller-1", "p-1", "19.90", "Lamp", "brass",
				`["a.png","b.png"]`, "AWAITING_SHIPPING", "", now, now))
	mock.ExpectClose()

	store := NewOrderStore(db)
	order, err := store.GetOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != market.OrderAwaitingShipping {
		t.Fatalf("unexpected status: %s", order.Status)
	}
	if len(order.ImageURLs) != 2 || order.ImageURLs[1] != "b.png" {
		t.Fatalf("unexpected images: %v", order.ImageURLs)
	}
	if !order.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected updated_at: %v", order.UpdatedAt)
	}
}

func TestOrderStore_GetOrderNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT id, buyer_id, seller_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewOrderStore(db)
	if _, err := store.GetOrder(context.Background(), "missing"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrderStore_TryTransitionWithNote(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE orders SET status = \\$3, note = \\$4").
		WithArgs("o-1", "COMPLETED", "RETURN_REQUESTED", "broken").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewOrderStore(db)
	ok, err := store.TryTransitionWithNote(context.Background(), "o-1",
		market.OrderCompleted, market.OrderReturnRequested, "broken")
	if err != nil || !ok {
		t.Fatalf("TryTransitionWithNote: ok=%v err=%v", ok, err)
	}
}

func TestOrderStore_ListByBuyer(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC")).
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("o-2", "buyer-1", "seller-1", "p-2", "5.00", "Cup", "", "[]", "AWAITING_PAYMENT", "", now, now).
			AddRow("o-1", "buyer-1", "seller-1", "p-1", "19.90", "Lamp", "", "[]", "AWAITING_SHIPPING", "", now, now))
	mock.ExpectClose()

	store := NewOrderStore(db)
	orders, err := store.ListByBuyer(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("ListByBuyer: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "o-2" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}

func TestOrderStore_BadImageColumn(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Now()
	mock.ExpectQuery("SELECT id, buyer_id, seller_id").
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("o-1", "buyer-1", "seller-1", "p-1", "1.00", "Lamp", "", "not-json", "AWAITING_SHIPPING", "", now, now))
	mock.ExpectClose()

	store := NewOrderStore(db)
	if _, err := store.GetOrder(context.Background(), "o-1"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestPaymentStore_InsertAndGet(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payment := market.Payment{
		ID:         "pay-1",
		UserID:     "buyer-1",
		OrderIDs:   []string{"o-1", "o-2"},
		Amount:     decimal.RequireFromString("24.90"),
		Method:     market.MethodBalance,
		Status:     market.PaymentPending,
		ExpireTime: now.Add(15 * time.Minute),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO payments").
		WithArgs("pay-1", "buyer-1", `["o-1","o-2"]`, decimal.RequireFromString("24.90"), "BALANCE", "PENDING",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, user_id, order_ids, amount, method, status").
		WithArgs("pay-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "order_ids", "amount", "method", "status", "expire_time", "created_at", "updated_at"}).
			AddRow("pay-1", "buyer-1", `["o-1","o-2"]`, "24.90", "BALANCE", "PENDING", payment.ExpireTime, now, now))
	mock.ExpectClose()

	store := NewPaymentStore(db)
	if err := store.InsertPayment(context.Background(), payment); err != nil {
		t.Fatalf("InsertPayment: %v", err)
	}
	got, err := store.GetPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if len(got.OrderIDs) != 2 || got.OrderIDs[1] != "o-2" {
		t.Fatalf("unexpected order ids: %v", got.OrderIDs)
	}
	if got.Method != market.MethodBalance || got.Status != market.PaymentPending {
		t.Fatalf("unexpected payment: %+v", got)
	}
	if !got.ExpireTime.Equal(payment.ExpireTime) {
		t.Fatalf("unexpected expire time: %v", got.ExpireTime)
	}
}

func TestPaymentStore_GetNotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT id, user_id, order_ids").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewPaymentStore(db)
	if _, err := store.GetPayment(context.Background(), "missing"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentStore_TryTransitionPropagatesErrors(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs("pay-1", "PENDING", "SUCCESS").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectClose()

	store := NewPaymentStore(db)
	ok, err := store.TryTransition(context.Background(), "pay-1", market.PaymentPending, market.PaymentSuccess)
	if err == nil || ok {
		t.Fatalf("expected error, got ok=%v err=%v", ok, err)
	}
}

func TestRefundStore_SecondSuccessIsDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO refund_transactions").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "refund_transactions_success_idx"})
	mock.ExpectClose()

	store := NewRefundStore(db)
	err := store.InsertRefund(context.Background(), market.RefundTransaction{
		ID:      "r-2",
		OrderID: "o-1",
		Amount:  decimal.RequireFromString("19.90"),
		Status:  market.RefundSuccess,
	})
	if !errors.Is(err, market.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestRefundStore_ListByOrder(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, order_id, buyer_id, seller_id, amount, reason, status, created_at FROM refund_transactions").
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "buyer_id", "seller_id", "amount", "reason", "status", "created_at"}).
			AddRow("r-1", "o-1", "buyer-1", "seller-1", "19.90", "broken", "FAILED", now).
			AddRow("r-2", "o-1", "buyer-1", "seller-1", "19.90", "broken", "SUCCESS", now.Add(time.Minute)))
	mock.ExpectClose()

	store := NewRefundStore(db)
	refunds, err := store.ListByOrder(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("ListByOrder: %v", err)
	}
	if len(refunds) != 2 || refunds[0].Status != market.RefundFailed || refunds[1].Status != market.RefundSuccess {
		t.Fatalf("unexpected refunds: %+v", refunds)
	}
}

func TestReviewStore_IsReviewed(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("o-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectClose()

	store := NewReviewStore(db)
	reviewed, err := store.IsReviewed(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("IsReviewed: %v", err)
	}
	if !reviewed {
		t.Fatalf("expected reviewed")
	}
}

func TestCredentialStore_Verify(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	columns := []string{"password_hash"}
	mock.ExpectQuery("SELECT password_hash FROM payment_credentials").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(string(hash)))
	mock.ExpectQuery("SELECT password_hash FROM payment_credentials").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(string(hash)))
	mock.ExpectQuery("SELECT password_hash FROM payment_credentials").
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewCredentialStore(db)
	ctx := context.Background()
	if ok, err := store.Verify(ctx, "buyer-1", "123456"); err != nil || !ok {
		t.Fatalf("correct password: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Verify(ctx, "buyer-1", "wrong"); err != nil || ok {
		t.Fatalf("wrong password: ok=%v err=%v", ok, err)
	}
	if ok, err := store.Verify(ctx, "nobody", "123456"); err != nil || ok {
		t.Fatalf("unknown user: ok=%v err=%v", ok, err)
	}
}

func TestCredentialStore_SetPasswordUpserts(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO payment_credentials").
		WithArgs("buyer-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewCredentialStore(db)
	store.cost = bcrypt.MinCost
	if err := store.SetPassword(context.Background(), "buyer-1", "123456"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
}

func TestSagaStore_StartAndSteps(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO sagas").
		WithArgs("saga-1", "create_order", "buyer-1", "started").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO saga_steps").
		WithArgs("saga-1", "lock_product", "ok", "p-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sagas").
		WithArgs("saga-1", "succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewSagaStore(db)
	ctx := context.Background()
	if err := store.Start(ctx, "saga-1", saga.KindCreateOrder, "buyer-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := store.AddStep(ctx, "saga-1", "lock_product", "ok", "p-1"); err != nil {
		t.Fatalf("AddStep: %v", err)
	}
	if err := store.UpdateStatus(ctx, "saga-1", saga.StatusSucceeded); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
}

func TestSagaStore_StartTwice(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO sagas").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectClose()

	store := NewSagaStore(db)
	err := store.Start(context.Background(), "saga-1", saga.KindCreateOrder, "buyer-1")
	if !errors.Is(err, saga.ErrSagaExists) {
		t.Fatalf("expected ErrSagaExists, got %v", err)
	}
}
