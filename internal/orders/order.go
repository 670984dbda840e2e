package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/notify"
	"bazaar/internal/observability"
	"bazaar/internal/orders/saga"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errUnlockMismatch = errors.New("product was not LOCKED")

// Deps are the collaborators of the order Service.
type Deps struct {
	Products market.ProductStore
	Orders   market.OrderStore
	Cart     market.CartStore
	Notifier market.NotificationSink
	Sagas    saga.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	NewID    func() string
	Now      func() time.Time
}

// Service runs the order saga: creating orders against locked products and
// moving them through their lifecycle.
type Service struct {
	products market.ProductStore
	lock     *ProductLock
	orders   market.OrderStore
	cart     market.CartStore
	notifier market.NotificationSink
	sagas    saga.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

// NewService constructs a Service. Missing optional collaborators are
// replaced with no-op versions.
func NewService(deps Deps) *Service {
	s := &Service{
		products: deps.Products,
		lock:     NewProductLock(deps.Products),
		orders:   deps.Orders,
		cart:     deps.Cart,
		notifier: deps.Notifier,
		sagas:    deps.Sagas,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		newID:    deps.NewID,
		now:      deps.Now,
	}
	if s.cart == nil {
		s.cart = NoopCart{}
	}
	if s.notifier == nil {
		s.notifier = NoopNotifier{}
	}
	if s.sagas == nil {
		s.sagas = saga.NoopStore{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create locks every product and creates one AWAITING_PAYMENT order per
// product. If any product fails, everything this call did is undone in
// reverse: created orders are cancelled and locked products are released.
func (s *Service) Create(ctx context.Context, buyerID string, productIDs []string) (res market.Result) {
	defer market.Recover(s.logger, "orders.Create", &res)

	if buyerID == "" || len(productIDs) == 0 {
		return market.Fail(market.CodeInvalidParameter, "buyer and at least one product are required")
	}
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if id == "" {
			return market.Fail(market.CodeInvalidParameter, "product id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return market.Fail(market.CodeInvalidParameter, fmt.Sprintf("product %s listed twice", id))
		}
		seen[id] = struct{}{}
	}

	journal := saga.Begin(ctx, s.sagas, s.logger, s.newID(), saga.KindCreateOrder, buyerID)
	var comp saga.Compensator
	created := make([]market.Order, 0, len(productIDs))

	abort := func(result market.Result) market.Result {
		s.compensate(ctx, journal, &comp)
		s.metrics.RecordSaga(string(saga.KindCreateOrder), string(saga.StatusCompensated))
		return result
	}

	for _, productID := range productIDs {
		productID := productID

		product, err := s.products.FindProduct(ctx, productID)
		if errors.Is(err, market.ErrNotFound) {
			journal.Step(ctx, "validate:"+productID, "failed", "not found")
			return abort(market.Fail(market.CodeProductNotFound, fmt.Sprintf("product %s does not exist", productID)))
		}
		if err != nil {
			s.logger.Error("load product failed", zap.String("product_id", productID), zap.Error(err))
			return abort(market.SystemError())
		}
		if product.Status != market.ProductOnSale {
			journal.Step(ctx, "validate:"+productID, "failed", string(product.Status))
			return abort(market.Fail(market.CodeProductNotAvailable, fmt.Sprintf("product %s is not on sale", productID)))
		}
		if product.SellerID == buyerID {
			journal.Step(ctx, "validate:"+productID, "failed", "own product")
			return abort(market.Fail(market.CodeCantBuyOwnProduct, "you cannot buy your own product"))
		}

		locked, err := s.lock.Lock(ctx, productID)
		if err != nil {
			s.logger.Error("lock product failed", zap.String("product_id", productID), zap.Error(err))
			return abort(market.SystemError())
		}
		if !locked {
			s.metrics.RecordConflict("product")
			journal.Step(ctx, "lock:"+productID, "failed", "status changed")
			return abort(market.Fail(market.CodeUpdateProductStatusFailed, fmt.Sprintf("product %s was taken by another buyer", productID)))
		}
		comp.Push("unlock:"+productID, func(ctx context.Context) error {
			ok, err := s.lock.Unlock(ctx, productID)
			if err != nil {
				return err
			}
			if !ok {
				return errUnlockMismatch
			}
			return nil
		})
		journal.Step(ctx, "lock:"+productID, "succeeded", "")

		images, err := s.products.FindImages(ctx, productID)
		if err != nil {
			s.logger.Warn("load product images failed", zap.String("product_id", productID), zap.Error(err))
			images = product.ImageURLs
		}

		now := s.now().UTC()
		order := market.Order{
			ID:              s.newID(),
			BuyerID:         buyerID,
			SellerID:        product.SellerID,
			ProductID:       productID,
			PriceAtPurchase: product.Price,
			Title:           product.Title,
			Description:     product.Description,
			ImageURLs:       images,
			Status:          market.OrderAwaitingPayment,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.orders.InsertOrder(ctx, order); err != nil {
			s.logger.Error("insert order failed", zap.String("product_id", productID), zap.Error(err))
			journal.Step(ctx, "insert:"+productID, "failed", err.Error())
			return abort(market.Fail(market.CodeOrderCreateFailed, "could not create order"))
		}
		orderID := order.ID
		comp.Push("cancel:"+orderID, func(ctx context.Context) error {
			_, err := s.orders.TryTransitionWithNote(ctx, orderID, market.OrderAwaitingPayment, market.OrderCancelled, "order creation rolled back")
			return err
		})
		journal.Step(ctx, "insert:"+orderID, "succeeded", productID)
		created = append(created, order)

		if err := s.cart.Remove(ctx, buyerID, productID); err != nil {
			s.logger.Warn("remove from cart failed", zap.String("buyer_id", buyerID), zap.String("product_id", productID), zap.Error(err))
		}
	}

	comp.Discard()
	journal.Finish(ctx, saga.StatusSucceeded)
	s.metrics.RecordSaga(string(saga.KindCreateOrder), string(saga.StatusSucceeded))

	ids := make([]string, 0, len(created))
	for _, order := range created {
		ids = append(ids, order.ID)
		notify.OrderChanged(ctx, s.notifier, s.logger, order, notify.EventOrderCreated, "order created, awaiting payment")
	}
	return market.Succeed("orders created", map[string]any{"orderIds": ids})
}

func (s *Service) compensate(ctx context.Context, journal *saga.Journal, comp *saga.Compensator) {
	n := comp.Len()
	errs := comp.Unwind(context.WithoutCancel(ctx))
	s.metrics.AddCompensations(n)
	for _, err := range errs {
		s.logger.Error("compensation failed", zap.String("saga_id", journal.ID()), zap.Error(err))
		journal.Step(ctx, "compensate", "failed", err.Error())
	}
	if len(errs) > 0 {
		journal.Finish(ctx, saga.StatusFailed)
		return
	}
	journal.Finish(ctx, saga.StatusCompensated)
}

// AdvanceAfterPayment moves each paid order to AWAITING_SHIPPING. Orders
// that no longer await payment are counted as failures and left untouched.
func (s *Service) AdvanceAfterPayment(ctx context.Context, orderIDs []string, paymentID string) (res market.Result) {
	defer market.Recover(s.logger, "orders.AdvanceAfterPayment", &res)

	var succeeded, failed []string
	for _, orderID := range orderIDs {
		ok, err := s.orders.TryTransition(ctx, orderID, market.OrderAwaitingPayment, market.OrderAwaitingShipping)
		if err != nil {
			s.logger.Error("advance order failed", zap.String("order_id", orderID), zap.String("payment_id", paymentID), zap.Error(err))
			failed = append(failed, orderID)
			continue
		}
		if !ok {
			s.metrics.RecordConflict("order")
			s.logger.Warn("order no longer awaiting payment", zap.String("order_id", orderID), zap.String("payment_id", paymentID))
			failed = append(failed, orderID)
			continue
		}
		succeeded = append(succeeded, orderID)
		s.announce(ctx, orderID, notify.EventOrderPaid, "payment received, awaiting shipment")
	}

	data := batchData(succeeded, failed)
	data["paymentId"] = paymentID
	if len(failed) > 0 {
		return market.Fail(market.CodeOrderAdvancePartial,
			fmt.Sprintf("%d of %d orders advanced", len(succeeded), len(orderIDs))).WithData(data)
	}
	return market.Succeed("orders advanced", data)
}

// CancelAfterPaymentFailure cancels each order still awaiting payment and
// puts its product back on sale. A failed unlock is logged but the
// cancellation still counts.
func (s *Service) CancelAfterPaymentFailure(ctx context.Context, orderIDs []string, reason string) (res market.Result) {
	defer market.Recover(s.logger, "orders.CancelAfterPaymentFailure", &res)

	var succeeded, failed []string
	for _, orderID := range orderIDs {
		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			if !errors.Is(err, market.ErrNotFound) {
				s.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
			}
			failed = append(failed, orderID)
			continue
		}
		ok, err := s.orders.TryTransitionWithNote(ctx, orderID, market.OrderAwaitingPayment, market.OrderCancelled, reason)
		if err != nil {
			s.logger.Error("cancel order failed", zap.String("order_id", orderID), zap.Error(err))
			failed = append(failed, orderID)
			continue
		}
		if !ok {
			s.metrics.RecordConflict("order")
			failed = append(failed, orderID)
			continue
		}
		succeeded = append(succeeded, orderID)

		unlocked, err := s.lock.Unlock(ctx, order.ProductID)
		switch {
		case err != nil:
			s.logger.Error("unlock product failed", zap.String("order_id", orderID), zap.String("product_id", order.ProductID), zap.Error(err))
		case !unlocked:
			s.metrics.RecordConflict("product")
			s.logger.Warn("product was not LOCKED on cancellation", zap.String("order_id", orderID), zap.String("product_id", order.ProductID))
		}

		order.Status = market.OrderCancelled
		notify.OrderChanged(ctx, s.notifier, s.logger, order, notify.EventOrderCancelled, reason)
	}

	data := batchData(succeeded, failed)
	if len(failed) > 0 {
		return market.Fail(market.CodeOrderCancelPartial,
			fmt.Sprintf("%d of %d orders cancelled", len(succeeded), len(orderIDs))).WithData(data)
	}
	return market.Succeed("orders cancelled", data)
}

// Ship marks a paid order as shipped. Only the seller may ship.
func (s *Service) Ship(ctx context.Context, orderID, sellerID string) (res market.Result) {
	defer market.Recover(s.logger, "orders.Ship", &res)

	order, fail, ok := s.loadOwned(ctx, orderID, func(o market.Order) bool { return o.SellerID == sellerID })
	if !ok {
		return fail
	}
	return s.step(ctx, order, market.OrderAwaitingShipping, market.OrderShipped, notify.EventOrderShipped, "order shipped")
}

// ConfirmReceipt completes a shipped order and marks its product SOLD.
// Only the buyer may confirm.
func (s *Service) ConfirmReceipt(ctx context.Context, orderID, buyerID string) (res market.Result) {
	defer market.Recover(s.logger, "orders.ConfirmReceipt", &res)

	order, fail, ok := s.loadOwned(ctx, orderID, func(o market.Order) bool { return o.BuyerID == buyerID })
	if !ok {
		return fail
	}
	res = s.step(ctx, order, market.OrderShipped, market.OrderCompleted, notify.EventOrderCompleted, "order completed")
	if !res.OK {
		return res
	}

	sold, err := s.lock.MarkSold(ctx, order.ProductID)
	switch {
	case err != nil:
		s.logger.Error("mark product sold failed", zap.String("order_id", orderID), zap.String("product_id", order.ProductID), zap.Error(err))
	case !sold:
		s.metrics.RecordConflict("product")
		s.logger.Warn("product was not LOCKED on receipt", zap.String("order_id", orderID), zap.String("product_id", order.ProductID))
	}
	return res
}

// Get returns an order to its buyer or seller. Anyone else gets ORDER_NOT_FOUND.
func (s *Service) Get(ctx context.Context, orderID, userID string) (res market.Result) {
	defer market.Recover(s.logger, "orders.Get", &res)

	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, market.ErrNotFound) {
		return market.Fail(market.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		s.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
		return market.SystemError()
	}
	if order.BuyerID != userID && order.SellerID != userID {
		return market.Fail(market.CodeOrderNotFound, "order not found")
	}
	return market.Succeed("ok", market.OrderData(order))
}

// Role selects which side of the order a listing is for.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// List returns the user's orders as buyer or seller, newest first.
func (s *Service) List(ctx context.Context, userID string, role Role) (res market.Result) {
	defer market.Recover(s.logger, "orders.List", &res)

	if userID == "" {
		return market.Fail(market.CodeInvalidParameter, "user is required")
	}
	var (
		list []market.Order
		err  error
	)
	switch role {
	case RoleBuyer, "":
		list, err = s.orders.ListByBuyer(ctx, userID)
	case RoleSeller:
		list, err = s.orders.ListBySeller(ctx, userID)
	default:
		return market.Fail(market.CodeInvalidParameter, "role must be buyer or seller")
	}
	if err != nil {
		s.logger.Error("list orders failed", zap.String("user_id", userID), zap.Error(err))
		return market.SystemError()
	}
	items := make([]any, 0, len(list))
	for _, order := range list {
		items = append(items, market.OrderData(order))
	}
	return market.Succeed("ok", map[string]any{"orders": items, "total": len(items)})
}

func (s *Service) loadOwned(ctx context.Context, orderID string, owns func(market.Order) bool) (market.Order, market.Result, bool) {
	if orderID == "" {
		return market.Order{}, market.Fail(market.CodeInvalidParameter, "order id is required"), false
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, market.ErrNotFound) {
		return market.Order{}, market.Fail(market.CodeOrderNotFound, "order not found"), false
	}
	if err != nil {
		s.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
		return market.Order{}, market.SystemError(), false
	}
	if !owns(order) {
		return market.Order{}, market.Fail(market.CodeOrderPermissionDenied, "not allowed to operate on this order"), false
	}
	return order, market.Result{}, true
}

func (s *Service) step(ctx context.Context, order market.Order, from, to market.OrderStatus, event, message string) market.Result {
	if order.Status != from {
		return market.Fail(market.CodeOrderStatusInvalid, fmt.Sprintf("order is %s, expected %s", order.Status, from))
	}
	ok, err := s.orders.TryTransition(ctx, order.ID, from, to)
	if err != nil {
		s.logger.Error("order transition failed", zap.String("order_id", order.ID), zap.String("to", string(to)), zap.Error(err))
		return market.SystemError()
	}
	if !ok {
		s.metrics.RecordConflict("order")
		return market.Fail(market.CodeOrderStatusConflict, "order status no longer matches, please refresh")
	}
	order.Status = to
	order.UpdatedAt = s.now().UTC()
	notify.OrderChanged(ctx, s.notifier, s.logger, order, event, message)
	return market.Succeed(message, map[string]any{"orderId": order.ID, "status": string(to)})
}

func (s *Service) announce(ctx context.Context, orderID, event, message string) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("load order for notification failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	notify.OrderChanged(ctx, s.notifier, s.logger, order, event, message)
}

func batchData(succeeded, failed []string) map[string]any {
	return map[string]any{
		"successCount":   len(succeeded),
		"failCount":      len(failed),
		"succeededIds":   nonNil(succeeded),
		"failedOrderIds": nonNil(failed),
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
