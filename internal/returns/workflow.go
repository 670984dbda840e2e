package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bazaar/internal/market"
	"bazaar/internal/notify"
	"bazaar/internal/observability"
	"bazaar/internal/orders/saga"
	"bazaar/internal/refunds"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultWindow is how long after completion a buyer may ask for a return.
const DefaultWindow = 7 * 24 * time.Hour

// Refunder pays the buyer back for an order.
type Refunder interface {
	ProcessRefund(ctx context.Context, order market.Order, reason string) (market.RefundTransaction, error)
}

// Decision is the seller's answer to a return request.
type Decision struct {
	Approve      bool
	RejectReason string
}

// Deps are the collaborators of the return Workflow.
type Deps struct {
	Orders   market.OrderStore
	Reviews  market.ReviewStore
	Refunder Refunder
	// Refunds lets an approval that already paid the buyer finish the
	// order transition instead of refunding twice.
	Refunds  market.RefundStore
	Notifier market.NotificationSink
	Sagas    saga.Store
	Metrics  *observability.Metrics
	Logger   *zap.Logger
	Window   time.Duration
	NewID    func() string
	Now      func() time.Time
}

// Workflow handles return requests on completed orders.
type Workflow struct {
	orders   market.OrderStore
	reviews  market.ReviewStore
	refunder Refunder
	refunds  market.RefundStore
	notifier market.NotificationSink
	sagas    saga.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	window   time.Duration
	newID    func() string
	now      func() time.Time
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(deps Deps) *Workflow {
	w := &Workflow{
		orders:   deps.Orders,
		reviews:  deps.Reviews,
		refunder: deps.Refunder,
		refunds:  deps.Refunds,
		notifier: deps.Notifier,
		sagas:    deps.Sagas,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		window:   deps.Window,
		newID:    deps.NewID,
		now:      deps.Now,
	}
	if w.sagas == nil {
		w.sagas = saga.NoopStore{}
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.window <= 0 {
		w.window = DefaultWindow
	}
	if w.newID == nil {
		w.newID = uuid.NewString
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// ApplyForReturn moves a COMPLETED order to RETURN_REQUESTED when the buyer
// asks within the return window and has not reviewed the order.
func (w *Workflow) ApplyForReturn(ctx context.Context, orderID, reason, buyerID string) (res market.Result) {
	defer market.Recover(w.logger, "returns.ApplyForReturn", &res)

	reason = strings.TrimSpace(reason)
	if orderID == "" || reason == "" {
		return market.Fail(market.CodeInvalidParameter, "order id and return reason are required")
	}
	order, fail, ok := w.load(ctx, orderID)
	if !ok {
		return fail
	}
	if order.BuyerID != buyerID {
		return market.Fail(market.CodeOrderPermissionDenied, "only the buyer can request a return")
	}
	switch order.Status {
	case market.OrderCompleted:
	case market.OrderReturnRequested, market.OrderReturned:
		return market.Fail(market.CodeReturnAlreadyRequested, "a return was already requested for this order")
	default:
		return market.Fail(market.CodeOrderStatusInvalid, fmt.Sprintf("order is %s, only completed orders can be returned", order.Status))
	}
	if w.now().Sub(order.UpdatedAt) > w.window {
		return market.Fail(market.CodeReturnWindowExpired, "the return window has closed")
	}
	reviewed, err := w.reviews.IsReviewed(ctx, orderID)
	if err != nil {
		w.logger.Error("review lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return market.SystemError()
	}
	if reviewed {
		return market.Fail(market.CodeOrderAlreadyReviewed, "reviewed orders cannot be returned")
	}

	moved, err := w.orders.TryTransitionWithNote(ctx, orderID, market.OrderCompleted, market.OrderReturnRequested, reason)
	if err != nil {
		w.logger.Error("request return failed", zap.String("order_id", orderID), zap.Error(err))
		return market.SystemError()
	}
	if !moved {
		w.metrics.RecordConflict("order")
		return market.Fail(market.CodeOrderStatusConflict, "order status no longer matches, please refresh")
	}

	order.Status = market.OrderReturnRequested
	order.Note = reason
	notify.OrderChanged(ctx, w.notifier, w.logger, order, notify.EventReturnRequested, reason)
	return market.Succeed("return requested", map[string]any{"orderId": orderID, "status": string(order.Status)})
}

// ProcessReturnRequest applies the seller's decision. Approval refunds the
// buyer and marks the order RETURNED; a failed refund leaves the request
// open. Rejection needs a reason and puts the order back to COMPLETED.
func (w *Workflow) ProcessReturnRequest(ctx context.Context, orderID string, decision Decision, sellerID string) (res market.Result) {
	defer market.Recover(w.logger, "returns.ProcessReturnRequest", &res)

	if orderID == "" {
		return market.Fail(market.CodeInvalidParameter, "order id is required")
	}
	rejectReason := strings.TrimSpace(decision.RejectReason)
	if !decision.Approve && rejectReason == "" {
		return market.Fail(market.CodeRejectReasonRequired, "a reason is required to reject a return")
	}
	order, fail, ok := w.load(ctx, orderID)
	if !ok {
		return fail
	}
	if order.SellerID != sellerID {
		return market.Fail(market.CodeOrderPermissionDenied, "only the seller can decide on a return")
	}
	if order.Status != market.OrderReturnRequested {
		return market.Fail(market.CodeOrderStatusInvalid, fmt.Sprintf("order is %s, no return is pending", order.Status))
	}

	if !decision.Approve {
		return w.reject(ctx, order, rejectReason)
	}
	return w.approve(ctx, order)
}

func (w *Workflow) approve(ctx context.Context, order market.Order) market.Result {
	journal := saga.Begin(ctx, w.sagas, w.logger, w.newID(), saga.KindReturnRefund, order.SellerID)
	finish := func(status saga.Status) {
		journal.Finish(ctx, status)
		w.metrics.RecordSaga(string(saga.KindReturnRefund), string(status))
	}

	refund, paid, err := w.settledRefund(ctx, order.ID)
	if err != nil {
		w.logger.Error("refund lookup failed", zap.String("order_id", order.ID), zap.Error(err))
		finish(saga.StatusFailed)
		return market.SystemError()
	}
	if !paid {
		refund, err = w.refunder.ProcessRefund(ctx, order, order.Note)
	}
	switch {
	case paid:
		journal.Step(ctx, "refund:"+refund.ID, string(refund.Status), "already refunded")
	case errors.Is(err, refunds.ErrRefundFailed):
		journal.Step(ctx, "refund:"+refund.ID, string(refund.Status), "")
		finish(saga.StatusFailed)
		return market.Fail(market.CodeSimulateRefundFailed, "refund failed, the return request stays open").
			WithData(market.RefundData(refund))
	case errors.Is(err, market.ErrDuplicate):
		// A concurrent approval won the insert; finish on its refund if it succeeded.
		w.metrics.RecordConflict("refund")
		refund, paid, err = w.settledRefund(ctx, order.ID)
		if err != nil || !paid {
			journal.Step(ctx, "refund", "failed", "already refunded")
			finish(saga.StatusFailed)
			return market.Fail(market.CodeOrderStatusConflict, "this order was already refunded")
		}
		journal.Step(ctx, "refund:"+refund.ID, string(refund.Status), "already refunded")
	case err != nil:
		w.logger.Error("refund failed", zap.String("order_id", order.ID), zap.Error(err))
		journal.Step(ctx, "refund", "failed", err.Error())
		finish(saga.StatusFailed)
		return market.SystemError()
	default:
		journal.Step(ctx, "refund:"+refund.ID, string(refund.Status), "")
	}

	// The buyer has been paid; the order must follow even if the caller has gone.
	moved, err := w.orders.TryTransition(context.WithoutCancel(ctx), order.ID, market.OrderReturnRequested, market.OrderReturned)
	if err != nil {
		w.logger.Error("refund issued but order not marked returned",
			zap.String("order_id", order.ID), zap.String("refund_id", refund.ID), zap.Error(err))
		journal.Step(ctx, "order:"+order.ID, "failed", err.Error())
		finish(saga.StatusFailed)
		return market.SystemError()
	}
	if !moved {
		w.metrics.RecordConflict("order")
		w.logger.Error("refund issued but order status changed",
			zap.String("order_id", order.ID), zap.String("refund_id", refund.ID))
		journal.Step(ctx, "order:"+order.ID, "failed", "status changed after refund")
		finish(saga.StatusFailed)
		return market.Fail(market.CodeOrderStatusConflict, "refund issued but the order status changed").
			WithData(market.RefundData(refund))
	}
	journal.Step(ctx, "order:"+order.ID, string(market.OrderReturned), "")
	finish(saga.StatusSucceeded)

	order.Status = market.OrderReturned
	notify.OrderChanged(ctx, w.notifier, w.logger, order, notify.EventReturnApproved, "return approved, refund issued")
	return market.Succeed("return approved", market.RefundData(refund))
}

// settledRefund returns the order's SUCCESS refund, if one was already recorded.
func (w *Workflow) settledRefund(ctx context.Context, orderID string) (market.RefundTransaction, bool, error) {
	if w.refunds == nil {
		return market.RefundTransaction{}, false, nil
	}
	existing, err := w.refunds.ListByOrder(ctx, orderID)
	if err != nil {
		return market.RefundTransaction{}, false, err
	}
	for _, r := range existing {
		if r.Status == market.RefundSuccess {
			return r, true, nil
		}
	}
	return market.RefundTransaction{}, false, nil
}

func (w *Workflow) reject(ctx context.Context, order market.Order, reason string) market.Result {
	moved, err := w.orders.TryTransitionWithNote(ctx, order.ID, market.OrderReturnRequested, market.OrderCompleted, reason)
	if err != nil {
		w.logger.Error("reject return failed", zap.String("order_id", order.ID), zap.Error(err))
		return market.SystemError()
	}
	if !moved {
		w.metrics.RecordConflict("order")
		return market.Fail(market.CodeOrderStatusConflict, "order status no longer matches, please refresh")
	}
	order.Status = market.OrderCompleted
	order.Note = reason
	notify.OrderChanged(ctx, w.notifier, w.logger, order, notify.EventReturnRejected, reason)
	return market.Succeed("return rejected", map[string]any{"orderId": order.ID, "status": string(order.Status)})
}

func (w *Workflow) load(ctx context.Context, orderID string) (market.Order, market.Result, bool) {
	order, err := w.orders.GetOrder(ctx, orderID)
	if errors.Is(err, market.ErrNotFound) {
		return market.Order{}, market.Fail(market.CodeOrderNotFound, "order not found"), false
	}
	if err != nil {
		w.logger.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
		return market.Order{}, market.SystemError(), false
	}
	return order, market.Result{}, true
}
