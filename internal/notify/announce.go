package notify

import (
	"context"
	"time"

	"bazaar/internal/market"

	"go.uber.org/zap"
)

// Event types published on order status changes.
const (
	EventOrderCreated    = "ORDER_CREATED"
	EventOrderPaid       = "ORDER_PAID"
	EventOrderCancelled  = "ORDER_CANCELLED"
	EventOrderShipped    = "ORDER_SHIPPED"
	EventOrderCompleted  = "ORDER_COMPLETED"
	EventReturnRequested = "RETURN_REQUESTED"
	EventReturnApproved  = "RETURN_APPROVED"
	EventReturnRejected  = "RETURN_REJECTED"
)

// notifyTimeout bounds how long a state change waits on its notifications.
var notifyTimeout = 2 * time.Second

// OrderChanged tells both parties of an order about its new status.
// Delivery failures are logged and never returned. The state change has
// already happened, so delivery outlives a cancelled caller but not
// notifyTimeout.
func OrderChanged(ctx context.Context, sink market.NotificationSink, logger *zap.Logger, order market.Order, eventType, message string) {
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	event := market.Event{
		Type:       eventType,
		OrderID:    order.ID,
		Status:     order.Status,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
	for _, recipient := range []string{order.BuyerID, order.SellerID} {
		if recipient == "" {
			continue
		}
		if err := sink.Notify(ctx, recipient, event); err != nil && logger != nil {
			logger.Warn("notification failed",
				zap.String("recipient", recipient),
				zap.String("order_id", order.ID),
				zap.String("event", eventType),
				zap.Error(err))
		}
	}
}
