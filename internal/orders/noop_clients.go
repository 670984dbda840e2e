package orders

import (
	"context"

	"bazaar/internal/market"
)

// NoopCart is a CartStore that ignores removals.
type NoopCart struct{}

func (NoopCart) Remove(context.Context, string, string) error {
	return nil
}

// NoopNotifier is a NotificationSink that drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, market.Event) error {
	return nil
}
