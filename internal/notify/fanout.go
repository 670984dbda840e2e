package notify

import (
	"context"
	"errors"

	"bazaar/internal/market"
)

// Fanout delivers each event to every configured sink.
type Fanout struct {
	sinks []market.NotificationSink
}

// NewFanout constructs a sink that forwards to each non-nil sink in order.
func NewFanout(sinks ...market.NotificationSink) *Fanout {
	f := &Fanout{}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

// Notify forwards the event to each sink, collecting errors so every sink gets a chance to deliver.
func (f *Fanout) Notify(ctx context.Context, recipientID string, event market.Event) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Notify(ctx, recipientID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many sinks receive events.
func (f *Fanout) Len() int {
	return len(f.sinks)
}
