package service

import (
	"context"
	"time"
)

// EventPublisher emits domain events. Publishing failures are logged by the
// caller and never fail the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func clockOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
