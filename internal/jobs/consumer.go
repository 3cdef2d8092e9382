package jobs

import (
	"context"

	"github.com/emrgen/omnistore/internal/queue"
	"github.com/sirupsen/logrus"
)

var _ Job = (*EventConsumer)(nil)

// Deliver hands one event to its destination.
type Deliver func(ctx context.Context, event queue.Event) error

// EventConsumer drains a subscriber and delivers every event it receives.
type EventConsumer struct {
	subscriber queue.Subscriber
	deliver    Deliver
}

func NewEventConsumer(s queue.Subscriber, deliver Deliver) *EventConsumer {
	if deliver == nil {
		deliver = LogEvent
	}
	return &EventConsumer{
		subscriber: s,
		deliver:    deliver,
	}
}

func (c *EventConsumer) Name() string {
	return "event_consumer"
}

// Run blocks until ctx is done or the subscription ends. Delivery failures
// are logged and the event is dropped.
func (c *EventConsumer) Run(ctx context.Context) error {
	events, err := c.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}

	for event := range events {
		if err := c.deliver(ctx, event); err != nil {
			logrus.Errorf("failed to deliver %s %s/%s: %v", event.Type, event.Kind, event.ObjectID, err)
		}
	}

	return ctx.Err()
}

// LogEvent writes the event to the log.
func LogEvent(_ context.Context, event queue.Event) error {
	logrus.WithFields(logrus.Fields{
		"type":  event.Type,
		"kind":  event.Kind,
		"id":    event.ObjectID,
		"actor": event.ActorID,
	}).Info("event")
	return nil
}
