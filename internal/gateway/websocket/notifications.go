package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events"
	"github.com/kandev/acpadapter/internal/events/bus"
	ws "github.com/kandev/acpadapter/pkg/websocket"
)

// EventBroadcaster pushes every adapter event on the bus to all clients.
// The notification action is the event type; the payload is the event
// envelope, so clients see which agent produced it.
type EventBroadcaster struct {
	hub          *Hub
	subscription bus.Subscription
	logger       *logger.Logger
}

// RegisterEventNotifications subscribes hub to every adapter subject. The
// subscription ends with ctx.
func RegisterEventNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-event-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	subject := events.SubjectPrefix + ".>"
	sub, err := eventBus.Subscribe(subject, b.forward)
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return b
	}
	b.subscription = sub

	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return b
}

func (b *EventBroadcaster) forward(ctx context.Context, event *bus.Event) error {
	msg, err := ws.NewNotification(event.Type, event)
	if err != nil {
		b.logger.Error("failed to build websocket notification",
			zap.String("event_type", event.Type),
			zap.Error(err))
		return nil
	}
	b.hub.Broadcast(msg)
	return nil
}

// Close ends the subscription.
func (b *EventBroadcaster) Close() {
	if b.subscription != nil && b.subscription.IsValid() {
		_ = b.subscription.Unsubscribe()
	}
}
