package websocket

import (
	"context"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events/bus"
)

// Provide creates the gateway, starts its hub and forwards bus events to
// it. Both stop when ctx is done.
func Provide(ctx context.Context, eventBus bus.EventBus, log *logger.Logger) (*Gateway, error) {
	gateway := NewGateway(log)
	go gateway.Hub.Run(ctx)
	RegisterEventNotifications(ctx, eventBus, gateway.Hub, log)
	return gateway, nil
}
