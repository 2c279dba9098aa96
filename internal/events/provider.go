package events

import (
	"fmt"
	"strings"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events/bus"
)

// Provide builds the configured event bus: NATS when a URL is set, otherwise
// the in-memory bus. The returned cleanup closes it.
func Provide(cfg config.NATSConfig, log *logger.Logger) (bus.EventBus, func(), error) {
	if strings.TrimSpace(cfg.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return natsBus, natsBus.Close, nil
	}
	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close, nil
}
