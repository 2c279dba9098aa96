package websocket

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	ws "github.com/kandev/acpadapter/pkg/websocket"
)

// Path is where operators connect.
const Path = "/ws"

// Gateway is the operator-facing side of the adapter. Requests arriving on
// a connection are routed through Dispatcher to the adapter.* handlers;
// adapter events reach every connection through Hub.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
	logger     *logger.Logger
}

// NewGateway wires a hub and dispatcher with only health.check registered.
// The hub is not running until Provide (or the caller) starts Hub.Run.
func NewGateway(log *logger.Logger) *Gateway {
	d := ws.NewDispatcher()
	hub := NewHub(d, log)
	registerHealth(d, hub)

	return &Gateway{
		Hub:        hub,
		Dispatcher: d,
		Handler:    NewHandler(hub, log),
		logger:     log.WithFields(zap.String("component", "ws_gateway")),
	}
}

// SetupRoutes mounts the operator endpoint on router.
func (g *Gateway) SetupRoutes(router gin.IRouter) {
	router.GET(Path, g.Handler.HandleConnection)
	g.logger.Debug("operator endpoint mounted", zap.String("path", Path))
}
