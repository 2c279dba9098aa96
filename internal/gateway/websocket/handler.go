package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	ws "github.com/kandev/acpadapter/pkg/websocket"
)

const serviceName = "acpadapter"

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     allowOrigin,
}

// allowOrigin admits non-browser clients (no Origin header), pages served
// from a loopback host and pages served by the adapter itself.
func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler turns GET /ws into an operator connection on the hub. Each
// connection gets its own client id so per-client logs can be correlated
// with dispatched adapter.* requests.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection blocks until the operator disconnects or the request
// context ends.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Warn("websocket upgrade rejected",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	h.logger.Debug("operator connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", c.Request.RemoteAddr))
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
	h.logger.Debug("operator disconnected", zap.String("client_id", client.ID))
}

// registerHealth answers health.check with the gateway's own view: it does
// not touch the agent, so it stays responsive while a prompt is running.
func registerHealth(d *ws.Dispatcher, hub *Hub) {
	d.RegisterFunc(ws.ActionHealthCheck, func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]any{
			"status":  "ok",
			"service": serviceName,
			"clients": hub.ClientCount(),
		})
	})
}
