// Package server hosts the adapter's HTTP API and WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/common/httpmw"
	"github.com/kandev/acpadapter/internal/common/logger"
)

const serverName = "acpadapter"

// Server wraps a gin engine and its http.Server.
type Server struct {
	Router *gin.Engine
	http   *http.Server
	logger *logger.Logger
}

// New builds the engine with recovery, CORS, tracing and request logging
// installed and a /health route. Routes are added through Router before
// Start.
func New(cfg config.ServerConfig, debug bool, log *logger.Logger) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.OtelTracing(serverName))
	router.Use(httpmw.RequestLogger(log, serverName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serverName})
	})

	return &Server{
		Router: router,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
		},
		logger: log.WithFields(zap.String("component", "server")),
	}
}

// Start listens on the configured address and serves in the background.
// The returned channel receives the serve error, if any, and is closed when
// serving stops.
func (s *Server) Start() (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), errCh, nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
