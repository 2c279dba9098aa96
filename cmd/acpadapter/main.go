// Package main runs the ACP adapter: it drives one coding agent over the
// Agent Client Protocol and exposes it through HTTP and WebSocket endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/adapter"
	"github.com/kandev/acpadapter/internal/adapter/handlers"
	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events"
	gateways "github.com/kandev/acpadapter/internal/gateway/websocket"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/router"
	"github.com/kandev/acpadapter/internal/server"
	"github.com/kandev/acpadapter/internal/terminal"
	"github.com/kandev/acpadapter/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := flag.String("config", "", "directory containing acpadapter.yaml")
	autoStart := flag.Bool("auto-start", false, "spawn the default agent at startup")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if err := run(cfg, *autoStart, log); err != nil {
		log.Error("acpadapter stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, autoStart bool, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Event bus (NATS when configured, in-memory otherwise)
	eventBus, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer closeBus()

	// 4. Transcript storage
	repo, recorder, closeTranscript, err := provideTranscript(cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeTranscript()

	// 5. Adapter
	var observers []router.Observer
	if recorder != nil {
		observers = append(observers, recorder)
	}
	l := launcher.New(launcherOptions(cfg.Launcher), log)
	a := adapter.New(adapter.Options{
		AgentID:          cfg.Agent.ID,
		AutoApprove:      cfg.Permissions.AutoApprove,
		TerminalsEnabled: cfg.Terminals.Enabled,
		Terminals: terminal.Options{
			OutputByteLimit: cfg.Terminals.DefaultOutputByteLimit,
			ReleaseGrace:    cfg.Terminals.ReleaseGrace(),
			UsePTY:          cfg.Terminals.UsePTY,
		},
		FSReadEnabled:  cfg.Filesystem.ReadEnabled,
		FSWriteEnabled: cfg.Filesystem.WriteEnabled,
		MCPServers:     mcpServers(cfg.Agent.MCPServers),
		Observers:      observers,
		Bus:            eventBus,
	}, l, log)
	defer a.Disconnect()
	resolve := newAgentResolver(cfg.Agent)

	// 6. HTTP + WebSocket
	gateway, err := gateways.Provide(ctx, eventBus, log)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server, cfg.Logging.Level == "debug", log)
	gateway.SetupRoutes(srv.Router)
	handlers.RegisterRoutes(srv.Router, gateway.Dispatcher, a, resolve, repo, log)

	addr, serveErr, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr(), err)
	}
	log.Info("API configured",
		zap.String("addr", addr.String()),
		zap.String("websocket", "/ws"),
		zap.String("http", "/api/v1"))

	if autoStart {
		startDefaultAgent(ctx, a, resolve, log)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// 7. Graceful shutdown
	log.Info("shutting down acpadapter...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	a.Disconnect()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to flush traces", zap.Error(err))
	}
	log.Info("acpadapter stopped")
	return nil
}

// startDefaultAgent spawns the default agent. A failure is logged and the
// server keeps running so the operator can fix the config and retry. The
// handshake waits for as long as the agent takes, or until shutdown.
func startDefaultAgent(ctx context.Context, a *adapter.Adapter, resolve handlers.AgentResolver, log *logger.Logger) {
	agent, err := resolve("")
	if err != nil {
		log.Error("failed to resolve default agent", zap.Error(err))
		return
	}
	res, err := a.Initialize(ctx, agent)
	if err != nil {
		log.Error("failed to start agent", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	log.Info("agent ready",
		zap.String("agent_id", agent.ID),
		zap.String("agent_name", res.AgentName),
		zap.Int("auth_methods", len(res.AuthMethods)))
}
