// Package main runs the echo ACP agent over stdin/stdout. It is a stand-in
// agent for trying the adapter without a real model behind it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/echoagent"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

func main() {
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	authMethods := flag.String("auth-methods", "", "comma-separated auth method ids to advertise")
	requireAuth := flag.Bool("require-auth", false, "fail prompts until authenticate succeeds")
	flag.Parse()

	// stdout carries the protocol; logs go to stderr.
	log, err := logger.NewLogger(logger.LoggingConfig{Level: *logLevel, Format: "json", OutputPath: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo-agent: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	opts := echoagent.Options{RequireAuth: *requireAuth}
	for _, id := range strings.Split(*authMethods, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.AuthMethods = append(opts.AuthMethods, protocol.AuthMethod{ID: id, Name: id})
		}
	}
	if opts.RequireAuth && len(opts.AuthMethods) == 0 {
		opts.AuthMethods = []protocol.AuthMethod{{ID: "echo-token", Name: "Echo token"}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := echoagent.Serve(ctx, os.Stdin, os.Stdout, opts, log); err != nil && ctx.Err() == nil {
		log.Error("echo agent stopped", zap.Error(err))
		os.Exit(1)
	}
}
