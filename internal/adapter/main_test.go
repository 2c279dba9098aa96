package adapter

import (
	"context"
	"os"
	"testing"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/echoagent"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

// echoAgentEnv makes the test binary act as the echo agent, so process
// tests can spawn a real agent through the launcher.
const echoAgentEnv = "ACPADAPTER_TEST_ECHO_AGENT"

func TestMain(m *testing.M) {
	switch os.Getenv(echoAgentEnv) {
	case "":
		os.Exit(m.Run())
	case "auth":
		serveEcho(echoagent.Options{
			RequireAuth: true,
			AuthMethods: []protocol.AuthMethod{{ID: "token", Name: "Token"}},
		})
	default:
		serveEcho(echoagent.Options{})
	}
}

func serveEcho(opts echoagent.Options) {
	if err := echoagent.Serve(context.Background(), os.Stdin, os.Stdout, opts, logger.NewNop()); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
