//go:build !windows

package adapter

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/echoagent"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/terminal"
)

func echoProcess(t *testing.T, mode string) launcher.AgentProcessConfig {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return launcher.AgentProcessConfig{
		ID:      "echo",
		Name:    "Echo",
		Command: exe,
		Env:     map[string]string{echoAgentEnv: mode},
		WorkDir: t.TempDir(),
	}
}

func TestProcess_EchoAgentRoundTrip(t *testing.T) {
	a := newAdapter(Options{})
	res, err := a.Initialize(testContext(t), echoProcess(t, "1"))
	require.NoError(t, err)
	defer a.Disconnect()
	assert.Equal(t, "echo-agent", res.AgentName)
	assert.NotZero(t, a.Status().PID)

	_, err = a.Prompt(testContext(t), "over a pipe")
	require.NoError(t, err)
	assert.Equal(t, "Echo: over a pipe", lastAssistant(a))

	a.Disconnect()
	assert.False(t, a.Status().Connected)
}

func TestProcess_AuthRetry(t *testing.T) {
	a := newAdapter(Options{})
	_, err := a.Initialize(testContext(t), echoProcess(t, "auth"))
	require.NoError(t, err)
	defer a.Disconnect()

	_, err = a.Prompt(testContext(t), "after auth")
	require.NoError(t, err)
	assert.Equal(t, "Echo: after auth", lastAssistant(a))
}

func TestProcess_ReinitializeReplacesProcess(t *testing.T) {
	a := newAdapter(Options{})
	_, err := a.Initialize(testContext(t), echoProcess(t, "1"))
	require.NoError(t, err)
	firstPID := a.Status().PID

	_, err = a.Initialize(testContext(t), echoProcess(t, "1"))
	require.NoError(t, err)
	defer a.Disconnect()
	assert.NotEqual(t, firstPID, a.Status().PID)
}

func TestProcess_Exit127IsCommandNotFound(t *testing.T) {
	a := newAdapter(Options{})
	_, err := a.Initialize(testContext(t), launcher.AgentProcessConfig{
		ID:      "missing",
		Command: "sh",
		Args:    []string{"-c", "exit 127"},
	})
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindConfiguration))
	assert.Equal(t, "Command Not Found", agenterr.ToDisplay(err).Title)
	assert.False(t, a.Status().Connected)
}

func TestProcess_AbnormalExitDuringHandshake(t *testing.T) {
	a := newAdapter(Options{})
	_, err := a.Initialize(testContext(t), launcher.AgentProcessConfig{
		ID:      "crashy",
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindConnection))
	display := agenterr.ToDisplay(err)
	assert.Equal(t, "Agent Exited", display.Title)
	assert.Contains(t, display.Message, "boom")
}

func TestProcess_MissingExecutable(t *testing.T) {
	a := newAdapter(Options{})
	_, err := a.Initialize(testContext(t), launcher.AgentProcessConfig{
		ID:      "missing",
		Command: "/definitely/not/here/agent",
	})
	require.Error(t, err)
	assert.Equal(t, "Command Not Found", agenterr.ToDisplay(err).Title)
}

func TestAdapter_TerminalRoundTrip(t *testing.T) {
	a := newAdapter(Options{TerminalsEnabled: true, Terminals: terminal.Options{ReleaseGrace: time.Hour}})
	attachEcho(t, a, echoagent.Options{})

	_, err := a.Prompt(testContext(t), "/terminal echo hi && echo there")
	require.NoError(t, err)
	assert.Equal(t, "terminal exited 0: hi\nthere\n", lastAssistant(a))

	terms := a.Terminals()
	require.Len(t, terms, 1)
	out, err := a.TerminalOutput(terms[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hi\nthere\n", out.Output)
}

func TestAdapter_TerminalsDisabled(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	_, err := a.Prompt(testContext(t), "/terminal echo hi")
	require.NoError(t, err)
	assert.Contains(t, lastAssistant(a), "method not found")
	assert.Empty(t, a.Terminals())
}

func TestAdapter_CancelKillsTerminals(t *testing.T) {
	a := newAdapter(Options{TerminalsEnabled: true})
	attachEcho(t, a, echoagent.Options{})

	done := promptAsync(a, "/terminal sleep 30")
	require.Eventually(t, func() bool { return len(a.Terminals()) == 1 }, testTimeout, 10*time.Millisecond)
	id := a.Terminals()[0].ID

	start := time.Now()
	require.NoError(t, a.Cancel(testContext(t)))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Empty(t, a.Terminals())
	_, err := a.TerminalOutput(id)
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "cancelled", r.res.StopReason)
}
