package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpadapter/internal/adapter"
	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/launcher"
)

const profilesYAML = `agents:
  - id: claude
    name: Claude Code
    command: claude-code-acp
    env:
      ANTHROPIC_LOG: debug
  - id: gemini
    name: Gemini
    command: gemini
    args: [--experimental-acp]
`

func writeProfiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profilesYAML), 0o600))
	return path
}

func TestAgentResolver_InlineAgent(t *testing.T) {
	resolve := newAgentResolver(config.AgentConfig{ID: "default", Command: "my-agent", Args: []string{"--acp"}})
	got, err := resolve("")
	require.NoError(t, err)
	assert.Equal(t, launcher.AgentProcessConfig{ID: "default", Command: "my-agent", Args: []string{"--acp"}}, got)
}

func TestAgentResolver_ConfiguredProfileWithOverrides(t *testing.T) {
	resolve := newAgentResolver(config.AgentConfig{
		ID:           "default",
		Profile:      "claude",
		ProfilesFile: writeProfiles(t),
		WorkDir:      "/work",
		Env:          map[string]string{"EXTRA": "1"},
	})
	got, err := resolve("")
	require.NoError(t, err)
	assert.Equal(t, "claude", got.ID)
	assert.Equal(t, "claude-code-acp", got.Command)
	assert.Equal(t, "/work", got.WorkDir)
	assert.Equal(t, map[string]string{"ANTHROPIC_LOG": "debug", "EXTRA": "1"}, got.Env)
}

func TestAgentResolver_OtherProfileIgnoresInlineFields(t *testing.T) {
	resolve := newAgentResolver(config.AgentConfig{
		Profile:      "claude",
		ProfilesFile: writeProfiles(t),
		WorkDir:      "/work",
	})
	got, err := resolve("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.Command)
	assert.Equal(t, []string{"--experimental-acp"}, got.Args)
	assert.Empty(t, got.WorkDir)
}

func TestAgentResolver_Errors(t *testing.T) {
	resolve := newAgentResolver(config.AgentConfig{})
	_, err := resolve("claude")
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))

	resolve = newAgentResolver(config.AgentConfig{ProfilesFile: writeProfiles(t)})
	_, err = resolve("nope")
	assert.True(t, agenterr.Is(err, agenterr.KindNotFound))

	resolve = newAgentResolver(config.AgentConfig{ProfilesFile: filepath.Join(t.TempDir(), "missing.yaml")})
	_, err = resolve("claude")
	assert.True(t, agenterr.Is(err, agenterr.KindConfiguration))
}

func TestLauncherOptions(t *testing.T) {
	opts := launcherOptions(config.LauncherConfig{Mode: "wsl", WSLDistribution: "Ubuntu"})
	assert.Equal(t, launcher.ModeWSL, opts.Mode)
	assert.Equal(t, "Ubuntu", opts.WSLDistribution)
}

func TestMCPServers(t *testing.T) {
	got := mcpServers([]config.MCPServerConfig{
		{Name: "files", Command: "mcp-files", Env: []config.NameValue{{Name: "LOG_LEVEL", Value: "debug"}}},
		{Name: "search", Type: "http", URL: "http://127.0.0.1:9000/mcp"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, []adapter.NameValue{{Name: "LOG_LEVEL", Value: "debug"}}, got[0].Env)
	assert.Equal(t, "http", got[1].Type)
	assert.Equal(t, "http://127.0.0.1:9000/mcp", got[1].URL)
	assert.Empty(t, mcpServers(nil))
}
