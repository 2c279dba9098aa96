package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Launcher.Mode)
	assert.False(t, cfg.Permissions.AutoApprove)
	assert.True(t, cfg.Terminals.Enabled)
	assert.Equal(t, 1024*1024, cfg.Terminals.DefaultOutputByteLimit)
	assert.Equal(t, 30*time.Second, cfg.Terminals.ReleaseGrace())
	assert.Equal(t, "none", cfg.Database.Driver)
	assert.Equal(t, "127.0.0.1:7420", cfg.Server.Addr())
}

func TestLoadWithPath_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
agent:
  command: echo-agent
  args: ["--fast"]
  workDir: /tmp/proj
  mcpServers:
    - name: files
      command: mcp-files
      args: ["--root", "/tmp/proj"]
      env:
        - name: LOG_LEVEL
          value: debug
    - name: search
      type: http
      url: http://127.0.0.1:9000/mcp
      headers:
        - name: Authorization
          value: Bearer abc
launcher:
  mode: direct
permissions:
  autoApprove: true
terminals:
  releaseGraceSeconds: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acpadapter.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, "echo-agent", cfg.Agent.Command)
	assert.Equal(t, []string{"--fast"}, cfg.Agent.Args)
	assert.Equal(t, "/tmp/proj", cfg.Agent.WorkDir)
	require.Len(t, cfg.Agent.MCPServers, 2)
	assert.Equal(t, "mcp-files", cfg.Agent.MCPServers[0].Command)
	assert.Equal(t, []NameValue{{Name: "LOG_LEVEL", Value: "debug"}}, cfg.Agent.MCPServers[0].Env)
	assert.Equal(t, "http", cfg.Agent.MCPServers[1].Type)
	assert.Equal(t, []NameValue{{Name: "Authorization", Value: "Bearer abc"}}, cfg.Agent.MCPServers[1].Headers)
	assert.Equal(t, "direct", cfg.Launcher.Mode)
	assert.True(t, cfg.Permissions.AutoApprove)
	assert.Equal(t, 5*time.Second, cfg.Terminals.ReleaseGrace())
}

func TestLoadWithPath_EnvOverrides(t *testing.T) {
	t.Setenv("ACPADAPTER_AGENT_COMMAND", "my-agent")
	t.Setenv("ACPADAPTER_AUTO_APPROVE", "true")
	t.Setenv("ACPADAPTER_LAUNCHER_MODE", "login-shell")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.True(t, cfg.Permissions.AutoApprove)
	assert.Equal(t, "login-shell", cfg.Launcher.Mode)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Agent: AgentConfig{MCPServers: []MCPServerConfig{
			{Command: "x"},
			{Name: "web", Type: "sse"},
			{Name: "odd", Type: "carrier-pigeon"},
		}},
		Launcher:  LauncherConfig{Mode: "teleport"},
		Terminals: TerminalsConfig{DefaultOutputByteLimit: -1},
		Server:    ServerConfig{Port: 0},
		Database:  DatabaseConfig{Driver: "postgres"},
		Logging:   LoggingConfig{Level: "loud", Format: "xml"},
	}

	err := validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "agent.mcpServers[0]: name is required")
	assert.Contains(t, msg, "agent.mcpServers[1]: url is required for sse servers")
	assert.Contains(t, msg, "agent.mcpServers[2]: type must be one of")
	assert.Contains(t, msg, "launcher.mode")
	assert.Contains(t, msg, "terminals.defaultOutputByteLimit")
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "database.dsn")
	assert.Contains(t, msg, "logging.level")
	assert.Contains(t, msg, "logging.format")
}
