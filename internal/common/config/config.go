// Package config provides configuration management for the ACP adapter.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the adapter.
type Config struct {
	Agent       AgentConfig       `mapstructure:"agent"`
	Launcher    LauncherConfig    `mapstructure:"launcher"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Terminals   TerminalsConfig   `mapstructure:"terminals"`
	Filesystem  FilesystemConfig  `mapstructure:"filesystem"`
	Server      ServerConfig      `mapstructure:"server"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AgentConfig describes the agent process to spawn. When Profile is set the
// command, args and env are taken from the matching entry in ProfilesFile and
// any non-empty field here overrides it.
type AgentConfig struct {
	ID           string            `mapstructure:"id"`
	Name         string            `mapstructure:"name"`
	Command      string            `mapstructure:"command"`
	Args         []string          `mapstructure:"args"`
	Env          map[string]string `mapstructure:"env"`
	WorkDir      string            `mapstructure:"workDir"`
	Profile      string            `mapstructure:"profile"`
	ProfilesFile string            `mapstructure:"profilesFile"`
	// MCPServers are passed to the agent on every session/new.
	MCPServers []MCPServerConfig `mapstructure:"mcpServers"`
}

// MCPServerConfig is one MCP server offered to the agent. Type is stdio
// (the default), http or sse. Env and headers are name/value lists so
// their names keep their case.
type MCPServerConfig struct {
	Name    string      `mapstructure:"name"`
	Type    string      `mapstructure:"type"`
	Command string      `mapstructure:"command"`
	Args    []string    `mapstructure:"args"`
	Env     []NameValue `mapstructure:"env"`
	URL     string      `mapstructure:"url"`
	Headers []NameValue `mapstructure:"headers"`
}

// NameValue is a single environment variable or HTTP header.
type NameValue struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// LauncherConfig controls how the agent command line is wrapped before spawning.
type LauncherConfig struct {
	// Mode is one of: auto, login-shell, direct, wsl.
	Mode string `mapstructure:"mode"`
	// Shell overrides $SHELL for login-shell mode.
	Shell string `mapstructure:"shell"`
	// WSLDistribution selects the distribution for wsl mode (empty means default).
	WSLDistribution string `mapstructure:"wslDistribution"`
	// RuntimePath points at an auxiliary runtime executable (e.g. node); its
	// directory is prepended to PATH.
	RuntimePath string `mapstructure:"runtimePath"`
}

// PermissionsConfig holds permission arbitration settings.
type PermissionsConfig struct {
	AutoApprove bool `mapstructure:"autoApprove"`
}

// TerminalsConfig holds terminal supervisor settings.
type TerminalsConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	DefaultOutputByteLimit int  `mapstructure:"defaultOutputByteLimit"`
	ReleaseGraceSeconds    int  `mapstructure:"releaseGraceSeconds"`
	UsePTY                 bool `mapstructure:"usePty"`
}

// FilesystemConfig controls the fs/* capabilities advertised to the agent.
type FilesystemConfig struct {
	ReadEnabled  bool `mapstructure:"readEnabled"`
	WriteEnabled bool `mapstructure:"writeEnabled"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DatabaseConfig holds transcript storage configuration.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or none.
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReleaseGrace returns the terminal release grace window.
func (t *TerminalsConfig) ReleaseGrace() time.Duration {
	return time.Duration(t.ReleaseGraceSeconds) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port for the HTTP listener.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ACPADAPTER_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.id", "default")
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.command", "")
	v.SetDefault("agent.args", []string{})
	v.SetDefault("agent.env", map[string]string{})
	v.SetDefault("agent.workDir", "")
	v.SetDefault("agent.profile", "")
	v.SetDefault("agent.profilesFile", "")

	v.SetDefault("launcher.mode", "auto")
	v.SetDefault("launcher.shell", "")
	v.SetDefault("launcher.wslDistribution", "")
	v.SetDefault("launcher.runtimePath", "")

	v.SetDefault("permissions.autoApprove", false)

	v.SetDefault("terminals.enabled", true)
	v.SetDefault("terminals.defaultOutputByteLimit", 1024*1024)
	v.SetDefault("terminals.releaseGraceSeconds", 30)
	v.SetDefault("terminals.usePty", false)

	v.SetDefault("filesystem.readEnabled", true)
	v.SetDefault("filesystem.writeEnabled", true)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // prompts stream for as long as the agent runs

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "acpadapter")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.path", "./acpadapter.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ACPADAPTER_ with the key path joined by
// underscores (ACPADAPTER_AGENT_COMMAND).
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// camelCase keys do not map onto SNAKE_CASE env names automatically.
	_ = v.BindEnv("agent.workDir", "ACPADAPTER_AGENT_WORK_DIR")
	_ = v.BindEnv("agent.profilesFile", "ACPADAPTER_AGENT_PROFILES_FILE")
	_ = v.BindEnv("launcher.wslDistribution", "ACPADAPTER_LAUNCHER_WSL_DISTRIBUTION")
	_ = v.BindEnv("launcher.runtimePath", "ACPADAPTER_LAUNCHER_RUNTIME_PATH")
	_ = v.BindEnv("permissions.autoApprove", "ACPADAPTER_AUTO_APPROVE")
	_ = v.BindEnv("terminals.defaultOutputByteLimit", "ACPADAPTER_TERMINALS_OUTPUT_LIMIT")
	_ = v.BindEnv("terminals.usePty", "ACPADAPTER_TERMINALS_USE_PTY")

	v.SetConfigName("acpadapter")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/acpadapter")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	validModes := map[string]bool{"auto": true, "login-shell": true, "direct": true, "wsl": true}
	if !validModes[cfg.Launcher.Mode] {
		errs = append(errs, "launcher.mode must be one of: auto, login-shell, direct, wsl")
	}

	for i, srv := range cfg.Agent.MCPServers {
		if msg := validateMCPServer(srv); msg != "" {
			errs = append(errs, fmt.Sprintf("agent.mcpServers[%d]: %s", i, msg))
		}
	}

	if cfg.Terminals.DefaultOutputByteLimit < 0 {
		errs = append(errs, "terminals.defaultOutputByteLimit must not be negative")
	}
	if cfg.Terminals.ReleaseGraceSeconds < 0 {
		errs = append(errs, "terminals.releaseGraceSeconds must not be negative")
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "none", "sqlite":
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required when database.driver is postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: none, sqlite, postgres")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateMCPServer(srv MCPServerConfig) string {
	if srv.Name == "" {
		return "name is required"
	}
	switch srv.Type {
	case "", "stdio":
		if srv.Command == "" {
			return "command is required for stdio servers"
		}
	case "http", "sse":
		if srv.URL == "" {
			return "url is required for " + srv.Type + " servers"
		}
	default:
		return "type must be one of: stdio, http, sse"
	}
	return ""
}
