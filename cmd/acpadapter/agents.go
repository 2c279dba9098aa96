package main

import (
	"strings"

	"github.com/kandev/acpadapter/internal/adapter"
	"github.com/kandev/acpadapter/internal/adapter/handlers"
	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/launcher"
)

// launcherOptions maps the launcher config section onto launcher options.
func launcherOptions(cfg config.LauncherConfig) launcher.Options {
	return launcher.Options{
		Mode:            launcher.Mode(cfg.Mode),
		Shell:           cfg.Shell,
		WSLDistribution: cfg.WSLDistribution,
		RuntimePath:     cfg.RuntimePath,
	}
}

// agentFromConfig is the agent described inline in the config file.
func agentFromConfig(cfg config.AgentConfig) launcher.AgentProcessConfig {
	return launcher.AgentProcessConfig{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		WorkDir: cfg.WorkDir,
	}
}

// mcpServers maps the configured MCP servers onto adapter options.
func mcpServers(cfg []config.MCPServerConfig) []adapter.MCPServer {
	out := make([]adapter.MCPServer, 0, len(cfg))
	for _, srv := range cfg {
		out = append(out, adapter.MCPServer{
			Name:    srv.Name,
			Type:    srv.Type,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     nameValues(srv.Env),
			URL:     srv.URL,
			Headers: nameValues(srv.Headers),
		})
	}
	return out
}

func nameValues(in []config.NameValue) []adapter.NameValue {
	out := make([]adapter.NameValue, 0, len(in))
	for _, nv := range in {
		out = append(out, adapter.NameValue{Name: nv.Name, Value: nv.Value})
	}
	return out
}

// newAgentResolver resolves profile ids against the profiles file. The
// configured profile, or the inline agent when none is set, is the default;
// inline fields override the configured profile.
func newAgentResolver(cfg config.AgentConfig) handlers.AgentResolver {
	inline := agentFromConfig(cfg)
	return func(profileID string) (launcher.AgentProcessConfig, error) {
		profileID = strings.TrimSpace(profileID)
		if profileID == "" {
			profileID = cfg.Profile
		}
		if profileID == "" {
			return inline, nil
		}
		if cfg.ProfilesFile == "" {
			return launcher.AgentProcessConfig{}, agenterr.NotFound("agent profile", profileID)
		}

		profiles, err := launcher.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return launcher.AgentProcessConfig{}, agenterr.InvalidCommand(err.Error())
		}
		profile, err := launcher.FindProfile(profiles, profileID)
		if err != nil {
			return launcher.AgentProcessConfig{}, err
		}
		if profileID != cfg.Profile {
			return profile, nil
		}
		// the inline id defaults to "default" and must not rename the profile
		override := inline
		override.ID = ""
		return launcher.Overlay(profile, override), nil
	}
}
