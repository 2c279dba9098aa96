package launcher

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kandev/acpadapter/internal/agenterr"
)

// ProfilesFile is the on-disk list of known agents.
//
//	agents:
//	  - id: claude
//	    name: Claude Code
//	    command: claude-code-acp
//	    env: {ANTHROPIC_LOG: debug}
type ProfilesFile struct {
	Agents []AgentProcessConfig `yaml:"agents"`
}

// LoadProfiles reads agent profiles from a YAML file.
func LoadProfiles(path string) ([]AgentProcessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent profiles: %w", err)
	}
	var file ProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent profiles %s: %w", path, err)
	}
	for i, agent := range file.Agents {
		if strings.TrimSpace(agent.ID) == "" {
			return nil, fmt.Errorf("agent profile %d in %s has no id", i, path)
		}
	}
	return file.Agents, nil
}

// FindProfile returns the profile with the given id.
func FindProfile(profiles []AgentProcessConfig, id string) (AgentProcessConfig, error) {
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return AgentProcessConfig{}, agenterr.NotFound("agent profile", id)
}

// Overlay returns base with every non-empty field of override applied. Env
// maps are merged key by key.
func Overlay(base, override AgentProcessConfig) AgentProcessConfig {
	out := base
	if override.ID != "" {
		out.ID = override.ID
	}
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Command != "" {
		out.Command = override.Command
	}
	if len(override.Args) > 0 {
		out.Args = append([]string(nil), override.Args...)
	}
	if override.WorkDir != "" {
		out.WorkDir = override.WorkDir
	}
	if len(override.Env) > 0 {
		merged := make(map[string]string, len(base.Env)+len(override.Env))
		for k, v := range base.Env {
			merged[k] = v
		}
		for k, v := range override.Env {
			merged[k] = v
		}
		out.Env = merged
	}
	return out
}
