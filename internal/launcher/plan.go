// Package launcher turns an agent process configuration into a running
// process, applying the platform's wrapping policy (login shell, WSL, or
// direct spawn) and environment merging.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kandev/acpadapter/internal/agenterr"
)

// AgentProcessConfig identifies an agent and how to start it. It is treated as
// immutable once handed to the launcher.
type AgentProcessConfig struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
	WorkDir string            `json:"work_dir,omitempty" yaml:"work_dir"`
}

// Mode selects the wrapping policy.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeLoginShell Mode = "login-shell"
	ModeDirect     Mode = "direct"
	ModeWSL        Mode = "wsl"
)

// Options configures the wrapping policy. Zero values pick platform defaults.
type Options struct {
	Mode            Mode
	Shell           string
	WSLDistribution string
	// RuntimePath is an auxiliary runtime executable (e.g. node) whose
	// directory is prepended to PATH.
	RuntimePath string

	// Overridable for tests.
	GOOS     string
	BaseEnv  []string
	LookPath func(string) (string, error)
	Stat     func(string) (os.FileInfo, error)
}

func (o Options) goos() string {
	if o.GOOS != "" {
		return o.GOOS
	}
	return runtime.GOOS
}

func (o Options) baseEnv() []string {
	if o.BaseEnv != nil {
		return o.BaseEnv
	}
	return os.Environ()
}

func (o Options) lookPath(file string) (string, error) {
	if o.LookPath != nil {
		return o.LookPath(file)
	}
	return exec.LookPath(file)
}

func (o Options) stat(path string) (os.FileInfo, error) {
	if o.Stat != nil {
		return o.Stat(path)
	}
	return os.Stat(path)
}

// EffectiveMode resolves ModeAuto for the target platform.
func (o Options) EffectiveMode() Mode {
	switch o.Mode {
	case "", ModeAuto:
		if o.goos() == "windows" {
			return ModeDirect
		}
		return ModeLoginShell
	default:
		return o.Mode
	}
}

// CommandSpec is a program invocation before wrapping.
type CommandSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// Script marks Command as a shell command line to be interpreted by the
	// shell as-is. Args are ignored.
	Script bool
}

// SpawnPlan is the fully wrapped invocation handed to exec.
type SpawnPlan struct {
	Program string
	Args    []string
	Env     []string
	Dir     string
	// Command is the unwrapped command, kept for diagnostics.
	Command string
	Mode    Mode
}

// String renders the plan for logs.
func (p *SpawnPlan) String() string {
	return strings.TrimSpace(p.Program + " " + strings.Join(p.Args, " "))
}

// BuildPlan validates cfg and wraps it according to opts.
func BuildPlan(cfg AgentProcessConfig, opts Options) (*SpawnPlan, error) {
	return opts.Wrap(CommandSpec{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
		Dir:     cfg.WorkDir,
	})
}

// Wrap applies the platform wrapping policy to spec. Terminals use the same
// policy as the agent itself.
func (o Options) Wrap(spec CommandSpec) (*SpawnPlan, error) {
	command := strings.TrimSpace(spec.Command)
	if command == "" {
		return nil, agenterr.InvalidCommand("the agent command is empty")
	}

	mode := o.EffectiveMode()
	plan := &SpawnPlan{Command: command, Mode: mode}

	switch mode {
	case ModeWSL:
		if err := o.wrapWSL(plan, command, spec); err != nil {
			return nil, err
		}
		return plan, nil
	case ModeLoginShell:
		plan.Program = o.loginShell()
		if spec.Script {
			plan.Args = []string{"-l", "-c", command}
			break
		}
		if err := o.checkExplicitPath(command); err != nil {
			return nil, err
		}
		plan.Args = []string{"-l", "-c", "exec " + quotePOSIXArgv(append([]string{command}, spec.Args...))}
	case ModeDirect:
		if spec.Script {
			plan.Program, plan.Args = o.scriptInvocation(command)
			break
		}
		resolved, err := o.resolveDirect(command)
		if err != nil {
			return nil, err
		}
		plan.Program, plan.Args = o.directInvocation(resolved, spec.Args)
	default:
		return nil, agenterr.InvalidCommand(fmt.Sprintf("unknown launcher mode %q", mode))
	}

	if spec.Dir != "" {
		if err := o.checkDir(spec.Dir); err != nil {
			return nil, err
		}
		plan.Dir = spec.Dir
	}
	plan.Env = MergeEnv(o.baseEnv(), spec.Env, o.searchPathAdditions(), o.goos())
	return plan, nil
}

func (o Options) loginShell() string {
	if o.Shell != "" {
		return o.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" && o.BaseEnv == nil {
		return shell
	}
	for _, kv := range o.BaseEnv {
		if v, ok := strings.CutPrefix(kv, "SHELL="); ok && v != "" {
			return v
		}
	}
	return "/bin/sh"
}

// checkExplicitPath verifies commands given as a path. Bare names are resolved
// by the login shell's own PATH, so their absence surfaces as exit code 127.
func (o Options) checkExplicitPath(command string) error {
	if !strings.ContainsAny(command, `/\`) {
		return nil
	}
	if _, err := o.stat(command); err != nil {
		return agenterr.CommandNotFound(command, err)
	}
	return nil
}

func (o Options) resolveDirect(command string) (string, error) {
	if strings.ContainsAny(command, `/\`) {
		if _, err := o.stat(command); err != nil {
			return "", agenterr.CommandNotFound(command, err)
		}
		return command, nil
	}
	resolved, err := o.lookPath(command)
	if err != nil {
		return "", agenterr.CommandNotFound(command, err)
	}
	return resolved, nil
}

// directInvocation spawns the program as-is, except for script extensions on
// Windows which must go through the command interpreter.
func (o Options) directInvocation(program string, args []string) (string, []string) {
	if o.goos() == "windows" {
		switch strings.ToLower(filepath.Ext(program)) {
		case ".cmd", ".bat":
			return "cmd.exe", append([]string{"/d", "/s", "/c", program}, args...)
		case ".ps1":
			return "powershell.exe", append([]string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", program}, args...)
		}
	}
	return program, append([]string(nil), args...)
}

func (o Options) scriptInvocation(script string) (string, []string) {
	if o.goos() == "windows" {
		return "cmd.exe", []string{"/d", "/s", "/c", script}
	}
	return "/bin/sh", []string{"-c", script}
}

func (o Options) checkDir(dir string) error {
	info, err := o.stat(dir)
	if err != nil {
		return agenterr.InvalidWorkDir(dir, err)
	}
	if !info.IsDir() {
		return agenterr.InvalidWorkDir(dir, fmt.Errorf("not a directory"))
	}
	return nil
}

func (o Options) searchPathAdditions() []string {
	if o.RuntimePath == "" {
		return nil
	}
	dir := o.RuntimePath
	if info, err := o.stat(o.RuntimePath); err != nil || !info.IsDir() {
		dir = filepath.Dir(o.RuntimePath)
	}
	return []string{dir}
}

// quotePOSIXArgv renders argv as a single POSIX shell word list.
func quotePOSIXArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quotePOSIX(arg)
	}
	return strings.Join(quoted, " ")
}

func quotePOSIX(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~=%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
