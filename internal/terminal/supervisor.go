// Package terminal supervises the auxiliary command processes an agent asks
// the client to run.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/launcher"
)

const (
	DefaultOutputByteLimit = 1024 * 1024
	DefaultReleaseGrace    = 30 * time.Second

	killWait = 2 * time.Second
)

// CreateSpec is a terminal creation request.
type CreateSpec struct {
	SessionID string
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	// OutputByteLimit caps retained output. Nil selects the supervisor's
	// default; zero retains nothing.
	OutputByteLimit *int
}

// ExitStatus is how a terminal process ended. ExitCode is nil when the
// process was killed by a signal.
type ExitStatus struct {
	ExitCode *int    `json:"exit_code,omitempty"`
	Signal   *string `json:"signal,omitempty"`
}

// Output is a poll of a terminal's state.
type Output struct {
	Output    string `json:"output"`
	Truncated bool   `json:"truncated"`
	// ExitStatus is nil while the process runs.
	ExitStatus *ExitStatus `json:"exit_status,omitempty"`
}

// Info describes a terminal for listeners.
type Info struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Listener observes terminal lifecycle changes.
type Listener interface {
	TerminalCreated(info Info)
	TerminalExited(info Info, status ExitStatus)
}

// Options configures a Supervisor.
type Options struct {
	Launcher        launcher.Options
	OutputByteLimit int
	ReleaseGrace    time.Duration
	UsePTY          bool
}

type handle struct {
	info   Info
	cmd    *exec.Cmd
	pty    ptyHandle
	output *outputBuffer

	done       chan struct{}
	mu         sync.Mutex
	exitStatus *ExitStatus
	released   bool
	timer      *time.Timer
}

func (h *handle) status() *ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitStatus == nil {
		return nil
	}
	s := *h.exitStatus
	return &s
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor owns the terminal registry of one connection.
type Supervisor struct {
	opts     Options
	logger   *logger.Logger
	listener Listener
	nextID   atomic.Int64

	mu        sync.Mutex
	terminals map[string]*handle
}

// NewSupervisor creates an empty supervisor. listener may be nil.
func NewSupervisor(opts Options, listener Listener, log *logger.Logger) *Supervisor {
	if opts.OutputByteLimit <= 0 {
		opts.OutputByteLimit = DefaultOutputByteLimit
	}
	if opts.ReleaseGrace <= 0 {
		opts.ReleaseGrace = DefaultReleaseGrace
	}
	return &Supervisor{
		opts:      opts,
		logger:    log.WithFields(zap.String("component", "terminals")),
		listener:  listener,
		terminals: make(map[string]*handle),
	}
}

// startError classifies a failed process start. A missing executable is a
// configuration problem rather than a spawn failure.
func startError(command string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return agenterr.CommandNotFound(command, err)
	}
	return agenterr.SpawnFailed(command, err)
}

// Create starts a terminal process and returns its id.
func (s *Supervisor) Create(spec CreateSpec) (string, error) {
	parsed := ParseCommand(spec.Command, spec.Args)
	plan, err := s.opts.Launcher.Wrap(launcher.CommandSpec{
		Command: parsed.Command,
		Args:    parsed.Args,
		Env:     spec.Env,
		Dir:     spec.Cwd,
		Script:  parsed.Script,
	})
	if err != nil {
		return "", err
	}

	limit := s.opts.OutputByteLimit
	if spec.OutputByteLimit != nil {
		limit = max(0, *spec.OutputByteLimit)
	}

	cmd := exec.Command(plan.Program, plan.Args...)
	cmd.Dir = plan.Dir
	cmd.Env = plan.Env

	h := &handle{
		cmd:    cmd,
		output: newOutputBuffer(limit),
		done:   make(chan struct{}),
	}

	if s.opts.UsePTY {
		p, err := startPTY(cmd, defaultPTYCols, defaultPTYRows)
		if err != nil {
			return "", startError(plan.Command, fmt.Errorf("start pty: %w", err))
		}
		h.pty = p
	} else {
		launcher.ConfigureProcessGroup(cmd)
		cmd.Stdout = h.output
		cmd.Stderr = h.output
		// Background children can hold the pipes open after the shell exits.
		cmd.WaitDelay = time.Second
		if err := cmd.Start(); err != nil {
			return "", startError(plan.Command, err)
		}
	}

	id := fmt.Sprintf("term-%d", s.nextID.Add(1))
	h.info = Info{
		ID:        id,
		SessionID: spec.SessionID,
		Command:   plan.Command,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.terminals[id] = h
	s.mu.Unlock()

	s.logger.Info("terminal started",
		zap.String("terminal_id", id),
		zap.String("session_id", spec.SessionID),
		zap.String("invocation", plan.String()),
		zap.Int("pid", h.info.PID),
		zap.Bool("pty", h.pty != nil))
	if s.listener != nil {
		s.listener.TerminalCreated(h.info)
	}

	go s.wait(h)
	return id, nil
}

func (s *Supervisor) wait(h *handle) {
	var state *os.ProcessState
	var waitErr error
	if h.pty != nil {
		copied := make(chan struct{})
		go func() {
			defer close(copied)
			_, _ = io.Copy(h.output, h.pty)
		}()
		state, waitErr = waitPTY(h.cmd)
		// The reader ends once the slave side closes; give it a moment to drain.
		select {
		case <-copied:
		case <-time.After(time.Second):
		}
		_ = h.pty.Close()
	} else {
		waitErr = h.cmd.Wait()
		state = h.cmd.ProcessState
	}

	code, signal := launcher.ExitStatus(state)
	status := ExitStatus{ExitCode: code, Signal: signal}

	h.mu.Lock()
	h.exitStatus = &status
	h.mu.Unlock()
	close(h.done)

	fields := []zap.Field{zap.String("terminal_id", h.info.ID)}
	if code != nil {
		fields = append(fields, zap.Int("exit_code", *code))
	}
	if signal != nil {
		fields = append(fields, zap.String("signal", *signal))
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		fields = append(fields, zap.Error(waitErr))
	}
	s.logger.Debug("terminal exited", fields...)
	if s.listener != nil {
		s.listener.TerminalExited(h.info, status)
	}
}

func (s *Supervisor) get(id string) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.terminals[id]
	if !ok {
		return nil, agenterr.NotFound("terminal", id)
	}
	return h, nil
}

// Output returns the retained output. The exit status is set once the
// process has exited, after which the output no longer changes.
func (s *Supervisor) Output(id string) (Output, error) {
	h, err := s.get(id)
	if err != nil {
		return Output{}, err
	}
	// Read the status first so a reported exit implies final output.
	status := h.status()
	out, truncated := h.output.Snapshot()
	return Output{Output: out, Truncated: truncated, ExitStatus: status}, nil
}

// WaitForExit blocks until the terminal exits or ctx ends. It returns
// immediately for an exited terminal.
func (s *Supervisor) WaitForExit(ctx context.Context, id string) (ExitStatus, error) {
	h, err := s.get(id)
	if err != nil {
		return ExitStatus{}, err
	}
	select {
	case <-h.done:
		return *h.status(), nil
	case <-ctx.Done():
		return ExitStatus{}, fmt.Errorf("wait for terminal %s: %w", id, ctx.Err())
	}
}

// Kill force-kills the terminal process. The terminal stays registered so its
// output and exit status remain readable.
func (s *Supervisor) Kill(id string) error {
	h, err := s.get(id)
	if err != nil {
		return err
	}
	s.kill(h)
	return nil
}

func (s *Supervisor) kill(h *handle) {
	if h.exited() {
		return
	}
	if h.pty == nil {
		if err := launcher.KillProcessGroup(h.info.PID); err == nil {
			return
		}
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("kill terminal failed", zap.String("terminal_id", h.info.ID), zap.Error(err))
	}
}

// Release kills the terminal if it still runs and removes it after the grace
// window, so late polls still see the final output. Unknown ids are ignored.
func (s *Supervisor) Release(id string) error {
	s.mu.Lock()
	h, ok := s.terminals[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.timer = time.AfterFunc(s.opts.ReleaseGrace, func() { s.remove(id, h) })
	h.mu.Unlock()

	s.kill(h)
	s.logger.Debug("terminal released", zap.String("terminal_id", id))
	return nil
}

func (s *Supervisor) remove(id string, h *handle) {
	s.mu.Lock()
	if cur, ok := s.terminals[id]; ok && cur == h {
		delete(s.terminals, id)
	}
	s.mu.Unlock()
}

// KillAll cancels pending release timers, kills every running terminal and
// clears the registry. It returns once the killed processes have exited or
// a short deadline passes.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.terminals))
	for _, h := range s.terminals {
		handles = append(handles, h)
	}
	s.terminals = make(map[string]*handle)
	s.mu.Unlock()

	if len(handles) == 0 {
		return
	}

	var g errgroup.Group
	for _, h := range handles {
		h := h // per-iteration copy: module builds with go 1.21 loop semantics
		h.mu.Lock()
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()

		g.Go(func() error {
			s.kill(h)
			select {
			case <-h.done:
				return nil
			case <-time.After(killWait):
				return fmt.Errorf("terminal %s did not exit after kill", h.info.ID)
			}
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("terminal cleanup incomplete", zap.Error(err))
	}
	s.logger.Info("killed all terminals", zap.Int("count", len(handles)))
}

// Len returns the number of registered terminals.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.terminals)
}

// List returns the registered terminals.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.terminals))
	for _, h := range s.terminals {
		out = append(out, h.info)
	}
	return out
}
