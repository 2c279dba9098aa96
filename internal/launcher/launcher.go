package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"go.uber.org/zap"
)

const (
	// ExitCodeCommandNotFound is the shell's status for an unresolvable command.
	ExitCodeCommandNotFound = 127

	maxStderrLines   = 50
	stopGracePeriod  = 2 * time.Second
	stderrLineBuffer = 1024 * 1024
)

// Launcher spawns agent processes.
type Launcher struct {
	opts   Options
	logger *logger.Logger
}

// New creates a launcher with the given wrapping policy.
func New(opts Options, log *logger.Logger) *Launcher {
	return &Launcher{
		opts:   opts,
		logger: log.WithFields(zap.String("component", "launcher")),
	}
}

// Options returns the wrapping policy, shared with the terminal supervisor.
func (l *Launcher) Options() Options {
	return l.opts
}

// Launch validates cfg, builds the spawn plan and starts exactly one process.
// The caller owns the returned process and must Stop it.
func (l *Launcher) Launch(ctx context.Context, cfg AgentProcessConfig) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plan, err := BuildPlan(cfg, l.opts)
	if err != nil {
		return nil, err
	}
	return Start(plan, l.logger.WithAgentID(cfg.ID))
}

// Process is a running agent with piped stdio.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	plan   *SpawnPlan
	cmd    *exec.Cmd
	logger *logger.Logger

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	stopping bool
	exitErr  error
	exitCode *int
	signal   *string
	stderr   []string
}

// Start spawns plan. Spawn failures caused by a missing executable are
// reported as configuration errors.
func Start(plan *SpawnPlan, log *logger.Logger) (*Process, error) {
	cmd := exec.Command(plan.Program, plan.Args...)
	cmd.Dir = plan.Dir
	cmd.Env = plan.Env
	ConfigureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, agenterr.SpawnFailed(plan.Command, fmt.Errorf("stdin pipe: %w", err))
	}
	// Plain os.Pipe ends keep exec.Cmd.Wait from closing our read side
	// before the final frames have been consumed.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, agenterr.SpawnFailed(plan.Command, fmt.Errorf("stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, agenterr.SpawnFailed(plan.Command, fmt.Errorf("stderr pipe: %w", err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		if errors.Is(startErr, exec.ErrNotFound) || errors.Is(startErr, fs.ErrNotExist) {
			return nil, agenterr.CommandNotFound(plan.Command, startErr)
		}
		return nil, agenterr.SpawnFailed(plan.Command, startErr)
	}

	p := &Process{
		Stdin:  stdin,
		Stdout: stdoutR,
		plan:   plan,
		cmd:    cmd,
		logger: log.WithFields(zap.Int("pid", cmd.Process.Pid)),
		done:   make(chan struct{}),
	}
	p.logger.Info("agent process started",
		zap.String("command", plan.Command),
		zap.String("mode", string(plan.Mode)),
		zap.String("invocation", plan.String()),
		zap.String("dir", plan.Dir))

	stderrDone := make(chan struct{})
	go p.readStderr(stderrR, stderrDone)
	go p.wait(stderrDone)
	return p, nil
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Plan returns the invocation that started this process.
func (p *Process) Plan() *SpawnPlan {
	return p.plan
}

// Done is closed once the process has exited and its stderr drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr classifies how the process ended. It is nil while running, after a
// clean exit, and after an exit requested through Stop.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// ExitCode returns the exit code once the process has exited normally.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitCode == nil {
		return 0, false
	}
	return *p.exitCode, true
}

// RecentStderr returns the last lines the process wrote to stderr.
func (p *Process) RecentStderr() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stderr...)
}

// Stop closes stdin, asks the process group to terminate and escalates to
// SIGKILL if it is still alive after a short grace period.
func (p *Process) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopping = true
		p.mu.Unlock()
		defer func() { _ = p.Stdout.Close() }()

		_ = p.Stdin.Close()
		select {
		case <-p.done:
			return
		default:
		}

		if err := TerminateProcessGroup(p.PID()); err != nil {
			p.logger.Debug("terminate process group failed", zap.Error(err))
		}
		select {
		case <-p.done:
			return
		case <-time.After(stopGracePeriod):
		}
		p.logger.Warn("agent did not exit after SIGTERM, killing")
		if err := KillProcessGroup(p.PID()); err != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	})
}

// readStderr passes stderr through to the log. It is diagnostic only and
// never drives control flow.
func (p *Process) readStderr(r io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), stderrLineBuffer)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("agent stderr", zap.String("line", line))
		p.mu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > maxStderrLines {
			p.stderr = p.stderr[len(p.stderr)-maxStderrLines:]
		}
		p.mu.Unlock()
	}
}

func (p *Process) wait(stderrDone <-chan struct{}) {
	waitErr := p.cmd.Wait()
	// Grandchildren may keep stderr open; do not hang on them.
	select {
	case <-stderrDone:
	case <-time.After(time.Second):
	}

	code, signal := ExitStatus(p.cmd.ProcessState)

	p.mu.Lock()
	p.exitCode = code
	p.signal = signal
	p.exitErr = p.classifyExitLocked(waitErr, code, signal)
	exitErr := p.exitErr
	p.mu.Unlock()

	fields := []zap.Field{zap.Error(waitErr)}
	if code != nil {
		fields = append(fields, zap.Int("exit_code", *code))
	}
	if signal != nil {
		fields = append(fields, zap.String("signal", *signal))
	}
	if exitErr != nil {
		p.logger.Warn("agent process exited abnormally", append(fields, zap.NamedError("classified", exitErr))...)
	} else {
		p.logger.Info("agent process exited", fields...)
	}
	close(p.done)
}

func (p *Process) classifyExitLocked(waitErr error, code *int, signal *string) error {
	if code != nil && *code == ExitCodeCommandNotFound {
		return agenterr.CommandNotFound(p.plan.Command, waitErr)
	}
	if p.stopping {
		return nil
	}
	if waitErr == nil && (code == nil || *code == 0) {
		return nil
	}
	tail := p.stderr
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	return agenterr.AgentExited(p.plan.Command, code, signal, strings.Join(tail, "\n"))
}
