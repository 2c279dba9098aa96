// Package adapter drives one ACP agent: it spawns the agent, performs the
// protocol handshake, sends prompts, and services the agent's permission,
// terminal and file requests.
package adapter

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events"
	"github.com/kandev/acpadapter/internal/events/bus"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/permission"
	"github.com/kandev/acpadapter/internal/router"
	"github.com/kandev/acpadapter/internal/terminal"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

// Options configures an Adapter.
type Options struct {
	// AgentID names the agent in logs and event subjects until Initialize
	// provides one.
	AgentID     string
	AutoApprove bool

	TerminalsEnabled bool
	Terminals        terminal.Options

	FSReadEnabled  bool
	FSWriteEnabled bool

	// MCPServers are sent with every session/new.
	MCPServers []MCPServer

	// Observers are told about every message change, after the event
	// publisher.
	Observers []router.Observer
	// Bus receives lifecycle and message events. Nil disables publishing.
	Bus bus.EventBus
}

// InitializeResult summarizes the agent's initialize response.
type InitializeResult struct {
	ProtocolVersion int                   `json:"protocol_version"`
	AgentName       string                `json:"agent_name,omitempty"`
	AgentVersion    string                `json:"agent_version,omitempty"`
	LoadSession     bool                  `json:"load_session"`
	AuthMethods     []protocol.AuthMethod `json:"auth_methods"`
}

// PromptResult is how a prompt turn ended.
type PromptResult struct {
	SessionID  string `json:"session_id"`
	StopReason string `json:"stop_reason"`
	// Swallowed is set when the agent failed the turn with a benign error
	// that was treated as a normal end of turn.
	Swallowed bool `json:"swallowed,omitempty"`
}

// Status is a snapshot of the adapter's connection.
type Status struct {
	Connected   bool                  `json:"connected"`
	AgentID     string                `json:"agent_id,omitempty"`
	PID         int                   `json:"pid,omitempty"`
	SessionID   string                `json:"session_id,omitempty"`
	AuthMethods []protocol.AuthMethod `json:"auth_methods,omitempty"`
}

// Adapter owns at most one agent connection at a time together with the
// message store, permission queue and terminals that outlive it.
type Adapter struct {
	opts     Options
	launcher *launcher.Launcher
	logger   *logger.Logger
	events   *publisher

	store  *router.MemoryStore
	router *router.Router
	perms  *permission.Arbitrator
	terms  *terminal.Supervisor

	// lifecycle serializes Initialize and Attach.
	lifecycle sync.Mutex

	mu   sync.RWMutex
	conn *connection
}

// New creates a disconnected adapter.
func New(opts Options, l *launcher.Launcher, log *logger.Logger) *Adapter {
	if opts.Terminals.Launcher.Mode == "" && l != nil {
		opts.Terminals.Launcher = l.Options()
	}
	log = log.WithFields(zap.String("component", "adapter"))
	pub := newPublisher(opts.Bus, opts.AgentID, log)

	observers := router.Observers{pub}
	observers = append(observers, opts.Observers...)
	store := router.NewMemoryStore(observers)

	return &Adapter{
		opts:     opts,
		launcher: l,
		logger:   log,
		events:   pub,
		store:    store,
		router:   router.New(store, pub, log),
		perms:    permission.NewArbitrator(opts.AutoApprove, pub, log),
		terms:    terminal.NewSupervisor(opts.Terminals, pub, log),
	}
}

// Initialize spawns the agent described by cfg and performs the initialize
// handshake. An existing connection is torn down first.
func (a *Adapter) Initialize(ctx context.Context, cfg launcher.AgentProcessConfig) (*InitializeResult, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.Disconnect()

	if a.launcher == nil {
		return nil, agenterr.InvalidCommand("no launcher configured")
	}
	proc, err := a.launcher.Launch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a.handshake(ctx, cfg, proc.Stdin, proc.Stdout, proc)
}

// Attach performs the handshake over an already connected stream pair, e.g.
// an in-process agent. The adapter closes w on disconnect.
func (a *Adapter) Attach(ctx context.Context, cfg launcher.AgentProcessConfig, w io.WriteCloser, r io.Reader) (*InitializeResult, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.Disconnect()
	return a.handshake(ctx, cfg, w, r, nil)
}

func (a *Adapter) handshake(ctx context.Context, cfg launcher.AgentProcessConfig, w io.WriteCloser, r io.Reader, proc *launcher.Process) (*InitializeResult, error) {
	agentID := cfg.ID
	if agentID == "" {
		agentID = a.opts.AgentID
	}
	a.events.setAgentID(agentID)
	a.store.Reset()

	c := newConnection(a, agentID, cfg, w, r, proc)
	res, err := c.initialize(ctx)
	if err != nil {
		c.close(err)
		return nil, err
	}

	a.mu.Lock()
	a.conn = c
	a.mu.Unlock()
	go a.watch(c)

	a.events.publish(events.AgentConnected, ConnectionEvent{AgentID: agentID, PID: c.pid()})
	return res, nil
}

// watch drops c once its stream or process ends on its own.
func (a *Adapter) watch(c *connection) {
	var procDone <-chan struct{}
	if c.proc != nil {
		procDone = c.proc.Done()
	}
	select {
	case <-c.client.Done():
	case <-procDone:
	case <-c.ctx.Done():
		return
	}
	if c.proc != nil {
		// Let the exit classification settle before Stop marks the exit as requested.
		select {
		case <-c.proc.Done():
		case <-time.After(exitSettle):
		}
	}

	a.mu.Lock()
	current := a.conn == c
	if current {
		a.conn = nil
	}
	a.mu.Unlock()
	if !current {
		return
	}

	var exitErr error
	if c.proc != nil {
		exitErr = c.proc.ExitErr()
	}
	a.logger.Warn("agent connection lost", zap.String("agent_id", c.agentID), zap.Error(exitErr))
	ev := ConnectionEvent{AgentID: c.agentID, SessionID: c.session()}
	if exitErr != nil {
		ev.Error = exitErr.Error()
	}
	a.events.publish(events.AgentExited, ev)
	c.close(exitErr)
}

// Disconnect tears the current connection down: pending permissions are
// cancelled, terminals killed and the agent process stopped. It is a no-op
// when nothing is connected.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	c := a.conn
	a.conn = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	c.close(nil)
	a.events.publish(events.AgentDisconnected, ConnectionEvent{AgentID: c.agentID, SessionID: c.session()})
}

func (a *Adapter) current() (*connection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conn == nil {
		return nil, agenterr.NotConnected()
	}
	return a.conn, nil
}

// NewSession starts a session rooted at cwd. An empty cwd selects the
// agent's configured working directory.
func (a *Adapter) NewSession(ctx context.Context, cwd string) (string, error) {
	c, err := a.current()
	if err != nil {
		return "", err
	}
	return c.newSession(ctx, cwd)
}

// Authenticate runs the agent's authenticate method.
func (a *Adapter) Authenticate(ctx context.Context, methodID string) error {
	c, err := a.current()
	if err != nil {
		return err
	}
	return c.authenticate(ctx, methodID)
}

// Prompt sends text as one turn, creating a session on first use, and
// blocks until the agent ends the turn. Progress arrives through the
// message store while it runs.
func (a *Adapter) Prompt(ctx context.Context, text string) (*PromptResult, error) {
	c, err := a.current()
	if err != nil {
		return nil, err
	}
	sessionID, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a.store.AppendMessage(router.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      router.RoleUser,
		Content:   text,
		CreatedAt: now,
		UpdatedAt: now,
	})
	a.events.publish(events.PromptStarted, PromptEvent{SessionID: sessionID})

	res, err := c.prompt(ctx, sessionID, text)
	if err != nil {
		a.events.publish(events.PromptFailed, PromptEvent{SessionID: sessionID, Error: err.Error()})
		return nil, err
	}
	a.events.publish(events.PromptCompleted, PromptEvent{SessionID: sessionID, StopReason: res.StopReason})
	return res, nil
}

// Cancel asks the agent to stop the current turn, then cancels every
// pending permission request and kills every terminal regardless of whether
// the notification could be sent.
func (a *Adapter) Cancel(ctx context.Context) error {
	c, err := a.current()
	if err != nil {
		return err
	}
	sendErr := c.cancel(ctx)

	cancelled := a.perms.CancelAll()
	a.terms.KillAll()
	a.logger.Info("cancelled turn",
		zap.String("session_id", c.session()),
		zap.Int("permissions_cancelled", cancelled))
	return sendErr
}

// Messages returns the conversation so far.
func (a *Adapter) Messages() []router.Message {
	return a.store.Messages()
}

// AvailableCommands returns the agent's last announced slash commands.
func (a *Adapter) AvailableCommands() []router.Command {
	return a.router.AvailableCommands()
}

// Permissions returns the unfinished permission requests, active first.
func (a *Adapter) Permissions() []permission.Request {
	return a.perms.Requests()
}

// RespondToPermission answers a permission request. Unknown request ids are
// ignored.
func (a *Adapter) RespondToPermission(requestID, optionID string) error {
	return a.perms.Resolve(requestID, optionID)
}

// CancelPermission answers a permission request with a cancelled outcome.
func (a *Adapter) CancelPermission(requestID string) {
	a.perms.Cancel(requestID)
}

// SetAutoApprove toggles auto-approval of future permission requests.
func (a *Adapter) SetAutoApprove(v bool) {
	a.perms.SetAutoApprove(v)
}

// Terminals lists the terminals the agent created.
func (a *Adapter) Terminals() []terminal.Info {
	return a.terms.List()
}

// TerminalOutput polls one terminal.
func (a *Adapter) TerminalOutput(id string) (terminal.Output, error) {
	return a.terms.Output(id)
}

// Status reports the connection state.
func (a *Adapter) Status() Status {
	c, err := a.current()
	if err != nil {
		return Status{AgentID: a.events.source()}
	}
	return Status{
		Connected:   true,
		AgentID:     c.agentID,
		PID:         c.pid(),
		SessionID:   c.session(),
		AuthMethods: c.methods(),
	}
}
