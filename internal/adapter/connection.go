package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/tracing"
	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

// exitSettle bounds how long a closed stream waits for the process exit
// status before the failure is reported as a plain connection loss.
const exitSettle = time.Second

// connection is one spawned (or attached) agent and its protocol state.
type connection struct {
	adapter *Adapter
	agentID string
	cfg     launcher.AgentProcessConfig
	client  *jsonrpc.Client
	writer  io.Closer
	proc    *launcher.Process
	logger  *logger.Logger

	// ctx ends when the connection is closed; inbound handlers that wait
	// use it.
	ctx  context.Context
	stop context.CancelFunc

	// sessionMu serializes session creation.
	sessionMu sync.Mutex

	mu          sync.RWMutex
	sessionID   string
	cwd         string
	authMethods []protocol.AuthMethod

	closeOnce sync.Once
}

func newConnection(a *Adapter, agentID string, cfg launcher.AgentProcessConfig, w io.WriteCloser, r io.Reader, proc *launcher.Process) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		adapter: a,
		agentID: agentID,
		cfg:     cfg,
		writer:  w,
		proc:    proc,
		logger:  a.logger.WithAgentID(agentID),
		ctx:     ctx,
		stop:    cancel,
	}
	c.client = jsonrpc.NewClient(w, r, c, a.logger.WithAgentID(agentID))
	c.client.Start()
	return c
}

func (c *connection) pid() int {
	if c.proc == nil {
		return 0
	}
	return c.proc.PID()
}

func (c *connection) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *connection) sessionCwd() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cwd
}

func (c *connection) methods() []protocol.AuthMethod {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.AuthMethod(nil), c.authMethods...)
}

// close tears the connection down once. reason is only logged.
func (c *connection) close(reason error) {
	c.closeOnce.Do(func() {
		c.stop()
		c.adapter.perms.CancelAll()
		c.adapter.terms.KillAll()
		c.client.Close()
		_ = c.writer.Close()
		if c.proc != nil {
			c.proc.Stop()
		}
		if reason != nil {
			c.logger.Info("agent connection closed", zap.Error(reason))
		} else {
			c.logger.Info("agent connection closed")
		}
	})
}

// call sends one request inside a client span.
func (c *connection) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := tracing.StartCall(ctx, method, c.agentID, c.session())
	res, err := c.client.Call(ctx, method, params)
	tracing.EndCall(span, err)
	return res, err
}

func failureOf(e *jsonrpc.Error) agenterr.RPCFailure {
	return agenterr.RPCFailure{Code: e.Code, Message: e.Message, Data: e.Data}
}

// mapError converts a Call failure into the error taxonomy. Anything other
// than an error response or the caller's own context is a transport failure
// (a closed stream or a failed write) and is reported as the process exit
// when the agent died, so an exit status of 127 surfaces as "Command Not
// Found".
func (c *connection) mapError(method string, err error) error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return agenterr.FromRPC(method, failureOf(rpcErr))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return c.closedError(err)
}

func (c *connection) closedError(cause error) error {
	if c.proc != nil {
		select {
		case <-c.proc.Done():
		case <-time.After(exitSettle):
		}
		if exitErr := c.proc.ExitErr(); exitErr != nil {
			return exitErr
		}
	}
	return agenterr.ConnectionClosed(cause)
}

func (c *connection) initialize(ctx context.Context) (*InitializeResult, error) {
	opts := c.adapter.opts
	req := acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs: acp.FileSystemCapability{
				ReadTextFile:  opts.FSReadEnabled,
				WriteTextFile: opts.FSWriteEnabled,
			},
			Terminal: opts.TerminalsEnabled,
		},
		ClientInfo: &acp.Implementation{
			Name:    protocol.ClientName,
			Version: protocol.ClientVersion,
		},
	}

	raw, err := c.call(ctx, jsonrpc.MethodInitialize, req)
	if err != nil {
		return nil, c.mapError(jsonrpc.MethodInitialize, err)
	}

	var resp acp.InitializeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse initialize response: %w", err)
	}
	methods, err := protocol.ParseAuthMethods(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse auth methods: %w", err)
	}

	c.mu.Lock()
	c.authMethods = methods
	c.mu.Unlock()

	res := &InitializeResult{
		ProtocolVersion: int(resp.ProtocolVersion),
		LoadSession:     resp.AgentCapabilities.LoadSession,
		AuthMethods:     methods,
	}
	if resp.AgentInfo != nil {
		res.AgentName = resp.AgentInfo.Name
		res.AgentVersion = resp.AgentInfo.Version
	}
	c.logger.Info("agent initialized",
		zap.Int("protocol_version", res.ProtocolVersion),
		zap.String("agent_name", res.AgentName),
		zap.Int("auth_methods", len(methods)))
	return res, nil
}

func (c *connection) newSession(ctx context.Context, cwd string) (string, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.newSessionLocked(ctx, cwd)
}

// ensureSession returns the current session, creating one on first use.
func (c *connection) ensureSession(ctx context.Context) (string, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if id := c.session(); id != "" {
		return id, nil
	}
	return c.newSessionLocked(ctx, "")
}

func (c *connection) newSessionLocked(ctx context.Context, cwd string) (string, error) {
	if cwd == "" {
		cwd = c.cfg.WorkDir
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", agenterr.InvalidWorkDir("", err)
		}
		cwd = wd
	}

	raw, err := c.call(ctx, jsonrpc.MethodSessionNew, acp.NewSessionRequest{
		Cwd:        cwd,
		McpServers: toACPMcpServers(c.adapter.opts.MCPServers),
	})
	if err != nil {
		return "", c.mapError(jsonrpc.MethodSessionNew, err)
	}
	var resp acp.NewSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to parse session/new response: %w", err)
	}
	sessionID := string(resp.SessionId)
	if sessionID == "" {
		return "", fmt.Errorf("agent returned an empty session id")
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.cwd = cwd
	c.mu.Unlock()

	c.logger.Info("session created", zap.String("session_id", sessionID), zap.String("cwd", cwd))
	c.adapter.events.publish(events.SessionCreated, ConnectionEvent{AgentID: c.agentID, SessionID: sessionID})
	return sessionID, nil
}

func (c *connection) authenticate(ctx context.Context, methodID string) error {
	_, err := c.call(ctx, jsonrpc.MethodAuthenticate, protocol.AuthenticateParams{MethodID: methodID})
	if err == nil {
		c.logger.Info("authenticated", zap.String("method_id", methodID))
		return nil
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return agenterr.AuthenticationFailed(methodID, failureOf(rpcErr))
	}
	return c.mapError(jsonrpc.MethodAuthenticate, err)
}

// prompt runs one turn. Benign failures end the turn normally. When the
// agent asks for authentication and offers exactly one method, the adapter
// authenticates and retries once; with several methods the operator has to
// choose.
func (c *connection) prompt(ctx context.Context, sessionID, text string) (*PromptResult, error) {
	req := acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
	}

	for attempt := 0; ; attempt++ {
		raw, err := c.call(ctx, jsonrpc.MethodSessionPrompt, req)
		if err == nil {
			var resp acp.PromptResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, fmt.Errorf("failed to parse prompt response: %w", err)
			}
			return &PromptResult{SessionID: sessionID, StopReason: string(resp.StopReason)}, nil
		}

		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			return nil, c.mapError(jsonrpc.MethodSessionPrompt, err)
		}
		f := failureOf(rpcErr)
		shape := agenterr.ClassifyShape(f)
		if shape.Benign() {
			c.logger.Debug("treating prompt error as end of turn",
				zap.String("shape", shape.String()),
				zap.String("message", f.Message))
			return &PromptResult{SessionID: sessionID, StopReason: string(acp.StopReasonEndTurn), Swallowed: true}, nil
		}

		methods := c.methods()
		if shape != agenterr.ShapeAuthRequired || attempt > 0 || len(methods) != 1 {
			return nil, agenterr.FromRPC(jsonrpc.MethodSessionPrompt, f)
		}
		c.logger.Info("agent requires authentication, retrying prompt",
			zap.String("method_id", methods[0].ID))
		if err := c.authenticate(ctx, methods[0].ID); err != nil {
			return nil, err
		}
	}
}

// cancel sends session/cancel for the current session, if any.
func (c *connection) cancel(ctx context.Context) error {
	sessionID := c.session()
	if sessionID == "" {
		return nil
	}
	_, span := tracing.StartCall(ctx, jsonrpc.MethodSessionCancel, c.agentID, sessionID)
	err := c.client.Notify(jsonrpc.MethodSessionCancel, acp.CancelNotification{SessionId: acp.SessionId(sessionID)})
	tracing.EndCall(span, err)
	if err != nil {
		return c.closedError(err)
	}
	return nil
}
