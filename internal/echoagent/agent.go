// Package echoagent is a small ACP agent used for local testing. It echoes
// prompts back as message chunks and drives the client-side features
// (permissions, terminals, files, plans, tool calls) through prompt commands
// such as "/permission" or "/terminal ls".
package echoagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

// Options tunes the agent's behavior.
type Options struct {
	// AuthMethods are advertised during initialize.
	AuthMethods []protocol.AuthMethod
	// RequireAuth makes prompts fail with "authentication required" until an
	// authenticate call with one of AuthMethods succeeds.
	RequireAuth bool
	// RejectAuth makes every authenticate call fail.
	RejectAuth bool
}

// Agent serves one client connection.
type Agent struct {
	opts   Options
	logger *logger.Logger
	client *jsonrpc.Client

	sessionSeq    atomic.Int64
	authenticated atomic.Bool

	mu       sync.Mutex
	sessions map[string]string // session id -> cwd
	cancels  map[string]context.CancelFunc
}

// Serve runs the agent over r/w until the client closes its end or ctx ends.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts Options, log *logger.Logger) error {
	a := &Agent{
		opts:     opts,
		logger:   log.WithFields(zap.String("component", "echo-agent")),
		sessions: make(map[string]string),
		cancels:  make(map[string]context.CancelFunc),
	}
	a.client = jsonrpc.NewClient(w, r, a, log)
	a.client.Start()

	select {
	case <-a.client.Done():
		return nil
	case <-ctx.Done():
		a.client.Close()
		return ctx.Err()
	}
}

func (a *Agent) HandleNotification(method string, params json.RawMessage) {
	if method != jsonrpc.MethodSessionCancel {
		return
	}
	var n acp.CancelNotification
	if err := json.Unmarshal(params, &n); err != nil {
		return
	}
	a.mu.Lock()
	cancel := a.cancels[string(n.SessionId)]
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Agent) HandleRequest(id json.RawMessage, method string, params json.RawMessage) {
	switch method {
	case jsonrpc.MethodInitialize:
		a.respond(id, map[string]any{
			"protocolVersion":   acp.ProtocolVersionNumber,
			"agentCapabilities": map[string]any{"loadSession": false},
			"agentInfo":         map[string]any{"name": "echo-agent", "version": protocol.ClientVersion},
			"authMethods":       a.authMethods(),
		})
	case jsonrpc.MethodAuthenticate:
		a.authenticate(id, params)
	case jsonrpc.MethodSessionNew:
		a.newSession(id, params)
	case jsonrpc.MethodSessionPrompt:
		var req acp.PromptRequest
		if err := json.Unmarshal(params, &req); err != nil {
			_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.InvalidParams, "invalid params: %v", err))
			return
		}
		// The turn is registered before the read loop moves on, so a cancel
		// that follows the prompt always finds it. The turn itself runs off
		// the read loop so it can call back into the client.
		ctx, done := a.beginTurn(string(req.SessionId))
		go func() {
			defer done()
			a.prompt(ctx, id, req)
		}()
	default:
		_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.MethodNotFound, "method not found: %s", method))
	}
}

func (a *Agent) beginTurn(sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if prev := a.cancels[sessionID]; prev != nil {
		prev()
	}
	a.cancels[sessionID] = cancel
	a.mu.Unlock()
	return ctx, func() {
		cancel()
		a.mu.Lock()
		delete(a.cancels, sessionID)
		a.mu.Unlock()
	}
}

func (a *Agent) authMethods() []protocol.AuthMethod {
	if a.opts.AuthMethods == nil {
		return []protocol.AuthMethod{}
	}
	return a.opts.AuthMethods
}

func (a *Agent) respond(id json.RawMessage, result any) {
	if err := a.client.Respond(id, result); err != nil {
		a.logger.Debug("respond failed", zap.Error(err))
	}
}

func (a *Agent) authenticate(id json.RawMessage, params json.RawMessage) {
	var p protocol.AuthenticateParams
	if err := json.Unmarshal(params, &p); err != nil {
		_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.InvalidParams, "invalid params: %v", err))
		return
	}
	if a.opts.RejectAuth {
		_ = a.client.RespondError(id, jsonrpc.NewError(-32001, "invalid credentials for %s", p.MethodID))
		return
	}
	for _, m := range a.opts.AuthMethods {
		if m.ID == p.MethodID {
			a.authenticated.Store(true)
			a.respond(id, map[string]any{})
			return
		}
	}
	_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.InvalidParams, "unknown auth method %q", p.MethodID))
}

func (a *Agent) newSession(id json.RawMessage, params json.RawMessage) {
	var req acp.NewSessionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.InvalidParams, "invalid params: %v", err))
		return
	}
	sessionID := fmt.Sprintf("echo-session-%d", a.sessionSeq.Add(1))
	a.mu.Lock()
	a.sessions[sessionID] = req.Cwd
	a.mu.Unlock()

	a.respond(id, acp.NewSessionResponse{SessionId: acp.SessionId(sessionID)})
	a.notify(sessionID, acp.SessionUpdate{
		AvailableCommandsUpdate: &acp.SessionAvailableCommandsUpdate{AvailableCommands: commands()},
	})
}

func commands() []acp.AvailableCommand {
	withHint := func(name, desc, hint string) acp.AvailableCommand {
		return acp.AvailableCommand{
			Name:        name,
			Description: desc,
			Input: &acp.AvailableCommandInput{
				Unstructured: &acp.UnstructuredCommandInput{Hint: hint},
			},
		}
	}
	return []acp.AvailableCommand{
		{Name: "think", Description: "Stream reasoning before answering"},
		{Name: "tool", Description: "Report a file edit tool call"},
		{Name: "plan", Description: "Publish a plan"},
		{Name: "permission", Description: "Ask for permission"},
		withHint("terminal", "Run a command in a client terminal", "command line"),
		withHint("read", "Read a file through the client", "absolute path"),
		withHint("write", "Write a file through the client", "path text"),
		{Name: "hang", Description: "Wait until cancelled"},
	}
}

func (a *Agent) notify(sessionID string, update acp.SessionUpdate) {
	err := a.client.Notify(jsonrpc.NotificationSessionUpdate, acp.SessionNotification{
		SessionId: acp.SessionId(sessionID),
		Update:    update,
	})
	if err != nil {
		a.logger.Debug("notify failed", zap.Error(err))
	}
}

// notifyRaw sends an update the SDK has no helper for.
func (a *Agent) notifyRaw(sessionID string, update map[string]any) {
	err := a.client.Notify(jsonrpc.NotificationSessionUpdate, map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
	if err != nil {
		a.logger.Debug("notify failed", zap.Error(err))
	}
}

func (a *Agent) say(sessionID, text string) {
	a.notify(sessionID, acp.UpdateAgentMessageText(text))
}

// sayWords streams text as one chunk per word, keeping the separators.
func (a *Agent) sayWords(sessionID, text string) {
	for _, chunk := range splitKeepSpaces(text) {
		a.say(sessionID, chunk)
	}
}

func splitKeepSpaces(text string) []string {
	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func promptText(blocks []acp.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Text != nil {
			b.WriteString(block.Text.Text)
		}
	}
	return b.String()
}
