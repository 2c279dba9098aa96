package adapter

import (
	"context"
	"encoding/json"
	"errors"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/permission"
	"github.com/kandev/acpadapter/internal/terminal"
	"github.com/kandev/acpadapter/internal/tracing"
	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
)

// updateHeader is the part of a session/update read for tracing.
type updateHeader struct {
	SessionID string `json:"sessionId"`
	Update    struct {
		SessionUpdate string `json:"sessionUpdate"`
	} `json:"update"`
}

// HandleNotification is called from the read loop, so updates reach the
// router in arrival order.
func (c *connection) HandleNotification(method string, params json.RawMessage) {
	switch method {
	case jsonrpc.NotificationSessionUpdate:
		var h updateHeader
		if json.Unmarshal(params, &h) == nil && h.Update.SessionUpdate != "" {
			tracing.RecordUpdate(c.ctx, h.Update.SessionUpdate, h.SessionID)
		}
		c.adapter.router.Route(params)
	default:
		c.logger.Debug("ignoring notification", zap.String("method", method))
	}
}

// HandleRequest answers the agent's requests. Anything that waits on the
// operator or a process answers from its own goroutine.
func (c *connection) HandleRequest(id json.RawMessage, method string, params json.RawMessage) {
	opts := c.adapter.opts
	switch method {
	case jsonrpc.MethodRequestPermission:
		c.handlePermission(id, params)
		return
	case jsonrpc.MethodReadTextFile:
		c.handleReadTextFile(id, params)
		return
	case jsonrpc.MethodWriteTextFile:
		c.handleWriteTextFile(id, params)
		return
	}

	if !opts.TerminalsEnabled {
		c.respondError(id, jsonrpc.NewError(jsonrpc.MethodNotFound, "method not found: %s", method))
		return
	}
	switch method {
	case jsonrpc.MethodTerminalCreate:
		c.handleTerminalCreate(id, params)
	case jsonrpc.MethodTerminalOutput:
		c.handleTerminalOutput(id, params)
	case jsonrpc.MethodTerminalWaitForExit:
		go c.handleTerminalWaitForExit(id, params)
	case jsonrpc.MethodTerminalKill:
		c.handleTerminalKill(id, params)
	case jsonrpc.MethodTerminalRelease:
		c.handleTerminalRelease(id, params)
	default:
		c.logger.Warn("unhandled agent request", zap.String("method", method))
		c.respondError(id, jsonrpc.NewError(jsonrpc.MethodNotFound, "method not found: %s", method))
	}
}

func (c *connection) respond(id json.RawMessage, result any) {
	if err := c.client.Respond(id, result); err != nil {
		c.logger.Debug("failed to send response", zap.Error(err))
	}
}

func (c *connection) respondError(id json.RawMessage, rpcErr *jsonrpc.Error) {
	if err := c.client.RespondError(id, rpcErr); err != nil {
		c.logger.Debug("failed to send error response", zap.Error(err))
	}
}

// rpcError maps a local failure to the error sent back to the agent.
func rpcError(err error) *jsonrpc.Error {
	code := jsonrpc.InternalError
	if agenterr.Is(err, agenterr.KindNotFound) {
		code = jsonrpc.InvalidParams
	}
	rpcErr := jsonrpc.NewError(code, "%s", err.Error())
	var ae *agenterr.Error
	if errors.As(err, &ae) {
		if data, mErr := json.Marshal(ae.Display()); mErr == nil {
			rpcErr.Data = data
		}
	}
	return rpcErr
}

func decodeParams(params json.RawMessage, v any) *jsonrpc.Error {
	if err := json.Unmarshal(params, v); err != nil {
		return jsonrpc.NewError(jsonrpc.InvalidParams, "invalid params: %v", err)
	}
	return nil
}

// handlePermission queues the request synchronously so arrival order is the
// queue order, then answers once the operator (or auto-approve) decides.
func (c *connection) handlePermission(id json.RawMessage, params json.RawMessage) {
	var req acp.RequestPermissionRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}

	options := make([]permission.Option, len(req.Options))
	for i, opt := range req.Options {
		options[i] = permission.Option{
			ID:   string(opt.OptionId),
			Name: opt.Name,
			Kind: permission.OptionKind(opt.Kind),
		}
	}
	title := ""
	if req.ToolCall.Title != nil {
		title = *req.ToolCall.Title
	}

	pending := c.adapter.perms.Request(permission.Input{
		SessionID:  string(req.SessionId),
		ToolCallID: string(req.ToolCall.ToolCallId),
		Title:      title,
		Options:    options,
	})
	c.logger.Info("permission requested",
		zap.String("request_id", pending.ID),
		zap.String("tool_call_id", string(req.ToolCall.ToolCallId)),
		zap.Int("num_options", len(options)))

	go func() {
		outcome := <-pending.Done()
		c.respond(id, permissionResponse(outcome))
	}()
}

func permissionResponse(o permission.Outcome) acp.RequestPermissionResponse {
	if o.Cancelled {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{
				Cancelled: &acp.RequestPermissionOutcomeCancelled{},
			},
		}
	}
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{
				OptionId: acp.PermissionOptionId(o.OptionID),
			},
		},
	}
}

func (c *connection) handleTerminalCreate(id json.RawMessage, params json.RawMessage) {
	var req acp.CreateTerminalRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	_, span := tracing.StartInbound(c.ctx, jsonrpc.MethodTerminalCreate, c.agentID)

	spec := terminal.CreateSpec{
		SessionID:       string(req.SessionId),
		Command:         req.Command,
		Args:            req.Args,
		OutputByteLimit: req.OutputByteLimit,
	}
	if req.Cwd != nil {
		spec.Cwd = *req.Cwd
	}
	if spec.Cwd == "" {
		spec.Cwd = c.sessionCwd()
	}
	if len(req.Env) > 0 {
		spec.Env = make(map[string]string, len(req.Env))
		for _, e := range req.Env {
			spec.Env[e.Name] = e.Value
		}
	}

	terminalID, err := c.adapter.terms.Create(spec)
	tracing.EndCall(span, err)
	if err != nil {
		c.logger.Warn("failed to create terminal", zap.String("command", req.Command), zap.Error(err))
		c.respondError(id, rpcError(err))
		return
	}
	c.respond(id, acp.CreateTerminalResponse{TerminalId: terminalID})
}

// terminalRef is the common shape of the terminal/* requests that only name
// a terminal.
type terminalRef struct {
	SessionID  string `json:"sessionId"`
	TerminalID string `json:"terminalId"`
}

func (c *connection) handleTerminalOutput(id json.RawMessage, params json.RawMessage) {
	var ref terminalRef
	if rpcErr := decodeParams(params, &ref); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	out, err := c.adapter.terms.Output(ref.TerminalID)
	if err != nil {
		c.respondError(id, rpcError(err))
		return
	}
	resp := acp.TerminalOutputResponse{Output: out.Output, Truncated: out.Truncated}
	if out.ExitStatus != nil {
		resp.ExitStatus = &acp.TerminalExitStatus{
			ExitCode: out.ExitStatus.ExitCode,
			Signal:   out.ExitStatus.Signal,
		}
	}
	c.respond(id, resp)
}

func (c *connection) handleTerminalWaitForExit(id json.RawMessage, params json.RawMessage) {
	var ref terminalRef
	if rpcErr := decodeParams(params, &ref); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	status, err := c.adapter.terms.WaitForExit(c.ctx, ref.TerminalID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.respondError(id, rpcError(err))
		return
	}
	c.respond(id, acp.WaitForTerminalExitResponse{ExitCode: status.ExitCode, Signal: status.Signal})
}

func (c *connection) handleTerminalKill(id json.RawMessage, params json.RawMessage) {
	var ref terminalRef
	if rpcErr := decodeParams(params, &ref); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	if err := c.adapter.terms.Kill(ref.TerminalID); err != nil {
		c.respondError(id, rpcError(err))
		return
	}
	c.respond(id, acp.KillTerminalCommandResponse{})
}

func (c *connection) handleTerminalRelease(id json.RawMessage, params json.RawMessage) {
	var ref terminalRef
	if rpcErr := decodeParams(params, &ref); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	if err := c.adapter.terms.Release(ref.TerminalID); err != nil {
		c.respondError(id, rpcError(err))
		return
	}
	c.respond(id, acp.ReleaseTerminalResponse{})
}
