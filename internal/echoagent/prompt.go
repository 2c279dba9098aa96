package echoagent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
)

type stopReason struct {
	StopReason acp.StopReason `json:"stopReason"`
}

func (a *Agent) prompt(ctx context.Context, id json.RawMessage, req acp.PromptRequest) {
	sessionID := string(req.SessionId)

	a.mu.Lock()
	cwd, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		_ = a.client.RespondError(id, jsonrpc.NewError(jsonrpc.InvalidParams, "unknown session %q", sessionID))
		return
	}
	if a.opts.RequireAuth && !a.authenticated.Load() {
		_ = a.client.RespondError(id, jsonrpc.NewError(agenterr.CodeAuthRequired, "Authentication required"))
		return
	}

	text := strings.TrimSpace(promptText(req.Prompt))
	command, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	var rpcErr *jsonrpc.Error
	reason := acp.StopReasonEndTurn
	switch command {
	case "/fail":
		rpcErr = jsonrpc.NewError(jsonrpc.InternalError, "the model failed: %s", rest)
	case "/empty":
		rpcErr = jsonrpc.NewError(jsonrpc.InternalError, "Internal error")
		rpcErr.Data = json.RawMessage(`{"details":"Empty response text from model"}`)
	case "/abort":
		rpcErr = jsonrpc.NewError(jsonrpc.InternalError, "User aborted the request.")
	case "/ratelimit":
		rpcErr = jsonrpc.NewError(agenterr.CodeRateLimited, "Too many requests")
	case "/think":
		for _, line := range []string{"Considering the request.", "Drafting a reply."} {
			a.notify(sessionID, acp.UpdateAgentThoughtText(line))
		}
		a.sayWords(sessionID, "Done thinking.")
	case "/tool":
		a.toolCall(sessionID, cwd)
	case "/plan":
		a.notifyRaw(sessionID, map[string]any{
			"sessionUpdate": "plan",
			"entries": []map[string]string{
				{"content": "Read the code", "priority": "high", "status": "completed"},
				{"content": "Write the fix", "priority": "medium", "status": "in_progress"},
			},
		})
	case "/permission":
		a.say(sessionID, a.askPermission(ctx, sessionID))
	case "/terminal":
		a.say(sessionID, a.runTerminal(ctx, sessionID, cwd, rest))
	case "/read":
		a.say(sessionID, a.readFile(ctx, sessionID, rest))
	case "/write":
		path, content, _ := strings.Cut(rest, " ")
		a.say(sessionID, a.writeFile(ctx, sessionID, path, content))
	case "/hang":
		a.say(sessionID, "Waiting for cancel.")
		<-ctx.Done()
		reason = acp.StopReasonCancelled
	default:
		a.sayWords(sessionID, "Echo: "+text)
	}

	if ctx.Err() != nil {
		reason = acp.StopReasonCancelled
	}
	if rpcErr != nil {
		_ = a.client.RespondError(id, rpcErr)
		return
	}
	a.respond(id, stopReason{StopReason: reason})
}

func (a *Agent) toolCall(sessionID, cwd string) {
	toolID := acp.ToolCallId(fmt.Sprintf("tool-%s-1", sessionID))
	path := filepath.Join(cwd, "README.md")
	a.notify(sessionID, acp.StartToolCall(toolID, "Edit README.md",
		acp.WithStartKind(acp.ToolKindEdit),
		acp.WithStartStatus(acp.ToolCallStatusPending),
	))
	a.notify(sessionID, acp.UpdateToolCall(toolID,
		acp.WithUpdateStatus(acp.ToolCallStatusInProgress),
		acp.WithUpdateContent([]acp.ToolCallContent{acp.ToolDiffContent(path, "# draft\n")}),
	))
	a.notify(sessionID, acp.UpdateToolCall(toolID,
		acp.WithUpdateStatus(acp.ToolCallStatusCompleted),
		acp.WithUpdateContent([]acp.ToolCallContent{
			acp.ToolContent(acp.TextBlock("updated README.md")),
			acp.ToolDiffContent(path, "# final\n"),
		}),
	))
}

func (a *Agent) askPermission(ctx context.Context, sessionID string) string {
	res, err := a.client.Call(ctx, jsonrpc.MethodRequestPermission, acp.RequestPermissionRequest{
		SessionId: acp.SessionId(sessionID),
		ToolCall: acp.ToolCallUpdate{
			ToolCallId: acp.ToolCallId("perm-" + sessionID),
			Title:      acp.Ptr("Run the tests"),
			Kind:       acp.Ptr(acp.ToolKindExecute),
		},
		Options: []acp.PermissionOption{
			{OptionId: "allow", Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
			{OptionId: "always", Name: "Always allow", Kind: acp.PermissionOptionKindAllowAlways},
			{OptionId: "reject", Name: "Reject", Kind: acp.PermissionOptionKindRejectOnce},
		},
	})
	if err != nil {
		return "permission failed: " + err.Error()
	}
	var outcome struct {
		Outcome struct {
			Outcome  string `json:"outcome"`
			OptionID string `json:"optionId"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(res, &outcome); err != nil {
		return "permission failed: " + err.Error()
	}
	if outcome.Outcome.Outcome == "cancelled" {
		return "permission: cancelled"
	}
	return "permission: " + outcome.Outcome.OptionID
}

func (a *Agent) runTerminal(ctx context.Context, sessionID, cwd, command string) string {
	if command == "" {
		command = "echo hello"
	}
	res, err := a.client.Call(ctx, jsonrpc.MethodTerminalCreate, acp.CreateTerminalRequest{
		SessionId: acp.SessionId(sessionID),
		Command:   command,
		Cwd:       acp.Ptr(cwd),
	})
	if err != nil {
		return "terminal failed: " + err.Error()
	}
	var created acp.CreateTerminalResponse
	if err := json.Unmarshal(res, &created); err != nil {
		return "terminal failed: " + err.Error()
	}
	ref := struct {
		SessionID  string `json:"sessionId"`
		TerminalID string `json:"terminalId"`
	}{sessionID, created.TerminalId}

	if _, err := a.client.Call(ctx, jsonrpc.MethodTerminalWaitForExit, ref); err != nil {
		return "terminal failed: " + err.Error()
	}
	res, err = a.client.Call(ctx, jsonrpc.MethodTerminalOutput, ref)
	if err != nil {
		return "terminal failed: " + err.Error()
	}
	var out acp.TerminalOutputResponse
	if err := json.Unmarshal(res, &out); err != nil {
		return "terminal failed: " + err.Error()
	}
	_, _ = a.client.Call(ctx, jsonrpc.MethodTerminalRelease, ref)

	code := "signal"
	if out.ExitStatus != nil && out.ExitStatus.ExitCode != nil {
		code = fmt.Sprint(*out.ExitStatus.ExitCode)
	}
	return fmt.Sprintf("terminal exited %s: %s", code, out.Output)
}

func (a *Agent) readFile(ctx context.Context, sessionID, path string) string {
	res, err := a.client.Call(ctx, jsonrpc.MethodReadTextFile, acp.ReadTextFileRequest{
		SessionId: acp.SessionId(sessionID),
		Path:      path,
	})
	if err != nil {
		return "read failed: " + err.Error()
	}
	var out acp.ReadTextFileResponse
	if err := json.Unmarshal(res, &out); err != nil {
		return "read failed: " + err.Error()
	}
	return "read: " + out.Content
}

func (a *Agent) writeFile(ctx context.Context, sessionID, path, content string) string {
	_, err := a.client.Call(ctx, jsonrpc.MethodWriteTextFile, acp.WriteTextFileRequest{
		SessionId: acp.SessionId(sessionID),
		Path:      path,
		Content:   content,
	})
	if err != nil {
		return "write failed: " + err.Error()
	}
	return "wrote " + path
}
