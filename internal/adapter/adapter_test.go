package adapter

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/echoagent"
	"github.com/kandev/acpadapter/internal/events"
	"github.com/kandev/acpadapter/internal/events/bus"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/permission"
	"github.com/kandev/acpadapter/internal/router"
	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
	"github.com/kandev/acpadapter/pkg/acp/protocol"
)

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

func newAdapter(opts Options) *Adapter {
	if opts.AgentID == "" {
		opts.AgentID = "echo"
	}
	l := launcher.New(launcher.Options{Mode: launcher.ModeDirect}, logger.NewNop())
	return New(opts, l, logger.NewNop())
}

// attachEcho connects a to an in-process echo agent and returns the agent's
// working directory.
func attachEcho(t *testing.T, a *Adapter, agentOpts echoagent.Options) string {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()
	go func() {
		_ = echoagent.Serve(context.Background(), toAgentR, fromAgentW, agentOpts, logger.NewNop())
		_ = fromAgentW.Close()
	}()

	workDir := t.TempDir()
	res, err := a.Attach(testContext(t), launcher.AgentProcessConfig{ID: "echo", WorkDir: workDir}, toAgentW, fromAgentR)
	require.NoError(t, err)
	require.NotNil(t, res)
	t.Cleanup(a.Disconnect)
	return workDir
}

func lastWithRole(msgs []router.Message, role router.Role) (router.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return msgs[i], true
		}
	}
	return router.Message{}, false
}

func lastAssistant(a *Adapter) string {
	msg, _ := lastWithRole(a.Messages(), router.RoleAssistant)
	return msg.Content
}

type promptResult struct {
	res *PromptResult
	err error
}

func promptAsync(a *Adapter, text string) <-chan promptResult {
	ch := make(chan promptResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		res, err := a.Prompt(ctx, text)
		ch <- promptResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan promptResult) promptResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(testTimeout):
		t.Fatal("prompt did not return")
		return promptResult{}
	}
}

func TestAdapter_InitializeReportsAgent(t *testing.T) {
	a := newAdapter(Options{})
	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()
	go func() {
		_ = echoagent.Serve(context.Background(), toAgentR, fromAgentW, echoagent.Options{
			AuthMethods: []protocol.AuthMethod{{ID: "token", Name: "Token"}},
		}, logger.NewNop())
		_ = fromAgentW.Close()
	}()

	res, err := a.Attach(testContext(t), launcher.AgentProcessConfig{ID: "echo"}, toAgentW, fromAgentR)
	require.NoError(t, err)
	defer a.Disconnect()

	assert.Equal(t, "echo-agent", res.AgentName)
	assert.Equal(t, 1, res.ProtocolVersion)
	require.Len(t, res.AuthMethods, 1)
	assert.Equal(t, "token", res.AuthMethods[0].ID)

	status := a.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, "echo", status.AgentID)
	assert.Empty(t, status.SessionID)
}

func TestAdapter_PromptCreatesSessionAndEchoes(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	res, err := a.Prompt(testContext(t), "hello there world")
	require.NoError(t, err)
	assert.Equal(t, "end_turn", res.StopReason)
	assert.False(t, res.Swallowed)
	assert.Equal(t, res.SessionID, a.Status().SessionID)

	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, router.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there world", msgs[0].Content)
	assert.Equal(t, router.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Echo: hello there world", msgs[1].Content)

	cmds := a.AvailableCommands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "think", cmds[0].Name)

	// the second turn reuses the session
	res2, err := a.Prompt(testContext(t), "again")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, res2.SessionID)
}

func TestAdapter_ExplicitNewSession(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	first, err := a.NewSession(testContext(t), "")
	require.NoError(t, err)
	second, err := a.NewSession(testContext(t), t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	res, err := a.Prompt(testContext(t), "hi")
	require.NoError(t, err)
	assert.Equal(t, second, res.SessionID)
}

func TestAdapter_NotConnected(t *testing.T) {
	a := newAdapter(Options{})
	ctx := testContext(t)

	_, err := a.Prompt(ctx, "hi")
	assert.True(t, agenterr.Is(err, agenterr.KindConnection))
	assert.Equal(t, "Not Connected", agenterr.ToDisplay(err).Title)

	_, err = a.NewSession(ctx, "")
	assert.True(t, agenterr.Is(err, agenterr.KindConnection))
	assert.True(t, agenterr.Is(a.Cancel(ctx), agenterr.KindConnection))
	assert.True(t, agenterr.Is(a.Authenticate(ctx, "token"), agenterr.KindConnection))

	a.Disconnect()
	a.Disconnect()
	assert.False(t, a.Status().Connected)
}

func TestAdapter_ReasoningAndPlan(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	_, err := a.Prompt(testContext(t), "/think")
	require.NoError(t, err)
	reasoning, ok := lastWithRole(a.Messages(), router.RoleReasoning)
	require.True(t, ok)
	assert.Equal(t, "Considering the request.\nDrafting a reply.", reasoning.Content)
	assert.Equal(t, "Done thinking.", lastAssistant(a))

	_, err = a.Prompt(testContext(t), "/plan")
	require.NoError(t, err)
	msgs := a.Messages()
	last := msgs[len(msgs)-1]
	require.Len(t, last.Plan, 2)
	assert.Equal(t, "Write the fix", last.Plan[1].Content)
	assert.Equal(t, "in_progress", last.Plan[1].Status)
}

func TestAdapter_ToolCallLifecycle(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	_, err := a.Prompt(testContext(t), "/tool")
	require.NoError(t, err)

	msg, ok := lastWithRole(a.Messages(), router.RoleToolCall)
	require.True(t, ok)
	require.NotNil(t, msg.ToolCall)
	assert.Equal(t, "Edit README.md", msg.ToolCall.Title)
	assert.Equal(t, "edit", msg.ToolCall.Kind)
	assert.Equal(t, "completed", msg.ToolCall.Status)

	var diffs []router.ToolContent
	for _, c := range msg.ToolCall.Content {
		if c.Type == router.ContentTypeDiff {
			diffs = append(diffs, c)
		}
	}
	require.Len(t, diffs, 1)
	assert.Equal(t, "# final\n", diffs[0].NewText)

	count := 0
	for _, m := range a.Messages() {
		if m.Role == router.RoleToolCall {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestAdapter_PromptErrors(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})
	ctx := testContext(t)

	for _, text := range []string{"/empty", "/abort"} {
		res, err := a.Prompt(ctx, text)
		require.NoError(t, err, text)
		assert.True(t, res.Swallowed, text)
		assert.Equal(t, "end_turn", res.StopReason, text)
	}

	_, err := a.Prompt(ctx, "/ratelimit")
	assert.True(t, agenterr.Is(err, agenterr.KindRateLimit))
	assert.Equal(t, "Rate Limited", agenterr.ToDisplay(err).Title)

	_, err = a.Prompt(ctx, "/fail boom")
	assert.True(t, agenterr.Is(err, agenterr.KindCommunication))
	assert.Contains(t, agenterr.ToDisplay(err).Message, "boom")
}

func TestAdapter_AuthRetryWithSingleMethod(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{
		RequireAuth: true,
		AuthMethods: []protocol.AuthMethod{{ID: "token", Name: "Token"}},
	})

	_, err := a.Prompt(testContext(t), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Echo: hi", lastAssistant(a))
}

func TestAdapter_AuthWithSeveralMethodsNeedsOperator(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{
		RequireAuth: true,
		AuthMethods: []protocol.AuthMethod{{ID: "token", Name: "Token"}, {ID: "oauth", Name: "OAuth"}},
	})
	ctx := testContext(t)

	_, err := a.Prompt(ctx, "hi")
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindAuthentication))
	assert.Equal(t, "Authentication Required", agenterr.ToDisplay(err).Title)
	assert.Len(t, a.Status().AuthMethods, 2)

	require.NoError(t, a.Authenticate(ctx, "oauth"))
	_, err = a.Prompt(ctx, "hi")
	require.NoError(t, err)
}

func TestAdapter_AuthRetryRejected(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{
		RequireAuth: true,
		RejectAuth:  true,
		AuthMethods: []protocol.AuthMethod{{ID: "token", Name: "Token"}},
	})

	_, err := a.Prompt(testContext(t), "hi")
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindAuthentication))
	assert.Equal(t, "Authentication Failed", agenterr.ToDisplay(err).Title)
}

func TestAdapter_PermissionResolvedByOperator(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	done := promptAsync(a, "/permission")
	require.Eventually(t, func() bool { return len(a.Permissions()) == 1 }, testTimeout, 10*time.Millisecond)

	req := a.Permissions()[0]
	assert.Equal(t, permission.StateActive, req.State)
	assert.Equal(t, "Run the tests", req.Title)
	require.Len(t, req.Options, 3)
	assert.Equal(t, permission.KindAllowAlways, req.Options[1].Kind)

	assert.Error(t, a.RespondToPermission(req.ID, "no-such-option"))
	require.NoError(t, a.RespondToPermission(req.ID, "always"))
	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "permission: always", lastAssistant(a))
	assert.Empty(t, a.Permissions())

	// resolving again is a no-op
	assert.NoError(t, a.RespondToPermission(req.ID, "always"))
}

func TestAdapter_PermissionAutoApprove(t *testing.T) {
	a := newAdapter(Options{AutoApprove: true})
	attachEcho(t, a, echoagent.Options{})

	_, err := a.Prompt(testContext(t), "/permission")
	require.NoError(t, err)
	assert.Equal(t, "permission: allow", lastAssistant(a))
}

func TestAdapter_CancelEndsTurnAndPermissions(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	done := promptAsync(a, "/permission")
	require.Eventually(t, func() bool { return len(a.Permissions()) == 1 }, testTimeout, 10*time.Millisecond)

	require.NoError(t, a.Cancel(testContext(t)))
	assert.Empty(t, a.Permissions())

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "cancelled", r.res.StopReason)

	// cancelling with nothing pending is fine
	require.NoError(t, a.Cancel(testContext(t)))
}

func TestAdapter_CancelHangingTurn(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})

	done := promptAsync(a, "/hang")
	require.Eventually(t, func() bool { return lastAssistant(a) == "Waiting for cancel." }, testTimeout, 10*time.Millisecond)

	require.NoError(t, a.Cancel(testContext(t)))
	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "cancelled", r.res.StopReason)
}

func TestAdapter_ReadAndWriteFiles(t *testing.T) {
	a := newAdapter(Options{FSReadEnabled: true, FSWriteEnabled: true})
	workDir := attachEcho(t, a, echoagent.Options{})
	ctx := testContext(t)

	target := filepath.Join(workDir, "sub", "out.txt")
	_, err := a.Prompt(ctx, "/write "+target+" hello")
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "notes.txt"), []byte("a\nb\nc"), 0o600))
	_, err = a.Prompt(ctx, "/read notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "read: a\nb\nc", lastAssistant(a))

	_, err = a.Prompt(ctx, "/read missing.txt")
	require.NoError(t, err)
	assert.Contains(t, lastAssistant(a), "read failed")
}

func TestAdapter_FilesDisabled(t *testing.T) {
	a := newAdapter(Options{})
	workDir := attachEcho(t, a, echoagent.Options{})
	ctx := testContext(t)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "notes.txt"), []byte("secret"), 0o600))
	_, err := a.Prompt(ctx, "/read notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "read: ", lastAssistant(a))

	target := filepath.Join(workDir, "out.txt")
	_, err = a.Prompt(ctx, "/write "+target+" hello")
	require.NoError(t, err)
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestLineWindow(t *testing.T) {
	ptr := func(i int) *int { return &i }
	content := "one\ntwo\nthree\nfour"
	assert.Equal(t, content, lineWindow(content, nil, nil))
	assert.Equal(t, "two\nthree", lineWindow(content, ptr(2), ptr(2)))
	assert.Equal(t, "three\nfour", lineWindow(content, ptr(3), nil))
	assert.Equal(t, "one", lineWindow(content, nil, ptr(1)))
	assert.Equal(t, "", lineWindow(content, ptr(10), nil))
}

type recordingObserver struct {
	mu       sync.Mutex
	appended []router.Message
}

func (o *recordingObserver) MessageAppended(msg router.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appended = append(o.appended, msg)
}

func (o *recordingObserver) MessageUpdated(router.Message) {}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.appended)
}

func TestAdapter_PublishesEvents(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.NewNop())
	defer b.Close()

	var mu sync.Mutex
	var seen []string
	_, err := b.Subscribe(events.AgentWildcard("echo"), func(_ context.Context, e *bus.Event) error {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	obs := &recordingObserver{}
	a := newAdapter(Options{Bus: b, Observers: []router.Observer{obs}})
	attachEcho(t, a, echoagent.Options{})
	_, err = a.Prompt(testContext(t), "hi")
	require.NoError(t, err)
	a.Disconnect()

	want := []string{
		events.AgentConnected,
		events.SessionCreated,
		events.CommandsUpdated,
		events.PromptStarted,
		events.MessageAppended,
		events.PromptCompleted,
		events.AgentDisconnected,
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, w := range want {
			if !contains(seen, w) {
				return false
			}
		}
		return true
	}, testTimeout, 10*time.Millisecond)
	assert.Equal(t, 2, obs.count())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestAdapter_ReattachResetsState(t *testing.T) {
	a := newAdapter(Options{})
	attachEcho(t, a, echoagent.Options{})
	_, err := a.Prompt(testContext(t), "first")
	require.NoError(t, err)
	firstSession := a.Status().SessionID

	attachEcho(t, a, echoagent.Options{})
	assert.Empty(t, a.Messages())
	assert.Empty(t, a.Status().SessionID)

	res, err := a.Prompt(testContext(t), "second")
	require.NoError(t, err)
	assert.NotEmpty(t, firstSession)
	assert.Len(t, a.Messages(), 2)
	assert.NotEmpty(t, res.SessionID)
}

// scriptedAgent answers the handshake and then runs onPrompt for every prompt.
type scriptedAgent struct {
	client   *jsonrpc.Client
	out      io.WriteCloser
	onPrompt func(s *scriptedAgent, id json.RawMessage)
}

func (s *scriptedAgent) HandleNotification(string, json.RawMessage) {}

func (s *scriptedAgent) HandleRequest(id json.RawMessage, method string, _ json.RawMessage) {
	switch method {
	case jsonrpc.MethodInitialize:
		_ = s.client.Respond(id, map[string]any{"protocolVersion": 1})
	case jsonrpc.MethodSessionNew:
		_ = s.client.Respond(id, map[string]any{"sessionId": "scripted-1"})
	case jsonrpc.MethodSessionPrompt:
		s.onPrompt(s, id)
	}
}

func attachScripted(t *testing.T, a *Adapter, onPrompt func(s *scriptedAgent, id json.RawMessage)) {
	t.Helper()
	toAgentR, toAgentW := io.Pipe()
	fromAgentR, fromAgentW := io.Pipe()
	s := &scriptedAgent{out: fromAgentW, onPrompt: onPrompt}
	s.client = jsonrpc.NewClient(fromAgentW, toAgentR, s, logger.NewNop())
	s.client.Start()

	_, err := a.Attach(testContext(t), launcher.AgentProcessConfig{ID: "echo", WorkDir: t.TempDir()}, toAgentW, fromAgentR)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Disconnect()
		_ = fromAgentW.Close()
	})
}

func TestAdapter_ConnectionClosedMidPrompt(t *testing.T) {
	b := bus.NewMemoryEventBus(logger.NewNop())
	defer b.Close()
	exited := make(chan struct{}, 1)
	_, err := b.Subscribe(events.Subject("echo", events.AgentExited), func(context.Context, *bus.Event) error {
		exited <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	a := newAdapter(Options{Bus: b})
	attachScripted(t, a, func(s *scriptedAgent, _ json.RawMessage) {
		_ = s.out.Close()
	})

	_, err = a.Prompt(testContext(t), "hi")
	require.Error(t, err)
	assert.True(t, agenterr.Is(err, agenterr.KindConnection))
	assert.Equal(t, "Connection Closed", agenterr.ToDisplay(err).Title)

	select {
	case <-exited:
	case <-time.After(testTimeout):
		t.Fatal("agent.exited was not published")
	}
	assert.Eventually(t, func() bool { return !a.Status().Connected }, testTimeout, 10*time.Millisecond)
}

func TestAdapter_MalformedUpdateIsDropped(t *testing.T) {
	a := newAdapter(Options{})
	attachScripted(t, a, func(s *scriptedAgent, id json.RawMessage) {
		_ = s.client.Notify(jsonrpc.NotificationSessionUpdate, map[string]any{
			"sessionId": "scripted-1",
			"update":    map[string]any{"sessionUpdate": "agent_message_chunk", "content": "not-a-block"},
		})
		_ = s.client.Notify(jsonrpc.NotificationSessionUpdate, map[string]any{
			"sessionId": "scripted-1",
			"update":    map[string]any{"sessionUpdate": "tool_call_update", "toolCallId": "ghost", "status": "completed"},
		})
		_ = s.client.Notify(jsonrpc.NotificationSessionUpdate, map[string]any{
			"sessionId": "scripted-1",
			"update": map[string]any{
				"sessionUpdate": "agent_message_chunk",
				"content":       map[string]any{"type": "text", "text": "still here"},
			},
		})
		_ = s.client.Respond(id, map[string]any{"stopReason": "end_turn"})
	})

	_, err := a.Prompt(testContext(t), "hi")
	require.NoError(t, err)
	msgs := a.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "still here", msgs[1].Content)
}
