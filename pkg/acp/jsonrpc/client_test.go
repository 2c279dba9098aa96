package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler records inbound traffic in arrival order.
type recordingHandler struct {
	mu            sync.Mutex
	notifications []string
	requests      []string
	onRequest     func(id json.RawMessage, method string)
}

func (h *recordingHandler) HandleNotification(method string, params json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, method+" "+string(params))
}

func (h *recordingHandler) HandleRequest(id json.RawMessage, method string, params json.RawMessage) {
	h.mu.Lock()
	h.requests = append(h.requests, method)
	cb := h.onRequest
	h.mu.Unlock()
	if cb != nil {
		cb(id, method)
	}
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notifications...)
}

// fakePeer is the agent side of an in-memory connection.
type fakePeer struct {
	out   *io.PipeWriter // peer -> client
	lines chan []byte    // client -> peer
}

func (p *fakePeer) write(t *testing.T, line string) {
	t.Helper()
	_, err := p.out.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (p *fakePeer) next(t *testing.T) Request {
	t.Helper()
	select {
	case line := <-p.lines:
		var req Request
		require.NoError(t, json.Unmarshal(line, &req))
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return Request{}
	}
}

func newTestPair(t *testing.T, h Handler) (*Client, *fakePeer) {
	t.Helper()
	clientIn, peerOut := io.Pipe()
	peerIn, clientOut := io.Pipe()

	peer := &fakePeer{out: peerOut, lines: make(chan []byte, 64)}
	go func() {
		scanner := bufio.NewScanner(peerIn)
		for scanner.Scan() {
			peer.lines <- append([]byte(nil), scanner.Bytes()...)
		}
	}()

	c := NewClient(clientOut, clientIn, h, logger.NewNop())
	c.Start()
	t.Cleanup(func() {
		_ = peerOut.Close()
		_ = clientOut.Close()
		c.Close()
	})
	return c, peer
}

func TestClient_CallRoundTrip(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	type result struct {
		SessionID string `json:"sessionId"`
	}
	done := make(chan json.RawMessage, 1)
	go func() {
		res, err := c.Call(context.Background(), MethodSessionNew, map[string]string{"cwd": "/tmp/proj"})
		assert.NoError(t, err)
		done <- res
	}()

	req := peer.next(t)
	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, MethodSessionNew, req.Method)
	assert.JSONEq(t, `{"cwd":"/tmp/proj"}`, string(req.Params))

	peer.write(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"sessionId":"S1"}}`, req.ID))

	raw := <-done
	var r result
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "S1", r.SessionID)
}

func TestClient_CallIDsAreUnique(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	for i := 0; i < 3; i++ {
		go func() { _, _ = c.Call(context.Background(), "noop", nil) }()
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		req := peer.next(t)
		assert.False(t, seen[string(req.ID)], "duplicate id %s", req.ID)
		seen[string(req.ID)] = true
	}
}

func TestClient_CallErrorResponse(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), MethodSessionPrompt, nil)
		errCh <- err
	}()

	req := peer.next(t)
	peer.write(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":-32603,"message":"boom","data":{"details":"x"}}}`, req.ID))

	err := <-errCh
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, InternalError, rpcErr.Code)
	assert.Equal(t, "boom", rpcErr.Message)
	assert.JSONEq(t, `{"details":"x"}`, string(rpcErr.Data))
}

func TestClient_FloatIDResponse(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "noop", nil)
		done <- err
	}()
	req := peer.next(t)
	peer.write(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%s.0,"result":null}`, req.ID))
	require.NoError(t, <-done)
}

func TestClient_EOFRejectsPendingCalls(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Call(context.Background(), MethodSessionPrompt, nil)
			errs <- err
		}()
	}
	peer.next(t)
	peer.next(t)

	require.NoError(t, peer.out.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrConnectionClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("pending call not rejected")
		}
	}

	<-c.Done()
	_, err := c.Call(context.Background(), "noop", nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, c.Notify("noop", nil), ErrConnectionClosed)
}

func TestClient_CallHonorsContext(t *testing.T) {
	c, peer := newTestPair(t, &recordingHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "slow", nil)
		errCh <- err
	}()
	peer.next(t)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestClient_NotificationsDispatchInOrder(t *testing.T) {
	h := &recordingHandler{}
	_, peer := newTestPair(t, h)

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_, _ = peer.out.Write([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"session/update","params":{"seq":%d}}`+"\n", i)))
		}
	}()

	require.Eventually(t, func() bool { return len(h.snapshot()) == n }, 2*time.Second, 5*time.Millisecond)
	for i, got := range h.snapshot() {
		assert.Equal(t, fmt.Sprintf(`session/update {"seq":%d}`, i), got)
	}
}

func TestClient_PartialFramesAreBuffered(t *testing.T) {
	h := &recordingHandler{}
	_, peer := newTestPair(t, h)

	_, err := peer.out.Write([]byte(`{"jsonrpc":"2.0","method":"session/up`))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.snapshot())

	_, err = peer.out.Write([]byte(`date","params":{"a":1}}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, `session/update {"a":1}`, h.snapshot()[0])
}

func TestClient_MalformedLineIsSkipped(t *testing.T) {
	h := &recordingHandler{}
	_, peer := newTestPair(t, h)

	peer.write(t, `this is not json`)
	peer.write(t, `{"jsonrpc":"2.0","method":"after","params":{}}`)
	require.Eventually(t, func() bool { return len(h.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "after {}", h.snapshot()[0])
}

func TestClient_InboundRequestRespond(t *testing.T) {
	h := &recordingHandler{}
	c, peer := newTestPair(t, h)
	h.onRequest = func(id json.RawMessage, method string) {
		go func() { _ = c.Respond(id, map[string]string{"terminalId": "t1"}) }()
	}

	peer.write(t, `{"jsonrpc":"2.0","id":"abc","method":"terminal/create","params":{}}`)

	line := <-peer.lines
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.Equal(t, `"abc"`, string(resp.ID))
	assert.JSONEq(t, `{"terminalId":"t1"}`, string(resp.Result))
}

func TestClient_RequestWithoutHandler(t *testing.T) {
	_, peer := newTestPair(t, nil)

	peer.write(t, `{"jsonrpc":"2.0","id":7,"method":"fs/read_text_file","params":{}}`)

	line := <-peer.lines
	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
	assert.Equal(t, "7", string(resp.ID))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"12", 12, true},
		{"12.0", 12, true},
		{`"12"`, 12, true},
		{"12.5", 0, false},
		{`"abc"`, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseID(json.RawMessage(tt.raw))
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
