package jsonrpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
)

// ErrConnectionClosed is returned by every pending and subsequent Call once the
// peer's output stream has ended or Close was called.
var ErrConnectionClosed = errors.New("jsonrpc: connection closed")

// Handler receives inbound traffic. Both methods are invoked from the single
// read loop, strictly in arrival order. HandleRequest must not block for long:
// handlers that need to wait answer later through Client.Respond.
type Handler interface {
	HandleNotification(method string, params json.RawMessage)
	HandleRequest(id json.RawMessage, method string, params json.RawMessage)
}

// Client is a duplex JSON-RPC connection over a pair of byte streams.
type Client struct {
	w       io.Writer
	r       io.Reader
	writeMu sync.Mutex

	requestID atomic.Int64
	pending   map[int64]chan *Response
	mu        sync.Mutex
	closed    bool
	closeErr  error

	handler Handler
	logger  *logger.Logger
	done    chan struct{}
}

// NewClient creates a client writing requests to w and reading from r. The
// handler is fixed for the lifetime of the client.
func NewClient(w io.Writer, r io.Reader, handler Handler, log *logger.Logger) *Client {
	return &Client{
		w:       w,
		r:       r,
		pending: make(map[int64]chan *Response),
		handler: handler,
		logger:  log.WithFields(zap.String("component", "jsonrpc-client")),
		done:    make(chan struct{}),
	}
}

// Start begins reading from the peer.
func (c *Client) Start() {
	go c.readLoop()
}

// Done is closed once the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection closed, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close tears the connection down and rejects all pending calls.
func (c *Client) Close() {
	c.shutdown(ErrConnectionClosed)
}

// Call sends a request and waits for its response. There is no implicit
// timeout; callers bound the wait through ctx. A JSON-RPC error response is
// returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := c.requestID.Add(1)
	respCh := make(chan *Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  paramsJSON,
	}
	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, c.Err()
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	if err := c.Err(); err != nil {
		return err
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(&Request{JSONRPC: Version, Method: method, Params: paramsJSON})
}

// Respond answers an inbound request with a result.
func (c *Client) Respond(id json.RawMessage, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return c.send(&Response{JSONRPC: Version, ID: id, Result: resultJSON})
}

// RespondError answers an inbound request with an error.
func (c *Client) RespondError(id json.RawMessage, rpcErr *Error) error {
	return c.send(&Response{JSONRPC: Version, ID: id, Error: rpcErr})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return data, nil
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.w.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.logger.Debug("sent message", zap.ByteString("data", bytes.TrimSpace(data)))
	return nil
}

func (c *Client) readLoop() {
	reader := bufio.NewReaderSize(c.r, 64*1024)
	var readErr error
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				c.logger.Warn("discarding unterminated frame at end of stream", zap.Int("bytes", len(line)))
			}
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
		c.dispatch(bytes.TrimSpace(line))
	}

	if readErr != nil {
		c.logger.Warn("read loop ended with error", zap.Error(readErr))
		c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, readErr))
		return
	}
	c.logger.Debug("peer closed output stream")
	c.shutdown(ErrConnectionClosed)
}

func (c *Client) dispatch(line []byte) {
	if len(line) == 0 {
		return
	}

	var msg envelope
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("failed to parse message", zap.Error(err), zap.ByteString("line", line))
		return
	}

	hasID := msg.hasID()
	hasMethod := msg.Method != ""
	switch {
	case hasID && !hasMethod && (msg.Result != nil || msg.Error != nil):
		c.handleResponse(&Response{ID: msg.ID, Result: msg.Result, Error: msg.Error})
	case hasID && hasMethod:
		c.handleRequest(msg.ID, msg.Method, msg.Params)
	case hasMethod:
		c.handleNotification(msg.Method, msg.Params)
	default:
		c.logger.Warn("ignoring message with neither method nor result", zap.ByteString("line", line))
	}
}

func (c *Client) handleResponse(resp *Response) {
	id, ok := parseID(resp.ID)
	if !ok {
		c.logger.Warn("received response with non-numeric id", zap.ByteString("id", resp.ID))
		return
	}
	c.mu.Lock()
	ch, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !found {
		c.logger.Warn("received response for unknown request", zap.Int64("id", id))
		return
	}
	ch <- resp
}

// parseID accepts integer ids encoded as JSON numbers (including 3.0) or strings.
func parseID(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if c.handler == nil {
		return
	}
	c.handler.HandleNotification(method, params)
}

func (c *Client) handleRequest(id json.RawMessage, method string, params json.RawMessage) {
	if c.handler != nil {
		c.handler.HandleRequest(id, method, params)
		return
	}
	c.logger.Warn("received request but no handler registered", zap.String("method", method))
	if err := c.RespondError(id, NewError(MethodNotFound, "method not found: %s", method)); err != nil {
		c.logger.Warn("failed to send method not found response", zap.Error(err))
	}
}

func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = reason
	pending := c.pending
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.done)
}
