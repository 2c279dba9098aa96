package adapter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/pkg/acp/jsonrpc"
)

// resolvePath makes p absolute against the session's working directory.
func (c *connection) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	base := c.sessionCwd()
	if base == "" {
		base = c.cfg.WorkDir
	}
	return filepath.Join(base, p)
}

// handleReadTextFile serves fs/read_text_file. With reads disabled the agent
// gets empty content rather than an error.
func (c *connection) handleReadTextFile(id json.RawMessage, params json.RawMessage) {
	var req acp.ReadTextFileRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	if !c.adapter.opts.FSReadEnabled {
		c.respond(id, acp.ReadTextFileResponse{})
		return
	}

	path := c.resolvePath(req.Path)
	c.logger.Debug("reading file", zap.String("path", path))
	b, err := os.ReadFile(path)
	if err != nil {
		c.respondError(id, jsonrpc.NewError(jsonrpc.InternalError, "failed to read %s: %v", path, err))
		return
	}
	c.respond(id, acp.ReadTextFileResponse{Content: lineWindow(string(b), req.Line, req.Limit)})
}

// lineWindow returns limit lines starting at the 1-based line.
func lineWindow(content string, line, limit *int) string {
	if line == nil && limit == nil {
		return content
	}
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 0 {
		start = min(*line-1, len(lines))
	}
	end := len(lines)
	if limit != nil && *limit > 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

// handleWriteTextFile serves fs/write_text_file. With writes disabled the
// request is acknowledged and nothing is written.
func (c *connection) handleWriteTextFile(id json.RawMessage, params json.RawMessage) {
	var req acp.WriteTextFileRequest
	if rpcErr := decodeParams(params, &req); rpcErr != nil {
		c.respondError(id, rpcErr)
		return
	}
	if !c.adapter.opts.FSWriteEnabled {
		c.logger.Debug("ignoring write while file writes are disabled", zap.String("path", req.Path))
		c.respond(id, acp.WriteTextFileResponse{})
		return
	}

	path := c.resolvePath(req.Path)
	c.logger.Debug("writing file", zap.String("path", path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.respondError(id, jsonrpc.NewError(jsonrpc.InternalError, "failed to create directory for %s: %v", path, err))
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		c.respondError(id, jsonrpc.NewError(jsonrpc.InternalError, "failed to write %s: %v", path, err))
		return
	}
	c.respond(id, acp.WriteTextFileResponse{})
}
