// Package handlers exposes an Adapter over HTTP and the WebSocket
// dispatcher.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/adapter"
	"github.com/kandev/acpadapter/internal/agenterr"
	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/launcher"
	"github.com/kandev/acpadapter/internal/transcript"
	ws "github.com/kandev/acpadapter/pkg/websocket"
)

// AgentResolver returns the process to spawn for a profile id. An empty id
// selects the configured default agent.
type AgentResolver func(profileID string) (launcher.AgentProcessConfig, error)

type Handlers struct {
	adapter    *adapter.Adapter
	resolve    AgentResolver
	transcript transcript.Repository
	logger     *logger.Logger
}

func NewHandlers(a *adapter.Adapter, resolve AgentResolver, repo transcript.Repository, log *logger.Logger) *Handlers {
	return &Handlers{
		adapter:    a,
		resolve:    resolve,
		transcript: repo,
		logger:     log.WithFields(zap.String("component", "adapter-handlers")),
	}
}

// RegisterRoutes mounts the adapter API under /api/v1 and on dispatcher.
// Transcript routes are only mounted when repo is non-nil.
func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, a *adapter.Adapter, resolve AgentResolver, repo transcript.Repository, log *logger.Logger) {
	h := NewHandlers(a, resolve, repo, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api/v1")
	api.GET("/agent", h.httpStatus)
	api.POST("/agent/initialize", h.httpInitialize)
	api.POST("/agent/disconnect", h.httpDisconnect)

	api.POST("/session", h.httpNewSession)
	api.POST("/session/authenticate", h.httpAuthenticate)
	api.POST("/session/prompt", h.httpPrompt)
	api.POST("/session/cancel", h.httpCancel)
	api.GET("/session/messages", h.httpMessages)
	api.GET("/session/commands", h.httpCommands)

	api.GET("/permissions", h.httpPermissions)
	api.POST("/permissions/:id/respond", h.httpRespondPermission)
	api.POST("/permissions/:id/cancel", h.httpCancelPermission)
	api.PUT("/permissions/auto-approve", h.httpAutoApprove)

	api.GET("/terminals", h.httpTerminals)
	api.GET("/terminals/:id/output", h.httpTerminalOutput)

	if h.transcript != nil {
		api.GET("/transcripts", h.httpTranscriptSessions)
		api.GET("/transcripts/:session_id/messages", h.httpTranscriptMessages)
		api.GET("/session/transcript", h.httpTranscriptMessages)
	}
}

func (h *Handlers) registerWS(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionAgentStatus, h.wsStatus)
	d.RegisterFunc(ws.ActionAgentInitialize, h.wsInitialize)
	d.RegisterFunc(ws.ActionAgentDisconnect, h.wsDisconnect)

	d.RegisterFunc(ws.ActionSessionNew, h.wsNewSession)
	d.RegisterFunc(ws.ActionSessionAuthenticate, h.wsAuthenticate)
	d.RegisterFunc(ws.ActionSessionPrompt, h.wsPrompt)
	d.RegisterFunc(ws.ActionSessionCancel, h.wsCancel)
	d.RegisterFunc(ws.ActionSessionMessages, h.wsMessages)
	d.RegisterFunc(ws.ActionSessionCommands, h.wsCommands)

	d.RegisterFunc(ws.ActionPermissionList, h.wsPermissions)
	d.RegisterFunc(ws.ActionPermissionRespond, h.wsRespondPermission)
	d.RegisterFunc(ws.ActionPermissionCancel, h.wsCancelPermission)
	d.RegisterFunc(ws.ActionPermissionAutoApprove, h.wsAutoApprove)

	d.RegisterFunc(ws.ActionTerminalList, h.wsTerminals)
	d.RegisterFunc(ws.ActionTerminalOutput, h.wsTerminalOutput)

	if h.transcript != nil {
		d.RegisterFunc(ws.ActionTranscriptSessions, h.wsTranscriptSessions)
		d.RegisterFunc(ws.ActionTranscriptMessages, h.wsTranscriptMessages)
	}
}

// Request bodies are shared by both transports.

type initializeRequest struct {
	Profile string `json:"profile,omitempty"`
	WorkDir string `json:"work_dir,omitempty"`
}

type newSessionRequest struct {
	Cwd string `json:"cwd,omitempty"`
}

type authenticateRequest struct {
	MethodID string `json:"method_id"`
}

type promptRequest struct {
	Text string `json:"text"`
}

type respondPermissionRequest struct {
	RequestID string `json:"request_id,omitempty"`
	OptionID  string `json:"option_id"`
}

type permissionRef struct {
	RequestID string `json:"request_id"`
}

type autoApproveRequest struct {
	Enabled bool `json:"enabled"`
}

type terminalRef struct {
	TerminalID string `json:"terminal_id"`
}

type transcriptRef struct {
	SessionID string `json:"session_id,omitempty"`
}

func (h *Handlers) initialize(ctx context.Context, req initializeRequest) (*adapter.InitializeResult, error) {
	cfg, err := h.resolve(req.Profile)
	if err != nil {
		return nil, err
	}
	if req.WorkDir != "" {
		cfg.WorkDir = req.WorkDir
	}
	res, err := h.adapter.Initialize(ctx, cfg)
	if err != nil {
		h.logger.Warn("agent initialize failed", zap.String("agent_id", cfg.ID), zap.Error(err))
		return nil, err
	}
	return res, nil
}

// transcriptSession defaults an empty id to the live session.
func (h *Handlers) transcriptSession(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	if id := h.adapter.Status().SessionID; id != "" {
		return id, nil
	}
	return "", agenterr.NoSession()
}

// HTTP

func (h *Handlers) httpStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.adapter.Status())
}

func (h *Handlers) httpInitialize(c *gin.Context) {
	var body initializeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid payload")
			return
		}
	}
	res, err := h.initialize(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) httpDisconnect(c *gin.Context) {
	h.adapter.Disconnect()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpNewSession(c *gin.Context) {
	var body newSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid payload")
			return
		}
	}
	id, err := h.adapter.NewSession(c.Request.Context(), body.Cwd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (h *Handlers) httpAuthenticate(c *gin.Context) {
	var body authenticateRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.MethodID) == "" {
		badRequest(c, "method_id is required")
		return
	}
	if err := h.adapter.Authenticate(c.Request.Context(), body.MethodID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpPrompt(c *gin.Context) {
	var body promptRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.Text == "" {
		badRequest(c, "text is required")
		return
	}
	res, err := h.adapter.Prompt(c.Request.Context(), body.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) httpCancel(c *gin.Context) {
	if err := h.adapter.Cancel(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.adapter.Messages()})
}

func (h *Handlers) httpCommands(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.adapter.AvailableCommands()})
}

func (h *Handlers) httpPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"permissions": h.adapter.Permissions()})
}

func (h *Handlers) httpRespondPermission(c *gin.Context) {
	var body respondPermissionRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.OptionID == "" {
		badRequest(c, "option_id is required")
		return
	}
	if err := h.adapter.RespondToPermission(c.Param("id"), body.OptionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpCancelPermission(c *gin.Context) {
	h.adapter.CancelPermission(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) httpAutoApprove(c *gin.Context) {
	var body autoApproveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	h.adapter.SetAutoApprove(body.Enabled)
	c.JSON(http.StatusOK, gin.H{"enabled": body.Enabled})
}

func (h *Handlers) httpTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terminals": h.adapter.Terminals()})
}

func (h *Handlers) httpTerminalOutput(c *gin.Context) {
	out, err := h.adapter.TerminalOutput(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) httpTranscriptSessions(c *gin.Context) {
	ids, err := h.transcript.ListSessions(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list transcript sessions", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func (h *Handlers) httpTranscriptMessages(c *gin.Context) {
	sessionID, err := h.transcriptSession(c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	msgs, err := h.transcript.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to list transcript messages", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": msgs})
}

// WebSocket

func (h *Handlers) wsStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, h.adapter.Status())
}

func (h *Handlers) wsInitialize(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req initializeRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	res, err := h.initialize(ctx, req)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, res)
}

func (h *Handlers) wsDisconnect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	h.adapter.Disconnect()
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"success": true})
}

func (h *Handlers) wsNewSession(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req newSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	id, err := h.adapter.NewSession(ctx, req.Cwd)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]string{"session_id": id})
}

func (h *Handlers) wsAuthenticate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req authenticateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if strings.TrimSpace(req.MethodID) == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "method_id is required", nil)
	}
	if err := h.adapter.Authenticate(ctx, req.MethodID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"success": true})
}

func (h *Handlers) wsPrompt(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req promptRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.Text == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "text is required", nil)
	}
	res, err := h.adapter.Prompt(ctx, req.Text)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, res)
}

func (h *Handlers) wsCancel(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	if err := h.adapter.Cancel(ctx); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"success": true})
}

func (h *Handlers) wsMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"messages": h.adapter.Messages()})
}

func (h *Handlers) wsCommands(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"commands": h.adapter.AvailableCommands()})
}

func (h *Handlers) wsPermissions(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"permissions": h.adapter.Permissions()})
}

func (h *Handlers) wsRespondPermission(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req respondPermissionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	if req.RequestID == "" || req.OptionID == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "request_id and option_id are required", nil)
	}
	if err := h.adapter.RespondToPermission(req.RequestID, req.OptionID); err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"success": true})
}

func (h *Handlers) wsCancelPermission(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req permissionRef
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	h.adapter.CancelPermission(req.RequestID)
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"success": true})
}

func (h *Handlers) wsAutoApprove(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req autoApproveRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	h.adapter.SetAutoApprove(req.Enabled)
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"enabled": req.Enabled})
}

func (h *Handlers) wsTerminals(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"terminals": h.adapter.Terminals()})
}

func (h *Handlers) wsTerminalOutput(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req terminalRef
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	out, err := h.adapter.TerminalOutput(req.TerminalID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, out)
}

func (h *Handlers) wsTranscriptSessions(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	ids, err := h.transcript.ListSessions(ctx)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"sessions": ids})
}

func (h *Handlers) wsTranscriptMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req transcriptRef
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	sessionID, err := h.transcriptSession(req.SessionID)
	if err != nil {
		return wsError(msg, err)
	}
	msgs, err := h.transcript.ListMessages(ctx, sessionID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"session_id": sessionID, "messages": msgs})
}
