package adapter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
	"github.com/kandev/acpadapter/internal/events"
	"github.com/kandev/acpadapter/internal/events/bus"
	"github.com/kandev/acpadapter/internal/permission"
	"github.com/kandev/acpadapter/internal/router"
	"github.com/kandev/acpadapter/internal/terminal"
)

// CommandsEvent is the payload of commands.updated.
type CommandsEvent struct {
	SessionID string           `json:"session_id"`
	Commands  []router.Command `json:"commands"`
}

// PermissionEvent is the payload of permission.requested and permission.finished.
type PermissionEvent struct {
	Request permission.Request  `json:"request"`
	Outcome *permission.Outcome `json:"outcome,omitempty"`
}

// TerminalEvent is the payload of terminal.created and terminal.exited.
type TerminalEvent struct {
	Terminal   terminal.Info        `json:"terminal"`
	ExitStatus *terminal.ExitStatus `json:"exit_status,omitempty"`
}

// ConnectionEvent is the payload of the agent.* lifecycle events.
type ConnectionEvent struct {
	AgentID   string `json:"agent_id"`
	PID       int    `json:"pid,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PromptEvent is the payload of the prompt.* events.
type PromptEvent struct {
	SessionID  string `json:"session_id"`
	StopReason string `json:"stop_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

// publisher turns adapter state changes into bus events. It implements the
// observer interfaces of the router, the arbitrator and the supervisor.
type publisher struct {
	bus    bus.EventBus
	logger *logger.Logger

	mu      sync.RWMutex
	agentID string
}

func newPublisher(b bus.EventBus, agentID string, log *logger.Logger) *publisher {
	return &publisher{bus: b, agentID: agentID, logger: log}
}

func (p *publisher) setAgentID(id string) {
	p.mu.Lock()
	p.agentID = id
	p.mu.Unlock()
}

func (p *publisher) source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agentID
}

func (p *publisher) publish(eventType string, data any) {
	if p.bus == nil {
		return
	}
	agentID := p.source()
	event := bus.NewEvent(eventType, agentID, data)
	if err := p.bus.Publish(context.Background(), events.Subject(agentID, eventType), event); err != nil {
		p.logger.Debug("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (p *publisher) MessageAppended(msg router.Message) {
	p.publish(events.MessageAppended, msg)
}

func (p *publisher) MessageUpdated(msg router.Message) {
	p.publish(events.MessageUpdated, msg)
}

func (p *publisher) CommandsUpdated(sessionID string, commands []router.Command) {
	p.publish(events.CommandsUpdated, CommandsEvent{SessionID: sessionID, Commands: commands})
}

func (p *publisher) PermissionActivated(req permission.Request) {
	p.publish(events.PermissionRequested, PermissionEvent{Request: req})
}

func (p *publisher) PermissionFinished(req permission.Request, outcome permission.Outcome) {
	p.publish(events.PermissionFinished, PermissionEvent{Request: req, Outcome: &outcome})
}

func (p *publisher) TerminalCreated(info terminal.Info) {
	p.publish(events.TerminalCreated, TerminalEvent{Terminal: info})
}

func (p *publisher) TerminalExited(info terminal.Info, status terminal.ExitStatus) {
	p.publish(events.TerminalExited, TerminalEvent{Terminal: info, ExitStatus: &status})
}
