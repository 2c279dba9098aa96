package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
)

// Store is the message-store collaborator updates are folded into.
type Store interface {
	AppendMessage(msg Message)
	// UpdateLastMessage applies fn to the most recent message atomically and
	// reports whether it changed. fn returns false to skip the update.
	UpdateLastMessage(fn func(*Message) bool) bool
	// UpdateMessageByID applies fn to the message of the given tool call and
	// reports whether one was found.
	UpdateMessageByID(toolCallID string, fn func(*Message)) bool
}

// CommandsListener is notified when the agent replaces its command list.
type CommandsListener interface {
	CommandsUpdated(sessionID string, commands []Command)
}

// Router folds session/update notifications into a Store. It is meant to be
// driven from the connection's single read loop, so updates are applied in
// arrival order.
type Router struct {
	store    Store
	commands CommandsListener
	logger   *logger.Logger

	newID func() string
	now   func() time.Time

	mu        sync.RWMutex
	available []Command
}

// New creates a router. commands may be nil.
func New(store Store, commands CommandsListener, log *logger.Logger) *Router {
	return &Router{
		store:    store,
		commands: commands,
		logger:   log.WithFields(zap.String("component", "router")),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// AvailableCommands returns the last command list the agent announced.
func (r *Router) AvailableCommands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.available...)
}

// Route applies one session/update notification. A malformed update is
// dropped and logged; it never aborts the session.
func (r *Router) Route(params json.RawMessage) {
	if err := r.Apply(params); err != nil {
		r.logger.Warn("dropping malformed session update",
			zap.Error(err),
			zap.ByteString("params", truncate(params, 512)))
	}
}

// Apply is Route with the error returned instead of logged.
func (r *Router) Apply(params json.RawMessage) error {
	sessionID, u, err := decodeNotification(params)
	if err != nil {
		return err
	}

	switch u.SessionUpdate {
	case UpdateAgentMessageChunk:
		return r.applyChunk(sessionID, RoleAssistant, "", u.Content)
	case UpdateAgentThoughtChunk:
		return r.applyChunk(sessionID, RoleReasoning, "\n", u.Content)
	case UpdateUserMessageChunk:
		return r.applyChunk(sessionID, RoleUser, "", u.Content)
	case UpdateToolCall:
		return r.applyToolCall(sessionID, u, true)
	case UpdateToolCallUpdate:
		return r.applyToolCall(sessionID, u, false)
	case UpdatePlan:
		return r.applyPlan(sessionID, u)
	case UpdateAvailableCommands:
		r.applyCommands(sessionID, u)
		return nil
	default:
		r.logger.Debug("ignoring session update", zap.String("kind", u.SessionUpdate))
		return nil
	}
}

// applyChunk appends to the last message when it has the same role and starts
// a new one otherwise.
func (r *Router) applyChunk(sessionID string, role Role, sep string, content json.RawMessage) error {
	text, ok, err := chunkText(content)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Debug("ignoring non-text chunk", zap.String("role", string(role)))
		return nil
	}

	now := r.now()
	merged := r.store.UpdateLastMessage(func(last *Message) bool {
		if last.Role != role {
			return false
		}
		if last.Content != "" {
			last.Content += sep
		}
		last.Content += text
		last.UpdatedAt = now
		return true
	})
	if !merged {
		r.store.AppendMessage(r.newMessage(sessionID, role, text))
	}
	return nil
}

// applyToolCall upserts the tool call's message. An existing message is
// always updated in place, so replaying a create after an update never
// duplicates it. Updates for unknown ids only create a message when they
// carry a title.
func (r *Router) applyToolCall(sessionID string, u *wireUpdate, create bool) error {
	if u.ToolCallID == "" {
		return errors.New("tool call has no toolCallId")
	}
	content, err := toolContents(u.Content)
	if err != nil {
		return err
	}

	now := r.now()
	found := r.store.UpdateMessageByID(u.ToolCallID, func(m *Message) {
		if m.ToolCall == nil {
			m.ToolCall = &ToolCall{ID: u.ToolCallID}
		}
		mergeToolCall(m.ToolCall, u, content)
		m.UpdatedAt = now
	})
	if found {
		return nil
	}

	if !create && (u.Title == nil || *u.Title == "") {
		r.logger.Debug("dropping update for unknown tool call", zap.String("tool_call_id", u.ToolCallID))
		return nil
	}

	tc := &ToolCall{ID: u.ToolCallID, Status: "pending"}
	mergeToolCall(tc, u, content)
	msg := r.newMessage(sessionID, RoleToolCall, "")
	msg.ToolCall = tc
	r.store.AppendMessage(msg)
	return nil
}

func mergeToolCall(tc *ToolCall, u *wireUpdate, content []ToolContent) {
	if u.Title != nil && *u.Title != "" {
		tc.Title = *u.Title
	}
	if u.Kind != nil && *u.Kind != "" {
		tc.Kind = *u.Kind
	}
	if u.Status != nil && *u.Status != "" {
		tc.Status = *u.Status
	}
	if content != nil {
		tc.Content = MergeToolContent(tc.Content, content)
	}
	if u.Locations != nil {
		tc.Locations = append([]Location(nil), u.Locations...)
	}
	if !isNull(u.RawInput) {
		tc.RawInput = append(json.RawMessage(nil), u.RawInput...)
	}
	if !isNull(u.RawOutput) {
		tc.RawOutput = append(json.RawMessage(nil), u.RawOutput...)
	}
}

// MergeToolContent combines stored and incoming tool call content. When the
// incoming content has a diff, stored diffs are discarded so only the latest
// one is shown; everything else accumulates.
func MergeToolContent(existing, incoming []ToolContent) []ToolContent {
	hasDiff := false
	for _, c := range incoming {
		if c.Type == ContentTypeDiff {
			hasDiff = true
			break
		}
	}

	out := make([]ToolContent, 0, len(existing)+len(incoming))
	for _, c := range existing {
		if hasDiff && c.Type == ContentTypeDiff {
			continue
		}
		out = append(out, c)
	}
	return append(out, incoming...)
}

// applyPlan replaces the plan on the most recent message.
func (r *Router) applyPlan(sessionID string, u *wireUpdate) error {
	if u.Entries == nil {
		return errors.New("plan update has no entries")
	}
	entries := append([]PlanEntry{}, u.Entries...)

	now := r.now()
	replaced := r.store.UpdateLastMessage(func(last *Message) bool {
		last.Plan = entries
		last.UpdatedAt = now
		return true
	})
	if !replaced {
		msg := r.newMessage(sessionID, RoleAssistant, "")
		msg.Plan = entries
		r.store.AppendMessage(msg)
	}
	return nil
}

func (r *Router) applyCommands(sessionID string, u *wireUpdate) {
	cmds := toCommands(u.AvailableCommands)
	r.mu.Lock()
	r.available = cmds
	r.mu.Unlock()

	if r.commands != nil {
		r.commands.CommandsUpdated(sessionID, append([]Command(nil), cmds...))
	}
}

func (r *Router) newMessage(sessionID string, role Role, content string) Message {
	now := r.now()
	return Message{
		ID:        r.newID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return []byte(fmt.Sprintf("%s...(%d bytes)", b[:n], len(b)))
}
