// Package router folds session/update notifications into incremental message
// state held by a Store.
package router

import (
	"encoding/json"
	"time"
)

// Role identifies what produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleReasoning Role = "reasoning"
	RoleToolCall  Role = "tool_call"
)

// Update kinds carried in the sessionUpdate discriminator.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
	UpdateAvailableCommands = "available_commands_update"
	UpdateCurrentModeUpdate = "current_mode_update"
)

// Message is one entry of the conversation as shown to the operator.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id,omitempty"`
	Role      Role        `json:"role"`
	Content   string      `json:"content,omitempty"`
	ToolCall  *ToolCall   `json:"tool_call,omitempty"`
	Plan      []PlanEntry `json:"plan,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.ToolCall != nil {
		tc := *m.ToolCall
		tc.Content = append([]ToolContent(nil), m.ToolCall.Content...)
		tc.Locations = append([]Location(nil), m.ToolCall.Locations...)
		out.ToolCall = &tc
	}
	if m.Plan != nil {
		out.Plan = append([]PlanEntry(nil), m.Plan...)
	}
	return out
}

// ToolCall is the lifecycle state of one agent tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   []ToolContent   `json:"content,omitempty"`
	Locations []Location      `json:"locations,omitempty"`
	RawInput  json.RawMessage `json:"raw_input,omitempty"`
	RawOutput json.RawMessage `json:"raw_output,omitempty"`
}

// Tool content types.
const (
	ContentTypeContent  = "content"
	ContentTypeDiff     = "diff"
	ContentTypeTerminal = "terminal"
)

// ToolContent is one content entry of a tool call: a content block, a file
// diff, or a reference to an agent terminal.
type ToolContent struct {
	Type string `json:"type"`

	// content
	Text  string          `json:"text,omitempty"`
	Block json.RawMessage `json:"block,omitempty"`

	// diff
	Path    string  `json:"path,omitempty"`
	OldText *string `json:"old_text,omitempty"`
	NewText string  `json:"new_text,omitempty"`

	// terminal
	TerminalID string `json:"terminal_id,omitempty"`
}

// Location is a file position a tool call touches.
type Location struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

// PlanEntry is one step of the agent's plan.
type PlanEntry struct {
	Content  string `json:"content"`
	Priority string `json:"priority,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Command is a slash command the agent advertises.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Hint        string `json:"hint,omitempty"`
}
