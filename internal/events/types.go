// Package events defines the events an adapter publishes about its session
// and the subjects they are published on.
package events

import "fmt"

// Connection lifecycle.
const (
	AgentConnected    = "agent.connected"
	AgentDisconnected = "agent.disconnected"
	AgentExited       = "agent.exited"
	SessionCreated    = "session.created"
)

// Prompt turns.
const (
	PromptStarted   = "prompt.started"
	PromptCompleted = "prompt.completed"
	PromptFailed    = "prompt.failed"
)

// Message state.
const (
	MessageAppended = "message.appended"
	MessageUpdated  = "message.updated"
	CommandsUpdated = "commands.updated"
)

// Permissions.
const (
	PermissionRequested = "permission.requested"
	PermissionFinished  = "permission.finished"
)

// Terminals.
const (
	TerminalCreated = "terminal.created"
	TerminalExited  = "terminal.exited"
)

// SubjectPrefix is the first token of every adapter subject.
const SubjectPrefix = "acp"

// Subject returns the subject an agent's event of the given type is
// published on, e.g. "acp.claude.message.appended".
func Subject(agentID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, agentID, eventType)
}

// AgentWildcard matches every event of one agent.
func AgentWildcard(agentID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, agentID)
}
