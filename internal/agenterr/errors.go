// Package agenterr defines the structured error taxonomy surfaced by the
// adapter. Every error that reaches a caller carries a kind plus a
// human-facing title, message and suggested remediation.
package agenterr

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind classifies an adapter error.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindConnection     Kind = "connection"
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindCommunication  Kind = "communication"
	KindNotFound       Kind = "not_found"
)

// Error is the structured error returned across the adapter boundary.
type Error struct {
	Kind       Kind   `json:"kind"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	// Code is the downstream JSON-RPC error code, or 0 when not applicable.
	Code int   `json:"code,omitempty"`
	Err  error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Display is the {title, message, suggestion} triple shown to operators.
type Display struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Display returns the operator-facing triple for e.
func (e *Error) Display() Display {
	return Display{Title: e.Title, Message: e.Message, Suggestion: e.Suggestion}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ToDisplay maps any error to an operator-facing triple. Errors outside the
// taxonomy are reported as communication failures.
func ToDisplay(err error) Display {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Display()
	}
	return Display{
		Title:      "Agent Error",
		Message:    err.Error(),
		Suggestion: "Check the agent logs for details and try again.",
	}
}

// InvalidCommand reports an empty or malformed agent command.
func InvalidCommand(detail string) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Title:      "Invalid Command",
		Message:    detail,
		Suggestion: "Set the agent command in your configuration.",
	}
}

// CommandNotFound reports that the agent executable could not be located,
// either before spawning or via the shell's 127 exit status.
func CommandNotFound(command string, cause error) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Title:      "Command Not Found",
		Message:    fmt.Sprintf("The agent command %q could not be found.", command),
		Suggestion: pathSuggestion(command),
		Err:        cause,
	}
}

// InvalidWorkDir reports an unusable working directory.
func InvalidWorkDir(dir string, cause error) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Title:      "Invalid Working Directory",
		Message:    fmt.Sprintf("The working directory %q cannot be used.", dir),
		Suggestion: "Check that the directory exists and is accessible.",
		Err:        cause,
	}
}

// UnsupportedPath reports a host path the launcher cannot translate.
func UnsupportedPath(path, reason string) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Title:      "Unsupported Path",
		Message:    fmt.Sprintf("%s: %s", reason, path),
		Suggestion: "Move the project to a local drive or run the agent natively.",
	}
}

// SpawnFailed reports an OS-level failure to start the agent process.
func SpawnFailed(command string, cause error) *Error {
	return &Error{
		Kind:       KindConnection,
		Title:      "Failed to Start Agent",
		Message:    fmt.Sprintf("The agent %q could not be started.", command),
		Suggestion: "Check that the command is executable and its dependencies are installed.",
		Err:        cause,
	}
}

// AgentExited reports an agent process that ended on its own with a failure
// status. stderrTail is appended to the message when present.
func AgentExited(command string, code *int, signal *string, stderrTail string) *Error {
	var status string
	switch {
	case signal != nil:
		status = "was terminated by " + *signal
	case code != nil:
		status = fmt.Sprintf("exited with code %d", *code)
	default:
		status = "exited"
	}
	msg := fmt.Sprintf("The agent %q %s.", command, status)
	if stderrTail != "" {
		msg += "\n" + stderrTail
	}
	return &Error{
		Kind:       KindConnection,
		Title:      "Agent Exited",
		Message:    msg,
		Suggestion: "Check the agent output above, then reconnect.",
	}
}

// ConnectionClosed reports that the agent's output stream ended.
func ConnectionClosed(cause error) *Error {
	return &Error{
		Kind:       KindConnection,
		Title:      "Connection Closed",
		Message:    "The agent process closed the connection.",
		Suggestion: "Reconnect to start a new agent process.",
		Err:        cause,
	}
}

// NotConnected reports a call made without a live connection.
func NotConnected() *Error {
	return &Error{
		Kind:       KindConnection,
		Title:      "Not Connected",
		Message:    "No agent connection is active.",
		Suggestion: "Initialize the agent before sending requests.",
	}
}

// NoSession reports a call that needs a session before one was created.
func NoSession() *Error {
	return &Error{
		Kind:       KindConfiguration,
		Title:      "No Session",
		Message:    "No agent session has been created.",
		Suggestion: "Create a session before sending prompts.",
	}
}

// NotFound reports an operation against an unknown id.
func NotFound(what, id string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Title:      "Not Found",
		Message:    fmt.Sprintf("%s %q was not found.", what, id),
		Suggestion: "It may already have been released or resolved.",
	}
}

func pathSuggestion(command string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("Run `where %s` in a terminal and put the full path in the agent configuration.", command)
	}
	return fmt.Sprintf("Run `which %s` in a terminal and put the full path in the agent configuration.", command)
}
