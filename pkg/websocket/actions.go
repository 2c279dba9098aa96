package websocket

// Request actions (client -> server).
const (
	ActionHealthCheck = "health.check"

	ActionAgentStatus     = "agent.status"
	ActionAgentInitialize = "agent.initialize"
	ActionAgentDisconnect = "agent.disconnect"

	ActionSessionNew          = "session.new"
	ActionSessionAuthenticate = "session.authenticate"
	ActionSessionPrompt       = "session.prompt"
	ActionSessionCancel       = "session.cancel"
	ActionSessionMessages     = "session.messages"
	ActionSessionCommands     = "session.commands"

	ActionPermissionList        = "permission.list"
	ActionPermissionRespond     = "permission.respond"
	ActionPermissionCancel      = "permission.cancel"
	ActionPermissionAutoApprove = "permission.auto_approve"

	ActionTerminalList   = "terminal.list"
	ActionTerminalOutput = "terminal.output"

	ActionTranscriptSessions = "transcript.sessions"
	ActionTranscriptMessages = "transcript.messages"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeUnavailable   = "UNAVAILABLE"

	// Agent failures carry the taxonomy kind in the code.
	ErrorCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrorCodeConnection     = "CONNECTION_ERROR"
	ErrorCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrorCodeRateLimit      = "RATE_LIMIT"
	ErrorCodeCommunication  = "COMMUNICATION_ERROR"
)
