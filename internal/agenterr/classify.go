package agenterr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Shape is one of the downstream error encodings the adapter recognizes.
type Shape int

const (
	// ShapeGeneric is any failure not matched below.
	ShapeGeneric Shape = iota
	// ShapeEmptyResponse is reported by some agents when a turn ends without text.
	ShapeEmptyResponse
	// ShapeUserAborted is reported when a turn was cancelled by the operator.
	ShapeUserAborted
	// ShapeAuthRequired means the agent wants an authenticate call first.
	ShapeAuthRequired
	// ShapeRateLimited is an upstream HTTP 429 surfaced through the agent.
	ShapeRateLimited
)

func (s Shape) String() string {
	switch s {
	case ShapeEmptyResponse:
		return "empty_response"
	case ShapeUserAborted:
		return "user_aborted"
	case ShapeAuthRequired:
		return "auth_required"
	case ShapeRateLimited:
		return "rate_limited"
	default:
		return "generic"
	}
}

// Benign reports whether a prompt failing with this shape is a normal end of turn.
func (s Shape) Benign() bool {
	return s == ShapeEmptyResponse || s == ShapeUserAborted
}

// CodeAuthRequired is the JSON-RPC code agents use for "authentication required".
const CodeAuthRequired = -32000

// CodeRateLimited is the HTTP status agents forward when throttled upstream.
const CodeRateLimited = 429

// RPCFailure is the subset of a JSON-RPC error object needed for classification.
type RPCFailure struct {
	Code    int
	Message string
	Data    json.RawMessage
}

type errorData struct {
	Code    *int   `json:"code"`
	Status  *int   `json:"status"`
	Details string `json:"details"`
	Message string `json:"message"`
}

// ClassifyShape pattern-matches a downstream error against the known shapes.
// Structured codes take precedence; the two benign quirks have no structured
// signal upstream and are matched on text.
func ClassifyShape(f RPCFailure) Shape {
	var data errorData
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &data); err != nil {
			// Data may be a bare string.
			var s string
			if json.Unmarshal(f.Data, &s) == nil {
				data.Details = s
			}
		}
	}

	if f.Code == CodeRateLimited || intIs(data.Code, CodeRateLimited) || intIs(data.Status, CodeRateLimited) {
		return ShapeRateLimited
	}

	text := strings.ToLower(strings.Join([]string{f.Message, data.Details, data.Message}, " "))
	switch {
	case strings.Contains(text, "empty response"):
		return ShapeEmptyResponse
	case strings.Contains(text, "user aborted"):
		return ShapeUserAborted
	}

	if f.Code == CodeAuthRequired && strings.Contains(text, "auth") {
		return ShapeAuthRequired
	}
	return ShapeGeneric
}

func intIs(v *int, want int) bool {
	return v != nil && *v == want
}

// FromRPC converts a downstream failure of method into a taxonomy error.
func FromRPC(method string, f RPCFailure) *Error {
	switch ClassifyShape(f) {
	case ShapeRateLimited:
		return &Error{
			Kind:       KindRateLimit,
			Title:      "Rate Limited",
			Message:    f.Message,
			Suggestion: "Wait a moment before sending another request.",
			Code:       f.Code,
		}
	case ShapeAuthRequired:
		return &Error{
			Kind:       KindAuthentication,
			Title:      "Authentication Required",
			Message:    f.Message,
			Suggestion: "Check your credentials or sign in to the agent again.",
			Code:       f.Code,
		}
	}
	return &Error{
		Kind:       KindCommunication,
		Title:      "Agent Request Failed",
		Message:    fmt.Sprintf("%s failed: %s", method, f.Message),
		Suggestion: "Check the agent logs for details and try again.",
		Code:       f.Code,
	}
}

// AuthenticationFailed wraps a rejected authenticate call. A 429 from the
// authenticate call itself is still reported as a rate limit.
func AuthenticationFailed(methodID string, f RPCFailure) *Error {
	if ClassifyShape(f) == ShapeRateLimited {
		return FromRPC("authenticate", f)
	}
	return &Error{
		Kind:       KindAuthentication,
		Title:      "Authentication Failed",
		Message:    fmt.Sprintf("Authentication with method %q was rejected: %s", methodID, f.Message),
		Suggestion: "Check your credentials, or choose a different sign-in method.",
		Code:       f.Code,
	}
}
