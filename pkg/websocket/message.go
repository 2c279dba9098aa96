// Package websocket defines the envelope spoken on the adapter's WebSocket
// endpoint and a dispatcher that routes requests by action.
package websocket

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes requests, responses, pushes and errors.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message is the envelope for every frame in either direction. Responses
// and errors echo the request's ID and Action.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the payload of a MessageTypeError frame.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func newMessage(id string, typ MessageType, action string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      typ,
		Action:    action,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewRequest builds a client request.
func NewRequest(id, action string, payload any) (*Message, error) {
	return newMessage(id, MessageTypeRequest, action, payload)
}

// NewResponse builds the successful reply to request id.
func NewResponse(id, action string, payload any) (*Message, error) {
	return newMessage(id, MessageTypeResponse, action, payload)
}

// NewNotification builds a server push.
func NewNotification(action string, payload any) (*Message, error) {
	return newMessage("", MessageTypeNotification, action, payload)
}

// NewError builds the failed reply to request id.
func NewError(id, action, code, message string, details map[string]any) (*Message, error) {
	return newMessage(id, MessageTypeError, action, ErrorPayload{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// ParsePayload decodes the payload into v. An absent payload leaves v as is.
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
