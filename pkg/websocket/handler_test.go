package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesByAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc("echo", func(ctx context.Context, msg *Message) (*Message, error) {
		var in map[string]string
		require.NoError(t, msg.ParsePayload(&in))
		return NewResponse(msg.ID, msg.Action, in)
	})
	assert.True(t, d.HasHandler("echo"))
	assert.ElementsMatch(t, []string{"echo"}, d.Actions())

	req, err := NewRequest("r1", "echo", map[string]string{"text": "hi"})
	require.NoError(t, err)
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "r1", resp.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(resp.Payload))
}

func TestDispatcher_UnknownAction(t *testing.T) {
	d := NewDispatcher()
	req, err := NewRequest("r2", "nope", nil)
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
	assert.Contains(t, payload.Message, "nope")
}

func TestMessage_ParsePayloadEmpty(t *testing.T) {
	msg := &Message{Action: "x"}
	v := struct{ A int }{A: 7}
	require.NoError(t, msg.ParsePayload(&v))
	assert.Equal(t, 7, v.A)
}
