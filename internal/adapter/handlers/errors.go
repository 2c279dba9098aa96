package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kandev/acpadapter/internal/agenterr"
	ws "github.com/kandev/acpadapter/pkg/websocket"
)

// errorBody is the JSON shape of every failed HTTP call.
type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func httpStatus(err error) int {
	switch agenterr.KindOf(err) {
	case agenterr.KindNotFound:
		return http.StatusNotFound
	case agenterr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case agenterr.KindAuthentication:
		return http.StatusUnauthorized
	case agenterr.KindRateLimit:
		return http.StatusTooManyRequests
	case agenterr.KindConnection:
		return http.StatusServiceUnavailable
	case agenterr.KindCommunication:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func wsCode(err error) string {
	switch agenterr.KindOf(err) {
	case agenterr.KindNotFound:
		return ws.ErrorCodeNotFound
	case agenterr.KindConfiguration:
		return ws.ErrorCodeConfiguration
	case agenterr.KindAuthentication:
		return ws.ErrorCodeAuthentication
	case agenterr.KindRateLimit:
		return ws.ErrorCodeRateLimit
	case agenterr.KindConnection:
		return ws.ErrorCodeConnection
	case agenterr.KindCommunication:
		return ws.ErrorCodeCommunication
	}
	return ws.ErrorCodeInternalError
}

func writeError(c *gin.Context, err error) {
	d := agenterr.ToDisplay(err)
	c.JSON(httpStatus(err), errorBody{
		Error:      d.Title,
		Kind:       string(agenterr.KindOf(err)),
		Message:    d.Message,
		Suggestion: d.Suggestion,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: message})
}

// wsError replies to msg with err's display triple in the details.
func wsError(msg *ws.Message, err error) (*ws.Message, error) {
	d := agenterr.ToDisplay(err)
	return ws.NewError(msg.ID, msg.Action, wsCode(err), d.Message, map[string]any{
		"title":      d.Title,
		"suggestion": d.Suggestion,
		"kind":       string(agenterr.KindOf(err)),
	})
}
