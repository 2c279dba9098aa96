package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire shapes for session/update. They are decoded leniently here instead of
// through the SDK's tagged unions so a single malformed field only costs that
// one update.

type wireNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type wireUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`

	// Chunks carry a single content block, tool calls an array.
	Content json.RawMessage `json:"content"`

	ToolCallID string          `json:"toolCallId"`
	Title      *string         `json:"title"`
	Kind       *string         `json:"kind"`
	Status     *string         `json:"status"`
	Locations  []Location      `json:"locations"`
	RawInput   json.RawMessage `json:"rawInput"`
	RawOutput  json.RawMessage `json:"rawOutput"`

	Entries           []PlanEntry   `json:"entries"`
	AvailableCommands []wireCommand `json:"availableCommands"`
}

type wireContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type wireToolContent struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	Path       string          `json:"path"`
	OldText    *string         `json:"oldText"`
	NewText    string          `json:"newText"`
	TerminalID string          `json:"terminalId"`
}

type wireCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Input       *struct {
		Hint string `json:"hint"`
	} `json:"input"`
}

var errMissingUpdate = errors.New("notification has no update")

func decodeNotification(params json.RawMessage) (string, *wireUpdate, error) {
	var n wireNotification
	if err := json.Unmarshal(params, &n); err != nil {
		return "", nil, fmt.Errorf("decode session/update: %w", err)
	}
	if isNull(n.Update) {
		return n.SessionID, nil, errMissingUpdate
	}
	var u wireUpdate
	if err := json.Unmarshal(n.Update, &u); err != nil {
		return n.SessionID, nil, fmt.Errorf("decode update: %w", err)
	}
	if u.SessionUpdate == "" {
		return n.SessionID, nil, errors.New("update has no sessionUpdate discriminator")
	}
	return n.SessionID, &u, nil
}

// chunkText extracts the text of a chunk's content block. Non-text blocks
// yield ok=false.
func chunkText(raw json.RawMessage) (string, bool, error) {
	if isNull(raw) {
		return "", false, errors.New("chunk has no content")
	}
	var block wireContentBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return "", false, fmt.Errorf("decode chunk content: %w", err)
	}
	if block.Type != "text" {
		return "", false, nil
	}
	return block.Text, true, nil
}

// toolContents decodes the content array of a tool call. A nil result means
// the field was absent.
func toolContents(raw json.RawMessage) ([]ToolContent, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []wireToolContent
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode tool call content: %w", err)
	}
	out := make([]ToolContent, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case ContentTypeDiff:
			out = append(out, ToolContent{Type: ContentTypeDiff, Path: it.Path, OldText: it.OldText, NewText: it.NewText})
		case ContentTypeTerminal:
			out = append(out, ToolContent{Type: ContentTypeTerminal, TerminalID: it.TerminalID})
		case ContentTypeContent:
			tc := ToolContent{Type: ContentTypeContent, Block: it.Content}
			if text, ok, err := chunkText(it.Content); err == nil && ok {
				tc.Text = text
			}
			out = append(out, tc)
		default:
			return nil, fmt.Errorf("unknown tool call content type %q", it.Type)
		}
	}
	return out, nil
}

func toCommands(in []wireCommand) []Command {
	out := make([]Command, 0, len(in))
	for _, c := range in {
		cmd := Command{Name: c.Name, Description: c.Description}
		if c.Input != nil {
			cmd.Hint = c.Input.Hint
		}
		out = append(out, cmd)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
