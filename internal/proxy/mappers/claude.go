package mappers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Anthropic messages wire types. Content and system fields arrive either as
// plain strings or block lists, so parsing goes through json.RawMessage.

type ClaudeRequest struct {
	Model       string          `json:"model"`
	Messages    []ClaudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	System      json.RawMessage `json:"system,omitempty"`
}

type ClaudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []ClaudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   string               `json:"stop_reason,omitempty"`
	StopSequence *string              `json:"stop_sequence,omitempty"`
	Usage        ClaudeUsage          `json:"usage"`
}

type ClaudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// claudeText flattens a string-or-block-list field into plain text.
func claudeText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

// ParseClaudeRequest validates and converts an Anthropic-dialect body. The
// top-level system field becomes a leading system message in the internal
// shape.
func ParseClaudeRequest(body []byte) (CompletionRequest, error) {
	var raw ClaudeRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return CompletionRequest{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if raw.Model == "" {
		return CompletionRequest{}, fmt.Errorf("%w: missing model", ErrMalformedRequest)
	}
	if len(raw.Messages) == 0 {
		return CompletionRequest{}, fmt.Errorf("%w: empty messages", ErrMalformedRequest)
	}

	req := CompletionRequest{
		Dialect:     DialectAnthropic,
		Model:       raw.Model,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
	}
	if system := claudeText(raw.System); system != "" {
		req.Messages = append(req.Messages, Message{Role: "system", Content: system})
	}
	for _, m := range raw.Messages {
		req.Messages = append(req.Messages, Message{Role: m.Role, Content: claudeText(m.Content)})
	}
	return req, nil
}

// EncodeClaudeResponse builds the single message object for a non-streaming
// exchange.
func EncodeClaudeResponse(model, text string, usage Usage) ([]byte, error) {
	resp := ClaudeResponse{
		ID:         "msg_" + newEventID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: "end_turn",
		Content:    []ClaudeContentBlock{{Type: "text", Text: text}},
		Usage: ClaudeUsage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		},
	}
	return json.Marshal(resp)
}

// ClaudeError is the dialect's error body.
func ClaudeError(message, errType string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
	return body
}

// ClaudeStreamEncoder frames the typed Anthropic event sequence:
// message_start, content_block_start, content_block_delta per chunk,
// content_block_stop, a usage-bearing message_delta, then message_stop.
type ClaudeStreamEncoder struct {
	id    string
	model string
}

func NewClaudeStreamEncoder() *ClaudeStreamEncoder {
	return &ClaudeStreamEncoder{id: "msg_" + newEventID()}
}

func writeClaudeEvent(w io.Writer, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (e *ClaudeStreamEncoder) Start(w io.Writer, model string) {
	e.model = model
	writeClaudeEvent(w, "message_start", map[string]interface{}{
		"type": "message_start",
		"message": ClaudeResponse{
			ID:      e.id,
			Type:    "message",
			Role:    "assistant",
			Model:   model,
			Content: []ClaudeContentBlock{},
		},
	})
	writeClaudeEvent(w, "content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         0,
		"content_block": ClaudeContentBlock{Type: "text", Text: ""},
	})
}

func (e *ClaudeStreamEncoder) Delta(w io.Writer, text string) {
	writeClaudeEvent(w, "content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
}

func (e *ClaudeStreamEncoder) Finish(w io.Writer, usage Usage) {
	writeClaudeEvent(w, "content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": 0,
	})
	writeClaudeEvent(w, "message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]string{"stop_reason": "end_turn"},
		"usage": ClaudeUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens},
	})
	writeClaudeEvent(w, "message_stop", map[string]string{"type": "message_stop"})
}

func (e *ClaudeStreamEncoder) Error(w io.Writer, message string) {
	writeClaudeEvent(w, "error", map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    "api_error",
			"message": message,
		},
	})
}
