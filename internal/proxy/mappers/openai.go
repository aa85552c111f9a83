package mappers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// OpenAI chat completions wire types.

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts both the plain string and the multimodal array
// content forms; text parts are concatenated.
func (m *OpenAIMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role

	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = str
		return nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(a.Content, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
		return nil
	}

	m.Content = string(a.Content)
	return nil
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

type OpenAIChoice struct {
	Index        int            `json:"index"`
	Message      *OpenAIMessage `json:"message,omitempty"`
	Delta        *OpenAIDelta   `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type OpenAIDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ParseOpenAIRequest validates and converts an OpenAI-dialect body.
func ParseOpenAIRequest(body []byte) (CompletionRequest, error) {
	var raw OpenAIChatRequest
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
		Dialect:     DialectOpenAI,
		Model:       raw.Model,
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
	}
	for _, m := range raw.Messages {
		req.Messages = append(req.Messages, Message{Role: m.Role, Content: m.Content})
	}
	return req, nil
}

// EncodeOpenAIResponse builds the single chat.completion object with
// aggregate usage for a non-streaming exchange.
func EncodeOpenAIResponse(model, text string, usage Usage) ([]byte, error) {
	stop := "stop"
	resp := OpenAIChatResponse{
		ID:      "chatcmpl-" + newEventID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []OpenAIChoice{
			{
				Index:        0,
				Message:      &OpenAIMessage{Role: "assistant", Content: text},
				FinishReason: &stop,
			},
		},
		Usage: &OpenAIUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	}
	return json.Marshal(resp)
}

// OpenAIError is the dialect's error body; the gateway never answers an
// OpenAI-path request with a bare transport error.
func OpenAIError(message, errType string, status int) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
	return body
}

// OpenAIStreamEncoder frames chat.completion.chunk SSE events: a role
// chunk, one content chunk per delta, a finish chunk, a usage-bearing final
// chunk, then [DONE].
type OpenAIStreamEncoder struct {
	id      string
	model   string
	created int64
}

func NewOpenAIStreamEncoder() *OpenAIStreamEncoder {
	return &OpenAIStreamEncoder{id: "chatcmpl-" + newEventID(), created: time.Now().Unix()}
}

func (e *OpenAIStreamEncoder) chunk(choices []OpenAIChoice, usage *OpenAIUsage) []byte {
	body, _ := json.Marshal(struct {
		ID      string         `json:"id"`
		Object  string         `json:"object"`
		Created int64          `json:"created"`
		Model   string         `json:"model"`
		Choices []OpenAIChoice `json:"choices"`
		Usage   *OpenAIUsage   `json:"usage,omitempty"`
	}{e.id, "chat.completion.chunk", e.created, e.model, choices, usage})
	return body
}

func (e *OpenAIStreamEncoder) Start(w io.Writer, model string) {
	e.model = model
	body := e.chunk([]OpenAIChoice{{Index: 0, Delta: &OpenAIDelta{Role: "assistant"}}}, nil)
	fmt.Fprintf(w, "data: %s\n\n", body)
}

func (e *OpenAIStreamEncoder) Delta(w io.Writer, text string) {
	body := e.chunk([]OpenAIChoice{{Index: 0, Delta: &OpenAIDelta{Content: text}}}, nil)
	fmt.Fprintf(w, "data: %s\n\n", body)
}

func (e *OpenAIStreamEncoder) Finish(w io.Writer, usage Usage) {
	stop := "stop"
	body := e.chunk([]OpenAIChoice{{Index: 0, Delta: &OpenAIDelta{}, FinishReason: &stop}}, &OpenAIUsage{
		PromptTokens:     usage.InputTokens,
		CompletionTokens: usage.OutputTokens,
		TotalTokens:      usage.InputTokens + usage.OutputTokens,
	})
	fmt.Fprintf(w, "data: %s\n\n", body)
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (e *OpenAIStreamEncoder) Error(w io.Writer, message string) {
	fmt.Fprintf(w, "data: %s\n\n", OpenAIError(message, "upstream_error", 502))
	fmt.Fprint(w, "data: [DONE]\n\n")
}
