package mappers

import (
	"encoding/json"
	"fmt"
)

// modelAliases maps the public model names both dialects accept onto the
// upstream model ids. Unknown names fall back to the default model rather
// than failing, matching the upstream IDE behavior.
var modelAliases = map[string]string{
	"kiro-pro":                   "claude-sonnet-4.5",
	"kiro-flash":                 "claude-haiku-4.5",
	"claude-sonnet-4-5":          "claude-sonnet-4.5",
	"claude-sonnet-4-5-20250929": "claude-sonnet-4.5",
	"claude-haiku-4-5-20251001":  "claude-haiku-4.5",
	"claude-opus-4-5-20251101":   "claude-opus-4.5",
}

const defaultUpstreamModel = "claude-sonnet-4.5"

const defaultMaxTokens = 4096

// ResolveModel maps a public model name to the upstream model id.
func ResolveModel(model string) string {
	if resolved, ok := modelAliases[model]; ok {
		return resolved
	}
	return defaultUpstreamModel
}

// PublicModels lists the model names the gateway advertises, ordered.
func PublicModels() []string {
	return []string{
		"kiro-pro",
		"kiro-flash",
		"claude-sonnet-4-5",
		"claude-sonnet-4-5-20250929",
		"claude-haiku-4-5-20251001",
		"claude-opus-4-5-20251101",
	}
}

// Upstream request shape (conversationState protocol).

type kiroContentBlock struct {
	Text string `json:"text"`
}

type kiroMessage struct {
	Role    string             `json:"role"`
	Content []kiroContentBlock `json:"content"`
}

type kiroUserInputMessage struct {
	Content []kiroContentBlock `json:"content"`
	Context struct {
		AgentTaskType string `json:"agentTaskType"`
	} `json:"userInputMessageContext"`
	UserIntent string `json:"userIntent"`
}

type kiroCurrentMessage struct {
	UserInputMessage kiroUserInputMessage `json:"userInputMessage"`
}

type kiroConversationState struct {
	CurrentMessage  kiroCurrentMessage `json:"currentMessage"`
	History         []kiroMessage      `json:"history,omitempty"`
	ChatTriggerType string             `json:"chatTriggerType"`
}

type kiroModelConfiguration struct {
	ModelID   string `json:"modelId"`
	MaxTokens int    `json:"maxTokens"`
}

type kiroRequest struct {
	ConversationState  kiroConversationState  `json:"conversationState"`
	ModelConfiguration kiroModelConfiguration `json:"modelConfiguration"`
	ProfileArn         string                 `json:"profileArn"`
}

// BuildUpstreamRequest turns the internal request into the upstream JSON
// body. The newest message becomes the current turn; everything before it is
// history, system instructions included.
func BuildUpstreamRequest(req CompletionRequest) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: empty message list", ErrMalformedRequest)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	last := req.Messages[len(req.Messages)-1]
	body := kiroRequest{
		ModelConfiguration: kiroModelConfiguration{
			ModelID:   ResolveModel(req.Model),
			MaxTokens: maxTokens,
		},
	}
	body.ConversationState.ChatTriggerType = "MANUAL"
	body.ConversationState.CurrentMessage.UserInputMessage = kiroUserInputMessage{
		Content:    []kiroContentBlock{{Text: last.Content}},
		UserIntent: "SUGGEST_ALTERNATE_IMPLEMENTATION",
	}
	body.ConversationState.CurrentMessage.UserInputMessage.Context.AgentTaskType = "vibe"

	for _, msg := range req.Messages[:len(req.Messages)-1] {
		body.ConversationState.History = append(body.ConversationState.History, kiroMessage{
			Role:    msg.Role,
			Content: []kiroContentBlock{{Text: msg.Content}},
		})
	}

	return json.Marshal(body)
}
