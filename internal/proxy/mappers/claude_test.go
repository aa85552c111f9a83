package mappers

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaudeRequest_SystemBecomesLeadingMessage(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"system": "be brief",
		"messages": [{"role": "user", "content": "hello"}]
	}`)

	req, err := ParseClaudeRequest(body)
	require.NoError(t, err)

	assert.Equal(t, DialectAnthropic, req.Dialect)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "be brief"}, req.Messages[0])
	assert.Equal(t, Message{Role: "user", Content: "hello"}, req.Messages[1])
}

func TestParseClaudeRequest_BlockContent(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1024,
		"system": [{"type": "text", "text": "sys one"}, {"type": "text", "text": "sys two"}],
		"messages": [
			{"role": "user", "content": [{"type": "text", "text": "block text"}]}
		]
	}`)

	req, err := ParseClaudeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "sys one\nsys two", req.Messages[0].Content)
	assert.Equal(t, "block text", req.Messages[1].Content)
}

func TestParseClaudeRequest_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json":   []byte(`{`),
		"missing model":  []byte(`{"messages":[{"role":"user","content":"hi"}]}`),
		"empty messages": []byte(`{"model":"claude-sonnet-4-5","messages":[]}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaudeRequest(body)
			require.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestEncodeClaudeResponse(t *testing.T) {
	out, err := EncodeClaudeResponse("claude-sonnet-4-5", "answer", Usage{InputTokens: 9, OutputTokens: 3})
	require.NoError(t, err)

	var resp ClaudeResponse
	require.NoError(t, json.Unmarshal(out, &resp))

	assert.True(t, strings.HasPrefix(resp.ID, "msg_"))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "answer", resp.Content[0].Text)
	assert.Equal(t, ClaudeUsage{InputTokens: 9, OutputTokens: 3}, resp.Usage)
}

func TestClaudeStreamEncoder_EventSequence(t *testing.T) {
	var buf bytes.Buffer
	enc := NewClaudeStreamEncoder()
	enc.Start(&buf, "claude-sonnet-4-5")
	enc.Delta(&buf, "Hel")
	enc.Delta(&buf, "lo")
	enc.Finish(&buf, Usage{InputTokens: 3, OutputTokens: 2})

	events := parseSSEEvents(t, buf.String())
	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	assert.Equal(t, want, events)
}

func TestClaudeStreamEncoder_Error(t *testing.T) {
	var buf bytes.Buffer
	enc := NewClaudeStreamEncoder()
	enc.Start(&buf, "claude-sonnet-4-5")
	enc.Error(&buf, "upstream gone")

	events := parseSSEEvents(t, buf.String())
	assert.Equal(t, "error", events[len(events)-1])
	assert.Contains(t, buf.String(), "upstream gone")
}

// parseSSEEvents extracts the value of every "event:" line in order.
func parseSSEEvents(t *testing.T, raw string) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event:") {
			events = append(events, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		}
	}
	return events
}
