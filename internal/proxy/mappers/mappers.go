// Package mappers translates between the two public dialects (OpenAI chat
// completions and Anthropic messages) and the one upstream request shape.
// The registry, selector and upstream client never see dialect types.
package mappers

import (
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Dialect names the public wire format of a request.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// ErrMalformedRequest marks caller errors: schema violations surfaced as a
// 4xx with a dialect-shaped body and never retried.
var ErrMalformedRequest = errors.New("malformed request")

// Message is one turn of the conversation in the internal shape. System
// instructions travel as a regular message with role "system"; the upstream
// builder decides where they land.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is the dialect-neutral form every adapter parses into.
// It lives for the duration of one call.
type CompletionRequest struct {
	Dialect     Dialect
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// Usage is the aggregate token accounting of one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamEncoder writes one dialect's event framing. The multiplexer calls
// Start once, Delta per upstream chunk, then exactly one of Finish or Error.
type StreamEncoder interface {
	Start(w io.Writer, model string)
	Delta(w io.Writer, text string)
	Finish(w io.Writer, usage Usage)
	Error(w io.Writer, message string)
}

// newEventID yields the 24-hex suffix both dialects use for response ids.
func newEventID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}
