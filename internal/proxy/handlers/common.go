// Package handlers wires the public HTTP surface: the two completion
// dialects, model discovery, and the operator endpoints. Dialect handlers
// parse into the neutral request shape, then share one completion path.
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pysugar/kiro-nexus/internal/auth/token"
	"github.com/pysugar/kiro-nexus/internal/logging"
	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
	"github.com/pysugar/kiro-nexus/internal/proxy/monitor"
	"github.com/pysugar/kiro-nexus/internal/registry"
	"github.com/pysugar/kiro-nexus/internal/upstream"
)

// Gateway carries the collaborators every handler needs.
type Gateway struct {
	Registry  *registry.Registry
	Selector  *registry.Selector
	Upstream  *upstream.Client
	Recorder  *monitor.Recorder
	Refresher *token.Refresher
}

// codec bundles the dialect-specific pieces of the completion path so the
// shared handler never branches on the dialect name.
type codec struct {
	dialect    mappers.Dialect
	errorBody  func(message, errType string, status int) []byte
	encode     func(model, text string, usage mappers.Usage) ([]byte, error)
	newEncoder func() mappers.StreamEncoder
}

var openAICodec = codec{
	dialect:    mappers.DialectOpenAI,
	errorBody:  mappers.OpenAIError,
	encode:     mappers.EncodeOpenAIResponse,
	newEncoder: func() mappers.StreamEncoder { return mappers.NewOpenAIStreamEncoder() },
}

var claudeCodec = codec{
	dialect: mappers.DialectAnthropic,
	errorBody: func(message, errType string, _ int) []byte {
		return mappers.ClaudeError(message, errType)
	},
	encode:     mappers.EncodeClaudeResponse,
	newEncoder: func() mappers.StreamEncoder { return mappers.NewClaudeStreamEncoder() },
}

// requestID returns the id the middleware assigned, falling back to a fresh
// one for handlers mounted without it.
func requestID(r *http.Request) string {
	if id := logging.GetRequestID(r.Context()); id != "" {
		return id
	}
	return "req-" + uuid.New().String()
}

func (c codec) writeError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(c.errorBody(message, errType, status))
}
