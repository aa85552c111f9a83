package handlers

import (
	"io"
	"net/http"

	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
)

// ClaudeMessages handles POST /anthropic/v1/messages.
func (g *Gateway) ClaudeMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		claudeCodec.writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	req, err := mappers.ParseClaudeRequest(body)
	if err != nil {
		claudeCodec.writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	g.serveCompletion(w, r, req, claudeCodec)
}
