package handlers

import (
	"io"
	"net/http"

	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
)

// OpenAIChat handles POST /v1/chat/completions.
func (g *Gateway) OpenAIChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		openAICodec.writeError(w, http.StatusBadRequest, "failed to read request body", "invalid_request_error")
		return
	}

	req, err := mappers.ParseOpenAIRequest(body)
	if err != nil {
		openAICodec.writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error")
		return
	}

	g.serveCompletion(w, r, req, openAICodec)
}
