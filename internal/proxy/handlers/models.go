package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pysugar/kiro-nexus/internal/proxy/mappers"
)

// OpenAIModels handles GET /v1/models.
func (g *Gateway) OpenAIModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	created := time.Now().Unix()
	entries := make([]modelEntry, 0)
	for _, id := range mappers.PublicModels() {
		entries = append(entries, modelEntry{ID: id, Object: "model", Created: created, OwnedBy: "kiro"})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   entries,
	})
}

// ClaudeModels handles GET /anthropic/v1/models.
func (g *Gateway) ClaudeModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID          string `json:"id"`
		Type        string `json:"type"`
		DisplayName string `json:"display_name"`
		CreatedAt   string `json:"created_at"`
	}
	createdAt := time.Now().UTC().Format(time.RFC3339)
	entries := make([]modelEntry, 0)
	for _, id := range mappers.PublicModels() {
		entries = append(entries, modelEntry{ID: id, Type: "model", DisplayName: id, CreatedAt: createdAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":     entries,
		"has_more": false,
	})
}
