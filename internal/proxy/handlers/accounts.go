package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pysugar/kiro-nexus/internal/registry"
)

// accountView is the operator-facing projection of an account. Credentials
// never leave the process.
type accountView struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Idp          string    `json:"idp"`
	AuthMethod   string    `json:"auth_method"`
	Status       string    `json:"status"`
	LastError    string    `json:"last_error,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	RequestCount int64     `json:"request_count"`
	TokenCount   int64     `json:"token_count"`
	QuotaUsed    float64   `json:"quota_used"`
	QuotaLimit   float64   `json:"quota_limit"`
	LastUsedAt   time.Time `json:"last_used_at"`
	InFlight     int       `json:"in_flight"`
}

// ListAccounts handles GET /api/accounts.
func (g *Gateway) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := g.Registry.List()
	views := make([]accountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, accountView{
			ID:           acc.ID,
			Label:        acc.Label,
			Idp:          acc.Idp,
			AuthMethod:   acc.AuthMethod,
			Status:       acc.Status,
			LastError:    acc.LastError,
			ExpiresAt:    acc.ExpiresAt,
			RequestCount: acc.RequestCount,
			TokenCount:   acc.TokenCount,
			QuotaUsed:    acc.QuotaUsed,
			QuotaLimit:   acc.QuotaLimit,
			LastUsedAt:   acc.LastUsedAt,
			InFlight:     g.Registry.InFlight(acc.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": views,
		"count":    len(views),
	})
}

// RefreshAccount handles POST /api/accounts/{id}/refresh. A manual refresh
// is allowed even for expired accounts; the operator may have fixed the
// upstream grant out of band.
func (g *Gateway) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "application/json")
	if err := g.Refresher.Refresh(r.Context(), id); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	acc, err := g.Registry.Get(id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         acc.ID,
		"status":     acc.Status,
		"expires_at": acc.ExpiresAt,
	})
}

// RefreshAll handles POST /api/refresh.
func (g *Gateway) RefreshAll(w http.ResponseWriter, r *http.Request) {
	g.Refresher.RefreshAll(r.Context())

	statuses := make(map[string]string)
	for _, acc := range g.Registry.List() {
		statuses[acc.ID] = acc.Status
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"accounts": statuses})
}

// Stats handles GET /api/stats.
func (g *Gateway) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.Recorder.Stats())
}
