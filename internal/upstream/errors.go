package upstream

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx answer from the upstream service. Status decides how
// the caller reacts: transient errors are retried with backoff during
// refresh, rejections quarantine the account.
type APIError struct {
	Status    int
	Message   string
	Operation string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream %s: HTTP %d: %s", e.Operation, e.Status, e.Message)
}

// Transient reports whether the failure is worth retrying (5xx and
// throttling).
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// RefreshRejected reports whether a refresh failure means the refresh token
// itself is invalid or revoked, which is terminal for the account until it
// is re-imported. AWS OIDC answers invalid_grant with a 400.
func (e *APIError) RefreshRejected() bool {
	if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, marker := range []string{"invalid_grant", "invalid_client", "unauthorized_client", "revoked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
