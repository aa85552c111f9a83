package middleware

import (
	"net/http"

	"github.com/pysugar/kiro-nexus/internal/logging"
)

// RequestID assigns every request an id, honoring one supplied by the
// caller. The id travels in the context and is echoed in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
