package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fictures/ai-gateway/internal/metrics"
)

// HeaderAPIKey is the request header carrying the caller's secret.
const HeaderAPIKey = "x-api-key"

// RequireScope returns chi-compatible middleware that verifies the API key
// and checks the required scope before the handler runs. Missing or invalid
// keys yield 401, insufficient scope 403. Error bodies carry no hints about
// which scopes exist.
func RequireScope(v *Verifier, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := r.Header.Get(HeaderAPIKey)
			if secret == "" {
				metrics.RecordAuthFailure("missing_key")
				writeJSONError(w, http.StatusUnauthorized,
					"API key required. Provide via 'x-api-key' header")
				return
			}

			result, err := v.Verify(r.Context(), secret)
			if err != nil {
				if errors.Is(err, ErrInvalidKey) {
					metrics.RecordAuthFailure("invalid_key")
					writeJSONError(w, http.StatusUnauthorized, "invalid or expired API key")
					return
				}
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if !result.HasScope(scope) {
				metrics.RecordAuthFailure("insufficient_scope")
				writeJSONError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), result)))
		})
	}
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Encoding errors are not recoverable for error responses
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
