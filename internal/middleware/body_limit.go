package middleware

import "net/http"

// MaxBodySize returns middleware that limits request body size. Prompts and
// schemas are small; anything larger than maxBytes gets a 413 when the
// handler reads past the limit.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
