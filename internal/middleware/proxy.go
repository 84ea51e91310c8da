package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

var forwardedHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Forwarded-Host",
	"X-Real-IP",
	"True-Client-IP",
	"Forwarded",
}

// ForwardedHeaders applies proxy headers only when the server sits behind a
// trusted proxy. Otherwise they are stripped, so handlers can never see a
// client-supplied address or scheme.
func ForwardedHeaders(trustProxy bool) func(http.Handler) http.Handler {
	if trustProxy {
		return chimw.RealIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range forwardedHeaders {
				r.Header.Del(h)
			}
			next.ServeHTTP(w, r)
		})
	}
}
