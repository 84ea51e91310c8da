package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// OriginPolicy decides which browser origins may reach the HTTP surface and
// open WebSocket connections.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      zerolog.Logger
}

func NewOriginPolicy(origins []string, log zerolog.Logger) *OriginPolicy {
	p := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		log:     log.With().Str("component", "origin").Logger(),
	}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			p.log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		p.allowed[normalized] = struct{}{}
	}

	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether origin is acceptable.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is suitable for websocket.Upgrader.CheckOrigin. Requests without
// an Origin header come from non-browser clients and are accepted.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.Allowed(origin) {
		return true
	}
	p.log.Warn().Str("origin", origin).Str("remote", ClientIP(r)).Msg("blocked websocket from disallowed origin")
	return false
}

// CORS returns the cross-origin middleware for the plain HTTP endpoints.
func (p *OriginPolicy) CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return p.Allowed(origin)
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	})
}
