package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginPolicy validates the Origin header of WebSocket upgrade requests.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *zap.Logger
}

// NewOriginPolicy builds a policy from configured origins. "*" allows any
// origin; invalid entries are logged and ignored.
func NewOriginPolicy(origins []string, log *zap.Logger) *OriginPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	p := &OriginPolicy{log: log}
	normalized, allowAll := p.normalizeOrigins(origins)
	p.allowAll = allowAll
	p.allowed = make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		p.allowed[origin] = struct{}{}
	}
	return p
}

func (p *OriginPolicy) normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			p.log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// Allowed reports whether the request origin is on the allow-list.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// Check is the websocket.Upgrader CheckOrigin hook.
func (p *OriginPolicy) Check(r *http.Request) bool {
	if p.Allowed(r) {
		return true
	}

	p.log.Warn("blocked WebSocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
