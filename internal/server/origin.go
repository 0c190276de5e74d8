package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomrelay/internal/logging"
)

// OriginPolicy decides which browser origins may open a WebSocket.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      zerolog.Logger
}

// NewOriginPolicy builds a policy from configured origins. "*" allows any
// origin; entries that are not scheme://host are ignored.
func NewOriginPolicy(origins []string, log zerolog.Logger) *OriginPolicy {
	normalized, allowAll := normalizeOrigins(origins, log)

	allowed := make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowed[origin] = struct{}{}
	}
	return &OriginPolicy{allowAll: allowAll, allowed: allowed, log: log}
}

func normalizeOrigins(origins []string, log zerolog.Logger) ([]string, bool) {
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
			log.Warn().Str(logging.FieldOrigin, origin).Msg("ignoring invalid origin in configuration")
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

// Allowed reports whether r's Origin header passes the policy. Requests
// without an Origin header are only accepted when every origin is allowed.
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allowed(r) {
		return true
	}

	p.log.Warn().
		Str(logging.FieldOrigin, r.Header.Get("Origin")).
		Str(logging.FieldRemoteAddr, r.RemoteAddr).
		Msg("blocked websocket connection from disallowed origin")
	return false
}
