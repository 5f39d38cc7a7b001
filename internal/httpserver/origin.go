package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// NewCheckOrigin returns a WebSocket CheckOrigin that accepts requests without
// an Origin header (non-browser clients), same-host origins and the configured
// allowed origins. When isDevelopment is true, localhost origins are also
// allowed.
func NewCheckOrigin(allowedOrigins []string, isDevelopment bool) func(r *http.Request) bool {
	allowed := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed = append(allowed, strings.TrimSuffix(strings.ToLower(o), "/"))
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		normalized := strings.TrimSuffix(strings.ToLower(origin), "/")
		if slices.Contains(allowed, "*") || slices.Contains(allowed, normalized) {
			return true
		}

		u, err := url.Parse(origin)
		if err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}

		if isDevelopment && err == nil && isLocalhost(u.Hostname()) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func isLocalhost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
