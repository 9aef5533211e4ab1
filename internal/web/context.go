package web

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/itemstats/internal/logging"
)

// withRequestLogger stores a logger tagged with the request ID and client IP
// in the request context. Handlers and the service layer pick it up through
// logging.FromContext.
func withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx).With("ip", clientIP(r))
		next.ServeHTTP(w, r.WithContext(logging.NewContext(ctx, logger)))
	})
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already rewritten for requests from trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
