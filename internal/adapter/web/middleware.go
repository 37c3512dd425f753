package web

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tg-filestream/internal/pkg/ratelimit"
)

// corsMiddleware applies the per-origin CORS policy to the streaming surface.
// Preflights are answered 204 for allowed origins and 403 otherwise; GET
// responses echo Access-Control-Allow-Origin only for allowed origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	originAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		if wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if r.Method == http.MethodOptions {
				if !originAllowed(origin) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Range")
				h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges")
				h.Set("Access-Control-Max-Age", "86400")
				h.Set("Vary", "Origin")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if originAllowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges")
				h.Set("Vary", "Origin")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware gates request admission per forwarded client IP. It
// takes no locks once the request is admitted; the stream body is never
// throttled here.
func rateLimitMiddleware(limiter *ratelimit.Limiter, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, retryAfter := limiter.Allow(ip)
			if !ok {
				log.Debug("rate limited", zap.String("ip", ip))
				seconds := int(retryAfter/time.Second) + 1
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				w.Header().Set("Cache-Control", "no-store")
				http.Error(w, "Too many requests. Please slow down.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the originating client address, honoring reverse-proxy
// forwarding headers.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
