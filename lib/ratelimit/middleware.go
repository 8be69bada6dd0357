package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// KeyFunc picks the bucket a request is counted in. It must only read what
// the caller cannot choose freely, such as the client address.
type KeyFunc func(r *http.Request) string

// ByClientIP counts requests by client address.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ClientIP strips the port from RemoteAddr. When the server trusts a proxy,
// chi's RealIP has already rewritten RemoteAddr from the forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with 429.
func Middleware(l *Limiter, keyFn KeyFunc, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Enforce(w, r, l, keyFn(r), log) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Enforce counts one hit on key, sets the X-RateLimit-* headers and writes the
// 429 when the hit is over the limit. It reports whether the request may
// proceed. Cache failures let the request through.
func Enforce(w http.ResponseWriter, r *http.Request, l *Limiter, key string, log *zap.Logger) bool {
	d, err := l.Allow(r.Context(), key)
	if err != nil {
		log.Sugar().Warnw("Rate limiter unavailable", "err", err)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		WriteExceeded(w, d)
		return false
	}
	return true
}

// WriteExceeded writes the 429 response for a rejected decision.
func WriteExceeded(w http.ResponseWriter, d Decision) {
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error":       "rate limit exceeded",
		"retry_after": retry,
	})
}
