package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kuitang/note-organizer/internal/obs"
)

// DefaultRetryAfterSeconds is the Retry-After value sent with 429 responses.
const DefaultRetryAfterSeconds = 1

// Middleware enforces per-client limits keyed by keyFunc. When keyFunc is nil
// the key is ClientKey(limiter.Config().TrustProxy).
//
// Rejected requests get 429 with a JSON body {"error":"rate_limited",...},
// a Retry-After header and X-RateLimit-Remaining: 0. Allowed requests carry
// X-RateLimit-Remaining with the approximate tokens left.
func Middleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || !limiter.Config().Enabled() {
			return next
		}
		if keyFunc == nil {
			keyFunc = ClientKey(limiter.Config().TrustProxy)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if !limiter.Allow(key) {
				obs.From(r.Context()).Info("rate limited", "pkg", "ratelimit", "key", key)
				w.Header().Set("Retry-After", strconv.Itoa(DefaultRetryAfterSeconds))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limited",
					"message": "Too many requests",
				})
				return
			}

			remaining := int(limiter.GetLimiter(key).TokensAt(limiter.clock.Now()))
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey keys requests by the peer address. With trustProxy set, the last
// X-Forwarded-For hop wins instead: that is the one the fronting proxy
// appended, while earlier hops are whatever the client sent.
func ClientKey(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			fwd := r.Header.Values("X-Forwarded-For")
			if len(fwd) > 0 {
				hops := strings.Split(fwd[len(fwd)-1], ",")
				if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
