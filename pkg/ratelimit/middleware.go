package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the limited identity from a request. An empty key
// skips limiting.
type KeyFunc func(*http.Request) string

// Middleware enforces l per key. Rejected requests get Retry-After and
// are handed to deny with ErrLimitExceeded. Store failures let the
// request through.
func Middleware(l *Limiter, key KeyFunc, deny func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), k)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				wait := max(res.RetryAfter(l.now()), time.Second)
				h.Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
				deny(w, r, ErrLimitExceeded)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
