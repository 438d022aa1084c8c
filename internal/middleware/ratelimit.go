package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailoreply.ai/platform/pkg/logger"
)

type RateChecker interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

type RateLimiter struct {
	checker RateChecker
	limit   int
	window  time.Duration
	prefix  string
	logger  *logger.Logger
}

// NewRateLimiter limits each signed-in user, or each client address for
// anonymous requests. A nil checker disables limiting.
func NewRateLimiter(checker RateChecker, prefix string, limit int, window time.Duration, l *logger.Logger) *RateLimiter {
	return &RateLimiter{
		checker: checker,
		limit:   limit,
		window:  window,
		prefix:  prefix,
		logger:  l,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.checker == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + rl.prefix + ":" + clientKey(r)

		allowed, retryAfter, err := rl.checker.CheckRateLimit(r.Context(), key, rl.limit, rl.window)
		if err != nil {
			rl.logger.Warn("Rate limit check failed", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rl.logger.Warn("Rate limit exceeded", "key", key)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if claims := GetUserFromContext(r); claims != nil {
		return "user:" + claims.UserID
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
