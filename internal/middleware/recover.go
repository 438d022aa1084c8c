package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"mailoreply.ai/platform/internal/pressure"
	"mailoreply.ai/platform/pkg/logger"
)

// Recover turns a panic into a 500 so it never reaches the server loop.
func Recover(l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("Panic recovered", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
					writeError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Telemetry counts requests, server errors and latency into the per-minute
// buckets read by the pressure monitor. A nil writer disables it.
func Telemetry(w pressure.CounterWriter, l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if w == nil {
			return next
		}
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := pressure.RecordRequest(ctx, w, start, rec.status, time.Since(start)); err != nil {
				l.Debug("Telemetry write failed", "error", err)
			}
		})
	}
}
