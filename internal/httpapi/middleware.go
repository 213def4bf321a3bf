package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"shiptrack/pkg/logger"
	"shiptrack/pkg/metrics"
	"shiptrack/pkg/ratelimit"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware assigns a request id and logs completion, mirroring
// the teacher's NewLoggingInterceptor shape adapted to net/http.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		logger.Info("http request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// metricsMiddleware records every request against the shared HTTP
// metrics, per spec.md's ambient observability stack.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
		})
	}
}

// rateLimitMiddleware enforces pkg/ratelimit at the HTTP boundary
// (spec.md §4.10: rate limiting is a transport-level concern, kept out
// of the Ingestion Gateway itself). Keyed by remote address; a missing
// or failing limiter never blocks traffic.
func rateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			allowed, err := limiter.Allow(r.Context(), r.RemoteAddr)
			if err != nil {
				logger.Warn("rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				writeError(w, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
