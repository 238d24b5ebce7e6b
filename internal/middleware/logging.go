// Package middleware holds the HTTP middleware shared by the bridge routes
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"line-flex-bridge/internal/common/logging"
)

// RequestIDHeader carries the request id in and out of the bridge
const RequestIDHeader = "X-Request-ID"

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestID reuses an incoming X-Request-ID or assigns a new one, echoes it
// on the response and stores it in the request context for the logger
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// Logging logs every request with method, path, status and duration.
// Query strings are left out since webhook callbacks may carry credentials.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			fields := []logging.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: wrapped.statusCode},
				{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
				{Key: "remote_addr", Value: r.RemoteAddr},
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				fields = append(fields, logging.Field{Key: "user_agent", Value: ua})
			}

			log := logger.WithContext(r.Context())
			if wrapped.statusCode >= 500 {
				log.Error("HTTP request completed", nil, fields...)
			} else if wrapped.statusCode >= 400 {
				log.Warn("HTTP request completed", fields...)
			} else {
				log.Info("HTTP request completed", fields...)
			}
		})
	}
}

// Recover turns a panic in a handler into a 500 response
func Recover(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithContext(r.Context()).Error("Handler panicked", nil,
						logging.Field{Key: "panic", Value: rec},
						logging.Field{Key: "path", Value: r.URL.Path},
					)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
