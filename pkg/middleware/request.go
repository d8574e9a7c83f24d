// Package middleware provides HTTP middleware for the greeter server.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tcmartin/greeter/pkg/logging"
)

// Key type for context values
type contextKey string

// Context keys
const (
	RequestIDKey contextKey = "request_id"
)

// RequestIDHeader is the header used to carry the request ID
const RequestIDHeader = "X-Request-ID"

// RequestID is middleware that tags every request with an ID. An incoming
// X-Request-ID header is reused, otherwise a new UUID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the request context
func GetRequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(RequestIDKey).(string)
	return id, ok
}

// LoggerFor returns a logger bound to the request context and tagged with
// the request ID, when one is present
func LoggerFor(logger logging.Logger, r *http.Request) logging.Logger {
	l := logger.WithContext(r.Context())
	if id, ok := GetRequestID(r); ok {
		l = l.WithFields(logging.F(string(RequestIDKey), id))
	}
	return l
}

// RequestLogger traces every matched request at debug level
func RequestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			LoggerFor(logger, r).Debug("request",
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path),
				logging.F("remote_addr", r.RemoteAddr),
			)
			next.ServeHTTP(w, r)
		})
	}
}
