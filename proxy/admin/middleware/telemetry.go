package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// HeaderClientRequestID carries an id chosen by the caller
	HeaderClientRequestID = "X-Client-Request-Id"
	// HeaderRequestID carries the id generated for every request
	HeaderRequestID = "X-Request-Id"

	clientRequestIDKey contextKey = "client_request_id"
	requestIDKey       contextKey = "request_id"
)

// Telemetry tags every request with a fresh request id and echoes the
// caller's X-Client-Request-Id. Both go into the response headers and the
// request context.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientRequestID := r.Header.Get(HeaderClientRequestID)
		requestID := uuid.New().String()

		if clientRequestID != "" {
			w.Header().Set(HeaderClientRequestID, clientRequestID)
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := r.Context()
		if clientRequestID != "" {
			ctx = context.WithValue(ctx, clientRequestIDKey, clientRequestID)
		}
		ctx = context.WithValue(ctx, requestIDKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientRequestID retrieves the client request ID from the context
func GetClientRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(clientRequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves the generated request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
