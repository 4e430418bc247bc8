// Package middleware provides request-context helpers shared by the HTTP
// layer and the handlers.
package middleware

import "context"

type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID extracts the correlation ID from the context.
// Returns "" if none is set.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// SetRequestID stores the correlation ID in the context so that logs
// emitted deep in the orchestrator can be tied back to the request.
func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
