package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"

	// Header carries the request ID between the browser, the dashboard and upstream
	Header = "X-Request-ID"
)

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// SetRequestID sets the request ID in context
func SetRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GenerateRequestID generates a new UUID for request tracing
func GenerateRequestID() string {
	return uuid.New().String()
}

// InjectRequestID adds request ID to HTTP request and response.
// An ID supplied by the caller is reused.
func InjectRequestID(w http.ResponseWriter, r *http.Request) (string, *http.Request) {
	requestID := r.Header.Get(Header)
	if requestID == "" {
		requestID = GenerateRequestID()
	}

	r = r.WithContext(SetRequestID(r.Context(), requestID))
	w.Header().Set(Header, requestID)

	return requestID, r
}

// Propagate copies the context's request ID onto an outgoing request,
// minting one for background work such as scheduled polls.
func Propagate(req *http.Request) string {
	requestID := GetRequestID(req.Context())
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	req.Header.Set(Header, requestID)
	return requestID
}
