package logging

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
)

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return "cor_" + uuid.NewString()
}

// GenerateRequestID generates a new request ID
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// CorrelationIDMiddleware is HTTP middleware that adds correlation ID to requests
func CorrelationIDMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := SanitizeCorrelationID(r.Header.Get(CorrelationIDHeader))
			if correlationID == "" {
				correlationID = GenerateCorrelationID()
			}

			requestID := SanitizeCorrelationID(r.Header.Get(RequestIDHeader))
			if requestID == "" {
				requestID = GenerateRequestID()
			}

			ctx := CreateContextWithIDs(r.Context(), correlationID, requestID)
			ctx = context.WithValue(ctx, ServiceKey, "chaos-api")

			w.Header().Set(CorrelationIDHeader, correlationID)
			w.Header().Set(RequestIDHeader, requestID)

			r = r.WithContext(ctx)
			logger.RequestStart(ctx, r.Method, r.URL.Path, r.UserAgent())

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs HTTP requests and responses
func LoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			logger.RequestEnd(r.Context(), r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), wrapped.size)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += int64(size)
	return size, err
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// ExtractCorrelationID extracts correlation ID from context
func ExtractCorrelationID(ctx context.Context) string {
	return stringValue(ctx, CorrelationIDKey)
}

// ExtractRequestID extracts request ID from context
func ExtractRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// ExtractActionID returns the id of the action run ctx belongs to
func ExtractActionID(ctx context.Context) string {
	return stringValue(ctx, ActionIDKey)
}

// CreateContextWithIDs creates a context with correlation and request IDs
func CreateContextWithIDs(ctx context.Context, correlationID, requestID string) context.Context {
	if correlationID != "" {
		ctx = context.WithValue(ctx, CorrelationIDKey, correlationID)
	}
	if requestID != "" {
		ctx = context.WithValue(ctx, RequestIDKey, requestID)
	}
	return ctx
}

// WithAction tags ctx with the action run it belongs to. A correlation ID is
// added when the caller did not supply one.
func WithAction(ctx context.Context, actionID, kind string) context.Context {
	ctx = context.WithValue(ctx, ActionIDKey, actionID)
	ctx = context.WithValue(ctx, ActionKindKey, kind)
	if ExtractCorrelationID(ctx) == "" {
		ctx = context.WithValue(ctx, CorrelationIDKey, GenerateCorrelationID())
	}
	return ctx
}

// SanitizeCorrelationID sanitizes correlation ID to prevent log injection
func SanitizeCorrelationID(id string) string {
	id = strings.ReplaceAll(id, "\n", "")
	id = strings.ReplaceAll(id, "\r", "")
	id = strings.ReplaceAll(id, "\t", "")

	if len(id) > 64 {
		id = id[:64]
	}

	return id
}
