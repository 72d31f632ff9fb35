package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/api-gatekeeper/token"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// ProtectedHeaderKey is the context key for the verified token header
	ProtectedHeaderKey contextKey = "protected_header"
)

// GetRequestIDFromContext retrieves the request ID from context.
// Falls back to the ID assigned by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves the verified claims from context
func GetClaimsFromContext(ctx context.Context) *token.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified claims to the context
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetProtectedHeaderFromContext retrieves the verified token header from context
func GetProtectedHeaderFromContext(ctx context.Context) *token.Header {
	if val := ctx.Value(ProtectedHeaderKey); val != nil {
		if header, ok := val.(*token.Header); ok {
			return header
		}
	}
	return nil
}

// WithProtectedHeader adds the verified token header to the context
func WithProtectedHeader(ctx context.Context, header *token.Header) context.Context {
	return context.WithValue(ctx, ProtectedHeaderKey, header)
}
