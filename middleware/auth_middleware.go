package middleware

import (
	"context"
	"net/http"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/upb/api-gatekeeper/token"
	"github.com/upb/api-gatekeeper/utils"
)

// TokenVerifier defines the interface for verifying bearer tokens
type TokenVerifier interface {
	// Verify checks a raw token and reports the tagged outcome
	Verify(ctx context.Context, raw string) token.Result
}

// AuthMiddleware provides authentication and scope authorization middleware
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// Authorization header rejection descriptions
const (
	descNoHeader        = "No Authorization header included in request"
	descBadStructure    = "Invalid Authorization header structure"
	descNotBearer       = "Invalid authorization header (only Bearer tokens are supported)"
	descNoToken         = "No token included in request"
	descVerifyFailure   = "Token verification failure"
	missingScopePrefix  = "Missing required scope: "
	unavailableResponse = "Authentication service unavailable"
)

// RequireAuth is a middleware that requires a valid bearer token.
// On success the verified claims and protected header are published in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		raw, desc := extractBearerToken(r.Header.Get("Authorization"))
		if desc != "" {
			m.logger.Warn("invalid authorization header",
				zap.String("request_id", requestID),
				zap.String("reason", desc))
			writeChallenge(w, r, http.StatusUnauthorized, ErrorInvalidRequest, desc)
			return
		}

		res := m.verifier.Verify(ctx, raw)
		switch res.Outcome {
		case token.OutcomeVerified:
		case token.OutcomeUnavailable:
			m.logger.Error("key set unavailable, cannot verify token",
				zap.String("request_id", requestID),
				zap.Error(res.Err))
			_ = utils.WriteInternalServerError(w, unavailableResponse)
			return
		default:
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.Error(res.Err))
			writeChallenge(w, r, http.StatusUnauthorized, ErrorInvalidToken, descVerifyFailure)
			return
		}

		ctx = WithClaims(ctx, res.Claims)
		ctx = WithProtectedHeader(ctx, res.Header)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", res.Claims.Subject))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope is a middleware that requires the verified token to grant scope.
// It must be mounted after RequireAuth.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID),
					zap.String("required_scope", scope))
				_ = utils.WriteInternalServerError(w, "")
				return
			}

			if !claims.HasScope(scope) {
				m.logger.Warn("insufficient scope",
					zap.String("request_id", requestID),
					zap.String("sub", claims.Subject),
					zap.String("required_scope", scope),
					zap.Strings("granted_scopes", claims.Scope.List()))
				writeChallenge(w, r, http.StatusForbidden, ErrorInsufficientScope, missingScopePrefix+scope)
				return
			}

			m.logger.Debug("scope check passed",
				zap.String("request_id", requestID),
				zap.String("required_scope", scope))

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken returns the token from an Authorization header value,
// or the rejection description when the header is unusable
func extractBearerToken(header string) (string, string) {
	if header == "" {
		return "", descNoHeader
	}

	parts := splitOnSpace(header)

	// HTTP servers strip trailing whitespace from field values, so "Bearer " arrives as "Bearer"
	if len(parts) == 1 && parts[0] == "Bearer" {
		return "", descNoToken
	}
	if len(parts) != 2 {
		return "", descBadStructure
	}
	if parts[0] != "Bearer" {
		return "", descNotBearer
	}
	if parts[1] == "" {
		return "", descNoToken
	}
	return parts[1], ""
}

// splitOnSpace splits s around runs of Unicode whitespace. Leading or trailing
// whitespace yields an empty first or last part.
func splitOnSpace(s string) []string {
	parts := strings.FieldsFunc(s, unicode.IsSpace)
	if strings.TrimLeftFunc(s, unicode.IsSpace) != s {
		parts = append([]string{""}, parts...)
	}
	if strings.TrimRightFunc(s, unicode.IsSpace) != s {
		parts = append(parts, "")
	}
	return parts
}
