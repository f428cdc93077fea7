// Package middleware provides HTTP middleware for the studiodesk API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/studiodesk/studiodesk/internal/errors"
	"github.com/studiodesk/studiodesk/internal/httputil"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ID   string
	Role string
	// OwnerID is the tenant the principal acts for. For owners it equals ID.
	OwnerID string
}

// Verifier turns a bearer token into a principal.
type Verifier func(ctx context.Context, token string) (Principal, error)

type principalKey struct{}

// WithPrincipal stores p on the context together with the logger user fields.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = logger.WithUser(ctx, p.ID, p.Role)
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored on ctx.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// AuthMiddleware provides bearer token authentication
type AuthMiddleware struct {
	verify Verifier
	logger *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verify Verifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		verify: verify,
		logger: log,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := BearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		principal, err := m.verify(r.Context(), tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}
		if principal.OwnerID == "" {
			principal.OwnerID = principal.ID
		}

		ctx := WithPrincipal(r.Context(), principal)
		m.logger.WithContext(ctx).WithField("role", principal.Role).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from the Authorization header. Websocket
// clients that cannot set headers may pass it as the access_token query
// parameter instead.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if q := strings.TrimSpace(r.URL.Query().Get("access_token")); q != "" {
			return q, nil
		}
		return "", errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.UserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logger.Role(ctx)
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetUserRole(r.Context())
			if GetUserID(r.Context()) == "" {
				httputil.Unauthorized(w, "")
				return
			}
			if !allowed[role] {
				serviceErr := errors.Forbidden("insufficient role")
				httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
