package middleware

import (
	"context"
	"net/http"
	"strings"

	"printcalc/internal/domain"
	"printcalc/internal/service"
	"printcalc/pkg/errors"
	"printcalc/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// OptionalSession validates a Bearer session token when one is sent and
// stores its claims in the context. Requests without a token continue
// anonymously; a token that fails validation is rejected with 401.
func OptionalSession(sessions service.SessionService, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			// If no auth header, continue without a tenant session
			if authHeader == "" || sessions == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				WriteError(w, r, errors.NewAuthenticationError("Invalid authorization header format"), log)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" {
				WriteError(w, r, errors.NewAuthenticationError("Token is required"), log)
				return
			}

			claims, err := sessions.ValidateSessionToken(r.Context(), token)
			if err != nil {
				WriteError(w, r, errors.NewAuthenticationError("Invalid or expired session token"), log)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			log.WithField("tenant", claims.TenantSlug).Debug("Tenant session authenticated")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext returns the validated session, if any
func SessionFromContext(ctx context.Context) (*domain.SessionClaims, bool) {
	claims, ok := ctx.Value(SessionContextKey).(*domain.SessionClaims)
	return claims, ok && claims != nil
}

// TenantSlug resolves the tenant of a request: the session first, then the
// {slug} route parameter, then the slug query parameter. It returns "" for
// anonymous requests.
func TenantSlug(r *http.Request) string {
	if claims, ok := SessionFromContext(r.Context()); ok {
		return claims.TenantSlug
	}
	if slug := strings.TrimSpace(chi.URLParam(r, "slug")); slug != "" {
		return slug
	}
	return strings.TrimSpace(r.URL.Query().Get("slug"))
}
