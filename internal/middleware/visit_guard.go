package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"printcalc/internal/domain"
	"printcalc/internal/service"
	"printcalc/internal/service/visitguard"
	apperrors "printcalc/pkg/errors"
	"printcalc/pkg/logger"
)

// VisitorCookie holds the durable visitor token
const VisitorCookie = "visitor_id"

// maxUserAgentLength bounds the user agent stored with a visit
const maxUserAgentLength = 255

// VisitGuardConfig configures the visitor cookie and which peers may set
// forwarding headers
type VisitGuardConfig struct {
	CookieTTL      time.Duration
	SecureCookie   bool
	TrustedProxies []*net.IPNet
}

// VisitGuard enforces the daily per (ip, page) ceiling on anonymous requests.
// Requests that carry a tenant (see TenantSlug) are exempt.
func VisitGuard(guard service.VisitGuard, cfg VisitGuardConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if TenantSlug(r) != "" {
				next.ServeHTTP(w, r)
				return
			}

			var token string
			if cookie, err := r.Cookie(VisitorCookie); err == nil {
				token = cookie.Value
			}

			result, err := guard.CheckAndRecord(r.Context(), visitguard.Visit{
				IPAddress:    GetRealIPAddress(r, cfg.TrustedProxies),
				Page:         r.URL.Path,
				VisitorToken: token,
				UserAgent:    truncateUserAgent(r.UserAgent()),
			})

			var limited *visitguard.RateLimitedError
			switch {
			case errors.As(err, &limited):
				if limited.VisitorToken != token {
					setVisitorCookie(w, limited.VisitorToken, cfg)
				}
				setRateLimitHeaders(w, limited.Limit, 0, limited.ResetAt)
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(limited.ResetAt), 10))
				WriteError(w, r, apperrors.NewRateLimitError("Daily limit for this page has been reached. Please try again tomorrow."), log)
				return
			case err != nil:
				WriteError(w, r, apperrors.NewInternalError("Failed to check visit limit", err), log)
				return
			}

			if result.NewVisitor {
				setVisitorCookie(w, result.VisitorToken, cfg)
			}
			setRateLimitHeaders(w, result.Limit, result.Remaining, result.ResetAt)

			ctx := context.WithValue(r.Context(), VisitContextKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VisitFromContext returns the admitted visit, if the guard ran
func VisitFromContext(ctx context.Context) (*domain.VisitResult, bool) {
	result, ok := ctx.Value(VisitContextKey).(*domain.VisitResult)
	return result, ok && result != nil
}

func setVisitorCookie(w http.ResponseWriter, token string, cfg VisitGuardConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.CookieTTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// setRateLimitHeaders sets standard rate limit headers
func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func retryAfterSeconds(resetAt time.Time) int64 {
	seconds := int64(time.Until(resetAt).Seconds())
	if seconds < 1 {
		return 1
	}
	return seconds
}

func truncateUserAgent(ua string) string {
	if len(ua) <= maxUserAgentLength {
		return ua
	}
	cut := maxUserAgentLength
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}
