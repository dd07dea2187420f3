package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"printcalc/pkg/errors"
	"printcalc/pkg/logger"

	"github.com/google/uuid"
)

// ContextKey represents keys used in request context
type ContextKey string

const (
	// RequestIDContextKey is the key for the request ID in context
	RequestIDContextKey ContextKey = "request_id"
	// SessionContextKey is the key for validated tenant session claims
	SessionContextKey ContextKey = "session"
	// VisitContextKey is the key for the admitted visit result
	VisitContextKey ContextKey = "visit"
)

// RequestID assigns every request an ID, reusing a well-formed incoming X-Request-ID
func RequestID(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}

			ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID returns the request ID stored by RequestID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// GetRealIPAddress extracts the client IP. Proxy headers are only honored
// when the connecting peer is one of the trusted proxies.
func GetRealIPAddress(r *http.Request, trusted []*net.IPNet) string {
	peer := remoteIP(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	if ip := clientFromForwarded(r.Header.Values("X-Forwarded-For"), trusted); ip != "" {
		return ip
	}
	for _, header := range []string{"X-Real-IP", "X-Client-IP"} {
		if ip := strings.TrimSpace(r.Header.Get(header)); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return peer
}

// clientFromForwarded walks X-Forwarded-For from the nearest hop and returns
// the first address that is not a trusted proxy
func clientFromForwarded(values []string, trusted []*net.IPNet) string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}

	for i := len(hops) - 1; i >= 0; i-- {
		if net.ParseIP(hops[i]) == nil {
			return ""
		}
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return ""
}

func remoteIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

func isTrusted(ip string, trusted []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range trusted {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// WriteError logs appErr and writes it as the standard JSON error body
func WriteError(w http.ResponseWriter, r *http.Request, appErr *errors.AppError, log *logger.Logger) {
	requestID := GetRequestID(r.Context())

	entry := log.WithError(appErr).WithFields(map[string]interface{}{
		"request_id": requestID,
		"path":       r.URL.Path,
		"status":     appErr.StatusCode,
	})
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	if err := errors.WriteJSON(w, appErr, requestID); err != nil {
		log.WithError(err).Error("Failed to encode error response")
	}
}
