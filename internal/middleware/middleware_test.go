package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"printcalc/internal/domain"
	"printcalc/internal/repository"
	"printcalc/internal/service/auth"
	"printcalc/internal/service/visitguard"
	"printcalc/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type failingGuard struct{}

func (failingGuard) CheckAndRecord(ctx context.Context, visit visitguard.Visit) (*domain.VisitResult, error) {
	return nil, errors.New("store unavailable")
}

func (failingGuard) MaxAttempts() int64 { return 5 }

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})

	t.Run("reuses a valid incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "6f1c2a4e-8a0b-4a53-9df6-0c1d2e3f4a5b")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "6f1c2a4e-8a0b-4a53-9df6-0c1d2e3f4a5b", seen)
	})

	t.Run("replaces a malformed incoming id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "<script>")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEqual(t, "<script>", seen)
		assert.NotEmpty(t, seen)
	})
}

func mustCIDRs(t *testing.T, cidrs ...string) []*net.IPNet {
	t.Helper()
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		require.NoError(t, err)
		nets = append(nets, n)
	}
	return nets
}

func TestGetRealIPAddress(t *testing.T) {
	proxies := mustCIDRs(t, "10.0.0.0/8")

	tests := []struct {
		name       string
		trusted    []*net.IPNet
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "headers ignored without trusted proxies",
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.1", "X-Real-IP": "198.51.100.2"},
			remoteAddr: "192.0.2.10:5000",
			want:       "192.0.2.10",
		},
		{
			name:       "headers ignored from untrusted peer",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			remoteAddr: "192.0.2.10:5000",
			want:       "192.0.2.10",
		},
		{
			name:       "cloudflare header from trusted peer",
			trusted:    proxies,
			headers:    map[string]string{"CF-Connecting-IP": "203.0.113.9", "X-Forwarded-For": "198.51.100.1"},
			remoteAddr: "10.0.0.1:5000",
			want:       "203.0.113.9",
		},
		{
			name:       "nearest untrusted forwarded hop",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.1, 10.0.0.2, 10.0.0.3"},
			remoteAddr: "10.0.0.1:5000",
			want:       "198.51.100.1",
		},
		{
			name:       "all forwarded hops trusted",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.2"},
			remoteAddr: "10.0.0.1:5000",
			want:       "10.0.0.5",
		},
		{
			name:       "real ip header from trusted peer",
			trusted:    proxies,
			headers:    map[string]string{"X-Real-IP": " 198.51.100.7 "},
			remoteAddr: "10.0.0.1:5000",
			want:       "198.51.100.7",
		},
		{
			name:       "garbage header falls back to peer",
			trusted:    proxies,
			headers:    map[string]string{"X-Real-IP": "<script>"},
			remoteAddr: "10.0.0.1:5000",
			want:       "10.0.0.1",
		},
		{
			name:       "remote address without port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
		{
			name:       "remote address with port",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetRealIPAddress(req, tt.trusted))
		})
	}
}

func TestOptionalSession(t *testing.T) {
	sessions := auth.NewService(testSecret, logger.NewNop())
	token, err := sessions.IssueSessionToken("owner-1", "copyshop", time.Hour)
	require.NoError(t, err)

	var tenant string
	h := OptionalSession(sessions, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = TenantSlug(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous request passes", func(t *testing.T) {
		tenant = "unset"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calculate-price", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "", tenant)
	})

	t.Run("valid token sets tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price?slug=other", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "copyshop", tenant)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
	})

	t.Run("non bearer scheme is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestTenantSlug_RouteAndQuery(t *testing.T) {
	var tenant string
	r := chi.NewRouter()
	r.Post("/print/{slug}/calculate-price", func(w http.ResponseWriter, r *http.Request) {
		tenant = TenantSlug(r)
	})
	r.Post("/calculate-price", func(w http.ResponseWriter, r *http.Request) {
		tenant = TenantSlug(r)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/print/copyshop/calculate-price?slug=ignored", nil))
	assert.Equal(t, "copyshop", tenant)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/calculate-price?slug=kiosk", nil))
	assert.Equal(t, "kiosk", tenant)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/calculate-price", nil))
	assert.Equal(t, "", tenant)
}

func newTestGuardHandler(limit int64) http.Handler {
	return newTestGuardHandlerWithConfig(limit, VisitGuardConfig{CookieTTL: 30 * 24 * time.Hour})
}

func newTestGuardHandlerWithConfig(limit int64, cfg VisitGuardConfig) http.Handler {
	clock := fixedClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	guard := visitguard.NewGuard(repository.NewMemoryVisitRepository(), clock, time.UTC, limit, logger.NewNop())

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(VisitGuard(guard, cfg, logger.NewNop()))
		r.Post("/calculate-price", okHandler)
		r.Post("/print/{slug}/calculate-price", okHandler)
	})
	return r
}

func TestVisitGuard_LimitsAnonymousVisits(t *testing.T) {
	h := newTestGuardHandler(5)

	for i := 1; i <= 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.RemoteAddr = "198.51.100.4:40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "visit %d", i)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(5-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
	req.RemoteAddr = "198.51.100.4:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error map[string]interface{} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit", body.Error["type"])

	// a different client address has its own bucket
	req = httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
	req.RemoteAddr = "198.51.100.5:40000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVisitGuard_ForwardedHeadersDoNotOpenNewBuckets(t *testing.T) {
	h := newTestGuardHandler(5)

	admitted := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.RemoteAddr = "198.51.100.4:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code == http.StatusOK {
			admitted++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}

	assert.Equal(t, 5, admitted)
}

func TestVisitGuard_TrustedProxyForwardsClientAddress(t *testing.T) {
	h := newTestGuardHandlerWithConfig(1, VisitGuardConfig{TrustedProxies: mustCIDRs(t, "10.0.0.0/8")})

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.RemoteAddr = "10.1.2.3:40000"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	// distinct clients behind the same proxy keep separate buckets
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
}

type recordingGuard struct {
	visits []visitguard.Visit
}

func (g *recordingGuard) CheckAndRecord(ctx context.Context, visit visitguard.Visit) (*domain.VisitResult, error) {
	g.visits = append(g.visits, visit)
	return &domain.VisitResult{VisitorToken: "token", Limit: 5, Remaining: 4}, nil
}

func (g *recordingGuard) MaxAttempts() int64 { return 5 }

func TestVisitGuard_TruncatesUserAgent(t *testing.T) {
	guard := &recordingGuard{}
	r := chi.NewRouter()
	r.Use(VisitGuard(guard, VisitGuardConfig{}, logger.NewNop()))
	r.Post("/calculate-price", okHandler)

	tests := []struct {
		name    string
		ua      string
		wantLen int
	}{
		{name: "short agent kept", ua: "curl/8.0", wantLen: 8},
		{name: "ascii cut at limit", ua: strings.Repeat("a", 400), wantLen: 255},
		{name: "multibyte rune not split", ua: strings.Repeat("a", 254) + "é" + "tail", wantLen: 254},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard.visits = nil
			req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
			req.Header.Set("User-Agent", tt.ua)
			r.ServeHTTP(httptest.NewRecorder(), req)

			require.Len(t, guard.visits, 1)
			got := guard.visits[0].UserAgent
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
			assert.True(t, strings.HasPrefix(tt.ua, got))
		})
	}
}

func TestVisitGuard_TenantRequestsAreExempt(t *testing.T) {
	h := newTestGuardHandler(1)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/print/copyshop/calculate-price", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestVisitGuard_VisitorCookie(t *testing.T) {
	h := newTestGuardHandler(5)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calculate-price", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, VisitorCookie, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
	assert.Equal(t, 30*24*60*60, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)

	// a returning visitor keeps the cookie it has
	req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookie, Value: cookies[0].Value})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestVisitGuard_StoreFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Use(VisitGuard(failingGuard{}, VisitGuardConfig{}, logger.NewNop()))
	r.Post("/calculate-price", okHandler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calculate-price", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://shop.example.com"}
	h := CORS(cfg, logger.NewNop())(http.HandlerFunc(okHandler))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/calculate-price", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
		assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/calculate-price", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
