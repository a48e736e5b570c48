package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/config"
	"github.com/victorgomez09/escuela/internal/ratelimit"
	"github.com/victorgomez09/escuela/pkg/trace"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return Func(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		})
	}

	chain := NewMiddlewareChain(mark("a"), mark("b"))
	chain.Use(nil)
	chain.Use(mark("c"))
	chain.Then(okHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func TestIPRestriction(t *testing.T) {
	m := NewIPRestrictionMiddleware([]string{"10.0.0.0/8", "192.0.2.1", "garbage"}, zap.NewNop())
	assert.True(t, m.Allowed("10.1.2.3"))
	assert.True(t, m.Allowed("192.0.2.1"))
	assert.False(t, m.Allowed("192.0.2.2"))
	assert.False(t, m.Allowed("not-an-ip"))

	h := m.Middleware(okHandler)
	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.RemoteAddr = "203.0.113.9:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	open := NewIPRestrictionMiddleware(nil, zap.NewNop())
	assert.True(t, open.Allowed("203.0.113.9"))
}

func TestCORS(t *testing.T) {
	c := NewCORSMiddleware(config.CORS{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	h := c.Middleware(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/api/users/login", nil)
	r.Header.Set("Origin", "http://localhost:5173")
	r.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET,POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	r = httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	s := NewSecurityMiddleware(config.Security{
		HSTS:                  true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubDomains: true,
		FrameOptions:          "DENY",
		ContentSecurityPolicy: "default-src 'none'",
		ReferrerPolicy:        "no-referrer",
	})
	w := httptest.NewRecorder()
	s.Middleware(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/courses", nil))

	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRateLimiter(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 2, Window: time.Hour})
	h := NewRateLimiterMiddleware(limiter, zap.NewNop()).Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
		r.RemoteAddr = "192.0.2.1:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	r := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	r.RemoteAddr = "192.0.2.2:1000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := trace.WithRequestID().Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(trace.RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(trace.RequestIDHeader, "edge-abc12345")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "edge-abc12345", seen)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(trace.RequestIDHeader, "bad id\nwith newline")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.NotEqual(t, "bad id\nwith newline", seen)
}

func TestCompression(t *testing.T) {
	h := NewCompressionMiddleware().Middleware(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline bool
	h := NewTimeoutMiddleware(time.Second).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, deadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, deadline)
}
