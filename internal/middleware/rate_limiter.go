package middleware

import (
	"net/http"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/cerr"
	"github.com/victorgomez09/escuela/internal/ratelimit"
)

// RateLimiterMiddleware budgets requests per client IP.
type RateLimiterMiddleware struct {
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// NewRateLimiterMiddleware wraps limiter, keyed by client IP.
func NewRateLimiterMiddleware(limiter ratelimit.Limiter, logger *zap.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{limiter: limiter, logger: logger}
}

// Middleware refuses requests over budget with 429. When the backend cannot
// answer the request is let through.
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		ok, err := m.limiter.Allow(r.Context(), ip)
		if err != nil {
			m.logger.Warn("Rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			m.logger.Debug("Rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			cerr.WriteError(w, apierr.ErrRateLimited)
			return
		}

		next.ServeHTTP(w, r)
	})
}
