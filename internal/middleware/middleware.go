package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/config"
	"github.com/victorgomez09/escuela/internal/ratelimit"
)

// Middleware defines an interface for HTTP middleware.
// Each middleware must implement the Middleware method, which takes the next handler in the chain
// and returns a new handler that wraps additional functionality around it.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// Func adapts a plain wrapping function to Middleware.
type Func func(http.Handler) http.Handler

func (f Func) Middleware(next http.Handler) http.Handler {
	return f(next)
}

// statusWriter is a custom ResponseWriter that captures the HTTP status code and the length of the response.
type statusWriter struct {
	http.ResponseWriter
	status int
	length int64
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.length += int64(n)
	return n, err
}

// Flush delegates to the embedded ResponseWriter if it implements http.Flusher.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// MiddlewareChain manages a sequence of middleware.
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middlewares: middlewares}
}

// Use adds a new Middleware to the MiddlewareChain. Nil entries are skipped.
func (c *MiddlewareChain) Use(middleware Middleware) {
	if middleware == nil {
		return
	}
	c.middlewares = append(c.middlewares, middleware)
}

// Then applies the middleware chain to the final HTTP handler.
// The first middleware added is the first to process the request.
func (c *MiddlewareChain) Then(final http.Handler) http.Handler {
	if final == nil {
		final = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		final = c.middlewares[i].Middleware(final)
	}
	return final
}

// AddConfiguredMiddlewares adds the global middleware described by the
// configuration: security headers, CORS, per-client rate limiting, request
// timeout and compression, in that order.
func (c *MiddlewareChain) AddConfiguredMiddlewares(cfg *config.Escuela, limiter ratelimit.Limiter, logger *zap.Logger) {
	c.Use(NewSecurityMiddleware(cfg.Security))
	logger.Info("Global Security middleware configured")

	c.Use(NewCORSMiddleware(cfg.CORS))
	logger.Info("Global CORS middleware configured", zap.Strings("allowed_origins", cfg.CORS.AllowedOrigins))

	if limiter != nil {
		c.Use(NewRateLimiterMiddleware(limiter, logger))
		logger.Info("Global Rate Limiter middleware configured",
			zap.Float64("requests_per_second", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst))
	}

	if cfg.Server.RequestTimeout > 0 {
		c.Use(NewTimeoutMiddleware(cfg.Server.RequestTimeout))
	}

	if cfg.Compression {
		c.Use(NewCompressionMiddleware())
		logger.Info("Global Compression middleware configured")
	}
}

// TimeoutMiddleware bounds the context of every request.
type TimeoutMiddleware struct {
	timeout time.Duration
}

func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	return &TimeoutMiddleware{timeout: timeout}
}

func (t *TimeoutMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), t.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
