package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/escuela/pkg/trace"
)

// headers never written to the access log
var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"X-Csrf-Token":  true,
}

type LoggingMiddleware struct {
	logger         *zap.Logger
	logLevel       zapcore.Level
	includeHeaders bool
	includeQuery   bool
	excludePaths   []string
}

type LoggingOption func(*LoggingMiddleware)

func WithLogLevel(level zapcore.Level) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.logLevel = level
	}
}

// enables logging of request headers. Credentials are always redacted.
func WithHeaders(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeHeaders = enabled
	}
}

// enables logging of query parameters.
func WithQueryParams(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeQuery = enabled
	}
}

// excludes specified paths from logging.
func WithExcludePaths(paths []string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.excludePaths = paths
	}
}

func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	lm := &LoggingMiddleware{
		logger:   logger,
		logLevel: zapcore.InfoLevel,
	}

	for _, opt := range opts {
		opt(lm)
	}

	return lm
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, excludePath := range l.excludePaths {
		if strings.HasPrefix(path, excludePath) {
			return true
		}
	}
	return false
}

func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		fields := make([]zap.Field, 0, 10)
		fields = append(fields,
			zap.String("request_id", trace.GetRequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", duration),
			zap.String("ip", ClientIP(r)),
			zap.String("user_agent", r.UserAgent()),
			zap.Int64("response_size", sw.length),
		)

		if l.includeQuery && len(r.URL.RawQuery) > 0 {
			queryParams := make(map[string]string)
			for key, values := range r.URL.Query() {
				queryParams[key] = strings.Join(values, ",")
			}
			fields = append(fields, zap.Any("query_params", queryParams))
		}

		if l.includeHeaders {
			headers := make(map[string]string)
			for key, values := range r.Header {
				if redactedHeaders[key] {
					headers[key] = "[REDACTED]"
					continue
				}
				headers[key] = strings.Join(values, ",")
			}
			fields = append(fields, zap.Any("headers", headers))
		}

		switch {
		case sw.status >= 500:
			l.logger.Error("Server error", fields...)
		case sw.status >= 400:
			l.logger.Warn("Client error", fields...)
		default:
			if ce := l.logger.Check(l.logLevel, "Request completed"); ce != nil {
				ce.Write(fields...)
			}
		}
	})
}
