package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/victorgomez09/escuela/internal/config"
)

type ServerSecurity struct {
	HSTS                  bool   // Enables HTTP Strict Transport Security (HSTS).
	HSTSMaxAge            int    // Seconds the browser should remember to use HTTPS only.
	HSTSIncludeSubDomains bool   // If true, applies HSTS policy to all subdomains.
	FrameOptions          string // X-Frame-Options header value.
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// NewSecurityMiddleware initializes and returns a new ServerSecurity instance based on the provided configuration.
func NewSecurityMiddleware(cfg config.Security) *ServerSecurity {
	return &ServerSecurity{
		HSTS:                  cfg.HSTS,
		HSTSMaxAge:            cfg.HSTSMaxAge,
		HSTSIncludeSubDomains: cfg.HSTSIncludeSubDomains,
		FrameOptions:          cfg.FrameOptions,
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
		ReferrerPolicy:        cfg.ReferrerPolicy,
		PermissionsPolicy:     cfg.PermissionsPolicy,
	}
}

// Middleware sets the security headers on every response. API responses are
// never cached since they may carry account data.
func (s *ServerSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		if s.HSTS {
			value := fmt.Sprintf("max-age=%d", s.HSTSMaxAge)
			if s.HSTSIncludeSubDomains {
				value += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", value)
		}

		if s.FrameOptions != "" {
			h.Set("X-Frame-Options", s.FrameOptions)
		}
		if s.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", s.ContentSecurityPolicy)
		}
		if s.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", s.ReferrerPolicy)
		}
		if s.PermissionsPolicy != "" {
			h.Set("Permissions-Policy", s.PermissionsPolicy)
		}
		h.Set("X-Content-Type-Options", "nosniff")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			h.Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
