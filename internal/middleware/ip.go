package middleware

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/cerr"
)

// ClientIP gets the real client IP, taking into account X-Forwarded-For and
// X-Real-IP headers set by the reverse proxy in front of the server.
func ClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// X-Forwarded-For can contain multiple IPs; the first is the client
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IPRestrictionMiddleware validates incoming requests against configured
// allowed IPs or CIDR ranges.
//
// If no entries are configured, all requests are allowed. Otherwise the
// client IP must match one of them, or the request is refused with 403.
type IPRestrictionMiddleware struct {
	allowed []*net.IPNet
	raw     []string
	logger  *zap.Logger
}

// NewIPRestrictionMiddleware parses allowedIPs. Bare addresses are treated as
// single-host ranges; entries that parse as neither are logged and ignored.
func NewIPRestrictionMiddleware(allowedIPs []string, logger *zap.Logger) *IPRestrictionMiddleware {
	m := &IPRestrictionMiddleware{raw: allowedIPs, logger: logger}
	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 128
				if ip.To4() != nil {
					ip = ip.To4()
					bits = 32
				}
				m.allowed = append(m.allowed, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			logger.Warn("Ignoring invalid allowed IP entry", zap.String("entry", entry))
			continue
		}
		m.allowed = append(m.allowed, n)
	}
	return m
}

// Allowed reports whether ip passes the restriction.
func (m *IPRestrictionMiddleware) Allowed(ip string) bool {
	if len(m.raw) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range m.allowed {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func (m *IPRestrictionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := ClientIP(r)
		if !m.Allowed(clientIP) {
			m.logger.Warn("Access denied: IP not allowed",
				zap.String("client_ip", clientIP),
				zap.String("path", r.URL.Path))
			cerr.WriteError(w, apierr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
