package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/cerr"
)

const (
	DefaultCSRFCookie = "csrf_token"
	DefaultCSRFHeader = "X-CSRF-Token"
	csrfNonceBytes    = 32
	minCSRFKeyLength  = 32
)

// CookieOptions are shared by the session and CSRF cookies.
type CookieOptions struct {
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	path := o.Path
	if path == "" {
		path = "/"
	}
	sameSite := o.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteStrictMode
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   o.Domain,
		Secure:   o.Secure,
		HttpOnly: httpOnly,
		SameSite: sameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge / time.Second)
		c.Expires = time.Now().Add(maxAge)
	} else if maxAge < 0 {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// SetSessionCookie writes the HttpOnly session cookie.
func (o CookieOptions) SetSessionCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, o.cookie(name, value, maxAge, true))
}

// ClearCookie expires the named cookie.
func (o CookieOptions) ClearCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, o.cookie(name, "", -1, httpOnly))
}

type CSRFConfig struct {
	Key           []byte
	CookieName    string
	HeaderName    string
	SessionCookie string
	Cookie        CookieOptions
}

// CSRFGuard implements a signed double-submit token for cookie-authenticated
// mutations. The token is nonce.HMAC(key, nonce|session), so a value minted
// for one session does not validate against another.
type CSRFGuard struct {
	key           []byte
	cookieName    string
	headerName    string
	sessionCookie string
	cookie        CookieOptions
	logger        *zap.Logger
}

func NewCSRFGuard(cfg CSRFConfig, logger *zap.Logger) (*CSRFGuard, error) {
	if len(cfg.Key) < minCSRFKeyLength {
		return nil, errors.New("csrf key must be at least 32 bytes")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCSRFCookie
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultCSRFHeader
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	return &CSRFGuard{
		key:           cfg.Key,
		cookieName:    cfg.CookieName,
		headerName:    cfg.HeaderName,
		sessionCookie: cfg.SessionCookie,
		cookie:        cfg.Cookie,
		logger:        logger,
	}, nil
}

// CookieName returns the name of the readable CSRF cookie.
func (g *CSRFGuard) CookieName() string {
	return g.cookieName
}

// Issue mints a token bound to the given session token.
func (g *CSRFGuard) Issue(session string) (string, error) {
	b := make([]byte, csrfNonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	nonce := base64.RawURLEncoding.EncodeToString(b)
	return nonce + "." + g.sign(nonce, session), nil
}

// SetCookie writes the CSRF cookie. It is readable by scripts so the client
// can echo it in the header.
func (g *CSRFGuard) SetCookie(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, g.cookie.cookie(g.cookieName, value, maxAge, false))
}

func (g *CSRFGuard) ClearCookie(w http.ResponseWriter) {
	g.cookie.ClearCookie(w, g.cookieName, false)
}

func (g *CSRFGuard) sign(nonce, session string) string {
	mac := hmac.New(sha256.New, g.key)
	mac.Write([]byte(nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(session))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Applies reports whether r must carry a CSRF token: a state-changing method
// authenticated by the session cookie rather than a bearer header.
func (g *CSRFGuard) Applies(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	if _, ok := bearerToken(r); ok {
		return false
	}
	c, err := r.Cookie(g.sessionCookie)
	return err == nil && c.Value != ""
}

// Check validates the header token against the cookie and the session.
func (g *CSRFGuard) Check(r *http.Request) error {
	if !g.Applies(r) {
		return nil
	}

	header := r.Header.Get(g.headerName)
	cookie, err := r.Cookie(g.cookieName)
	if header == "" || err != nil || cookie.Value == "" {
		return apierr.New(apierr.KindInvalidCSRF, "missing csrf token")
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
		return apierr.New(apierr.KindInvalidCSRF, "csrf token mismatch")
	}

	nonce, sig, found := strings.Cut(header, ".")
	if !found || nonce == "" || sig == "" {
		return apierr.New(apierr.KindInvalidCSRF, "malformed csrf token")
	}

	session, _ := r.Cookie(g.sessionCookie)
	if !hmac.Equal([]byte(sig), []byte(g.sign(nonce, session.Value))) {
		return apierr.New(apierr.KindInvalidCSRF, "csrf signature mismatch")
	}
	return nil
}

func (g *CSRFGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Check(r); err != nil {
			g.logger.Warn("CSRF check failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			cerr.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
