package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/token"
	"github.com/victorgomez09/escuela/internal/cerr"
)

const DefaultSessionCookie = "jwt"

// AccountFinder resolves a token subject to its current account.
type AccountFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Account, error)
}

// TokenVerifier checks a raw token.
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

type AuthMiddleware struct {
	tokens        TokenVerifier
	accounts      AccountFinder
	policy        lockout.Policy
	sessionCookie string
	now           func() time.Time
	logger        *zap.Logger
}

type AuthOption func(*AuthMiddleware)

func WithSessionCookie(name string) AuthOption {
	return func(m *AuthMiddleware) {
		if name != "" {
			m.sessionCookie = name
		}
	}
}

func WithClock(now func() time.Time) AuthOption {
	return func(m *AuthMiddleware) { m.now = now }
}

func NewAuthMiddleware(tokens TokenVerifier, accounts AccountFinder, policy lockout.Policy, logger *zap.Logger, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		tokens:        tokens,
		accounts:      accounts,
		policy:        policy,
		sessionCookie: DefaultSessionCookie,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate resolves the request's credential into an Identity. It never
// writes to the store.
//
//  1. Extract: Authorization bearer header, then the session cookie
//  2. Verify signature and expiry
//  3. Resolve the subject to an active account
//  4. Reject tokens issued before the last password change
//  5. Reject accounts inside a lock window
func (m *AuthMiddleware) Authenticate(r *http.Request) (*Identity, error) {
	raw, source, ok := m.extract(r)
	if !ok {
		return nil, apierr.ErrAuthenticationRequired
	}

	claims, err := m.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}

	id, err := claims.AccountID()
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", err)
	}

	account, err := m.accounts.FindByID(r.Context(), id)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.Wrap(apierr.KindAuthenticationRequired, "account no longer exists", err)
		}
		return nil, err
	}
	if !account.Active {
		return nil, apierr.New(apierr.KindAuthenticationRequired, "account is inactive")
	}

	if account.PasswordChangedAt != nil && account.PasswordChangedAt.After(claims.IssuedAtTime()) {
		return nil, apierr.ErrStalePasswordToken
	}

	if err := m.policy.Check(account.Counters(), m.now()); err != nil {
		return nil, err
	}

	return &Identity{
		Account: account.Public(),
		Role:    account.Role,
		Token:   raw,
		Claims:  claims,
		Source:  source,
	}, nil
}

// Middleware runs Authenticate and either attaches the identity or writes the
// mapped error.
func (m *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Authenticate(r)
		if err != nil {
			m.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("kind", apierr.KindOf(err).String()),
		zap.Error(err),
	}
	if apierr.KindOf(err) == apierr.KindServiceUnavailable {
		m.logger.Error("Authentication unavailable", fields...)
	} else {
		m.logger.Debug("Authentication rejected", fields...)
	}
	cerr.WriteError(w, err)
}

func (m *AuthMiddleware) extract(r *http.Request) (string, CredentialSource, bool) {
	if raw, ok := bearerToken(r); ok {
		return raw, SourceBearer, true
	}
	if c, err := r.Cookie(m.sessionCookie); err == nil && c.Value != "" {
		return c.Value, SourceCookie, true
	}
	return "", SourceBearer, false
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
