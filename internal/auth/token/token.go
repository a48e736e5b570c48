package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/models"
)

func init() {
	// iat has to order against password changes made within the same second.
	jwt.TimePrecision = time.Microsecond
}

// Resolution of iat and exp. Claims decode through float64, so parsed values
// are rounded back to this resolution.
const Resolution = time.Millisecond

const (
	DefaultBearerTTL = time.Hour
	DefaultCookieTTL = 30 * 24 * time.Hour
	MinSecretLength  = 32
)

// Surface selects the lifetime of an issued token. Both surfaces share one
// verification contract.
type Surface int

const (
	SurfaceBearer Surface = iota
	SurfaceCookie
)

func (s Surface) String() string {
	if s == SurfaceCookie {
		return "cookie"
	}
	return "bearer"
}

// Claims carried by every token. Subject is the account id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad subject %q", c.Subject)
	}
	return id, nil
}

// IssuedAtTime returns the iat claim, or the zero time when absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Token is a freshly signed token.
type Token struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Config struct {
	Secret    []byte
	Issuer    string
	BearerTTL time.Duration
	CookieTTL time.Duration
	Now       func() time.Time
}

// Manager issues and verifies HS256 tokens with a single process-wide secret.
// Rotating the secret invalidates every outstanding token.
type Manager struct {
	secret    []byte
	issuer    string
	bearerTTL time.Duration
	cookieTTL time.Duration
	now       func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.BearerTTL <= 0 {
		cfg.BearerTTL = DefaultBearerTTL
	}
	if cfg.CookieTTL <= 0 {
		cfg.CookieTTL = DefaultCookieTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Manager{
		secret:    secret,
		issuer:    cfg.Issuer,
		bearerTTL: cfg.BearerTTL,
		cookieTTL: cfg.CookieTTL,
		now:       cfg.Now,
	}, nil
}

// TTL returns the lifetime used for surface.
func (m *Manager) TTL(surface Surface) time.Duration {
	if surface == SurfaceCookie {
		return m.cookieTTL
	}
	return m.bearerTTL
}

// Issue signs a token for the given account, issued now.
func (m *Manager) Issue(accountID int64, role models.Role, surface Surface) (Token, error) {
	return m.IssueAt(accountID, role, surface, m.now())
}

// IssueAt signs a token whose iat is at, truncated to Resolution. The
// lifetime of surface counts from at.
func (m *Manager) IssueAt(accountID int64, role models.Role, surface Surface, at time.Time) (Token, error) {
	if accountID <= 0 || !role.Valid() {
		return Token{}, apierr.New(apierr.KindInternal, "cannot issue token for invalid principal")
	}

	now := at.Truncate(Resolution)
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(m.TTL(surface)))
	jti := uuid.NewString()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(accountID, 10),
			Issuer:    m.issuer,
			IssuedAt:  iat,
			ExpiresAt: exp,
			ID:        jti,
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	return Token{Raw: raw, ID: jti, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

// Verify checks signature, algorithm and expiry. now >= exp yields
// ErrExpiredToken; every other defect yields ErrInvalidToken.
func (m *Manager) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, apierr.ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", err)
	}

	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", errors.New("missing exp or iat"))
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", err)
	}
	if !claims.Role.Valid() {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", fmt.Errorf("unknown role %q", claims.Role))
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, apierr.Wrap(apierr.KindInvalidToken, "token rejected", errors.New("issuer mismatch"))
	}

	claims.IssuedAt.Time = claims.IssuedAt.Time.Round(Resolution)
	claims.ExpiresAt.Time = claims.ExpiresAt.Time.Round(Resolution)

	if !m.now().Before(claims.ExpiresAt.Time) {
		return nil, apierr.ErrExpiredToken
	}

	return claims, nil
}
