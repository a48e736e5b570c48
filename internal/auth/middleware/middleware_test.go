package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/token"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[int64]*models.Account
	err      error
}

func (f *fakeAccounts) FindByID(_ context.Context, id int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, apierr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type fixture struct {
	clock    *testClock
	tokens   *token.Manager
	accounts *fakeAccounts
	auth     *AuthMiddleware
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)}
	tokens, err := token.NewManager(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	accounts := &fakeAccounts{accounts: map[int64]*models.Account{
		1: {ID: 1, Email: "admin@school.edu", Role: models.RoleAdmin, Active: true, PasswordHash: "secret-hash"},
		2: {ID: 2, Email: "teacher@school.edu", Role: models.RoleTeacher, Active: true},
		3: {ID: 3, Email: "user@school.edu", Role: models.RoleUser, Active: true},
	}}

	auth := NewAuthMiddleware(tokens, accounts, lockout.NewPolicy(5, 15*time.Minute), zap.NewNop(), WithClock(clock.Now))
	return &fixture{clock: clock, tokens: tokens, accounts: accounts, auth: auth}
}

func (f *fixture) issue(t *testing.T, id int64, role models.Role) string {
	t.Helper()
	tok, err := f.tokens.Issue(id, role, token.SurfaceBearer)
	require.NoError(t, err)
	return tok.Raw
}

func bearerRequest(raw string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	return r
}

func TestAuthenticate_NoCredential(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errors.Is(err, apierr.ErrAuthenticationRequired))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = f.auth.Authenticate(r)
	assert.True(t, errors.Is(err, apierr.ErrAuthenticationRequired))
}

func TestAuthenticate_BearerAndCookie(t *testing.T) {
	f := newFixture(t)
	raw := f.issue(t, 2, models.RoleTeacher)

	id, err := f.auth.Authenticate(bearerRequest(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(2), id.AccountID())
	assert.Equal(t, models.RoleTeacher, id.Role)
	assert.Equal(t, SourceBearer, id.Source)
	assert.Equal(t, raw, id.Token)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: raw})
	id, err = f.auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, SourceCookie, id.Source)
}

func TestAuthenticate_BearerTakesPrecedence(t *testing.T) {
	f := newFixture(t)

	r := bearerRequest("garbage")
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: f.issue(t, 3, models.RoleUser)})

	_, err := f.auth.Authenticate(r)
	assert.Equal(t, apierr.KindInvalidToken, apierr.KindOf(err))
}

func TestAuthenticate_HashNeverExposed(t *testing.T) {
	f := newFixture(t)

	id, err := f.auth.Authenticate(bearerRequest(f.issue(t, 1, models.RoleAdmin)))
	require.NoError(t, err)
	assert.Empty(t, id.Account.PasswordHash)
}

func TestAuthenticate_RoleComesFromAccount(t *testing.T) {
	f := newFixture(t)
	raw := f.issue(t, 3, models.RoleUser)
	f.accounts.accounts[3].Role = models.RoleAdmin

	id, err := f.auth.Authenticate(bearerRequest(raw))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, id.Role)
	assert.Equal(t, models.RoleUser, id.Claims.Role)
}

func TestAuthenticate_Expired(t *testing.T) {
	f := newFixture(t)
	raw := f.issue(t, 3, models.RoleUser)
	f.clock.now = f.clock.now.Add(time.Hour)

	_, err := f.auth.Authenticate(bearerRequest(raw))
	assert.True(t, errors.Is(err, apierr.ErrExpiredToken))
}

func TestAuthenticate_UnknownOrInactiveAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Authenticate(bearerRequest(f.issue(t, 99, models.RoleUser)))
	assert.Equal(t, apierr.KindAuthenticationRequired, apierr.KindOf(err))

	raw := f.issue(t, 3, models.RoleUser)
	f.accounts.accounts[3].Active = false
	_, err = f.auth.Authenticate(bearerRequest(raw))
	assert.Equal(t, apierr.KindAuthenticationRequired, apierr.KindOf(err))
}

func TestAuthenticate_StaleAfterPasswordChange(t *testing.T) {
	f := newFixture(t)
	old := f.issue(t, 3, models.RoleUser)

	f.clock.now = f.clock.now.Add(10 * time.Millisecond)
	changed := f.clock.now
	f.accounts.accounts[3].PasswordChangedAt = &changed

	_, err := f.auth.Authenticate(bearerRequest(old))
	assert.True(t, errors.Is(err, apierr.ErrStalePasswordToken))

	fresh := f.issue(t, 3, models.RoleUser)
	_, err = f.auth.Authenticate(bearerRequest(fresh))
	assert.NoError(t, err)
}

func TestAuthenticate_StaleWithinSameMillisecond(t *testing.T) {
	f := newFixture(t)
	f.clock.now = f.clock.now.Add(200 * time.Microsecond)
	old := f.issue(t, 3, models.RoleUser)

	changed := f.clock.now.Truncate(time.Millisecond).Add(time.Millisecond)
	f.accounts.accounts[3].PasswordChangedAt = &changed

	_, err := f.auth.Authenticate(bearerRequest(old))
	assert.True(t, errors.Is(err, apierr.ErrStalePasswordToken))

	fresh, err := f.tokens.IssueAt(3, models.RoleUser, token.SurfaceBearer, changed)
	require.NoError(t, err)
	_, err = f.auth.Authenticate(bearerRequest(fresh.Raw))
	assert.NoError(t, err)
}

func TestAuthenticate_LockedAccount(t *testing.T) {
	f := newFixture(t)
	raw := f.issue(t, 3, models.RoleUser)

	until := f.clock.now.Add(time.Minute)
	f.accounts.accounts[3].LockedUntil = &until

	_, err := f.auth.Authenticate(bearerRequest(raw))
	assert.True(t, errors.Is(err, apierr.ErrAccountLocked))

	f.clock.now = until
	_, err = f.auth.Authenticate(bearerRequest(raw))
	assert.NoError(t, err)
}

func TestAuthenticate_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	raw := f.issue(t, 3, models.RoleUser)
	f.accounts.err = apierr.Wrap(apierr.KindServiceUnavailable, "find", context.DeadlineExceeded)

	_, err := f.auth.Authenticate(bearerRequest(raw))
	assert.Equal(t, apierr.KindServiceUnavailable, apierr.KindOf(err))
}

func TestAuthMiddleware_WritesGenericError(t *testing.T) {
	f := newFixture(t)
	called := false
	h := f.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, bearerRequest("garbage"))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Not authorized, please log in again", body["message"])
}

func TestAuthorizationGate(t *testing.T) {
	f := newFixture(t)

	routes := map[string]RoleSet{
		"admin":   AdminOnly,
		"teacher": TeacherOrAdmin,
		"any":     AnyRole,
	}
	want := map[models.Role]map[string]int{
		models.RoleAdmin:   {"admin": 200, "teacher": 200, "any": 200},
		models.RoleTeacher: {"admin": 403, "teacher": 200, "any": 200},
		models.RoleUser:    {"admin": 403, "teacher": 403, "any": 200},
	}
	ids := map[models.Role]int64{models.RoleAdmin: 1, models.RoleTeacher: 2, models.RoleUser: 3}

	for role, expectations := range want {
		for route, status := range expectations {
			h := f.auth.Middleware(Require(routes[route]).Middleware(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				})))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, bearerRequest(f.issue(t, ids[role], role)))
			assert.Equal(t, status, rec.Code, "%s on %s", role, route)
		}
	}
}

func TestAuthorize_WithoutIdentity(t *testing.T) {
	assert.True(t, errors.Is(Authorize(nil, AnyRole), apierr.ErrAuthenticationRequired))

	rec := httptest.NewRecorder()
	Require(AdminOnly).Middleware(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperationGuards(t *testing.T) {
	admin := &Identity{Account: models.Account{ID: 1}, Role: models.RoleAdmin}
	teacher := &Identity{Account: models.Account{ID: 2}, Role: models.RoleTeacher}

	assert.True(t, errors.Is(NotSelf(admin, 1), apierr.ErrForbidden))
	assert.NoError(t, NotSelf(admin, 2))

	assert.NoError(t, OwnerOrAdmin(admin, 2))
	assert.NoError(t, OwnerOrAdmin(teacher, 2))
	assert.True(t, errors.Is(OwnerOrAdmin(teacher, 1), apierr.ErrForbidden))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	id := &Identity{Role: models.RoleUser}
	got, ok := IdentityFromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Same(t, id, got)
}
