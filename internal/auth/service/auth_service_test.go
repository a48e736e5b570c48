package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/password"
	"github.com/victorgomez09/escuela/internal/auth/token"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *AuthService
	store  *database.Store
	tokens *token.Manager
	clock  *clock
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, nil))
	store := database.NewStore(db)

	hasher, err := password.NewHasher(password.HasherConfig{Cost: 4})
	require.NoError(t, err)

	clk := &clock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	tokens, err := token.NewManager(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Now:    clk.Now,
	})
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	svc := NewAuthService(store, hasher, tokens, lockout.NewPolicy(5, 15*time.Minute),
		AuthConfig{}, zap.New(core), WithClock(clk.Now))
	require.NoError(t, svc.PrepareTimingGuard(ctx))
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, tokens: tokens, clock: clk, logs: logs}
}

var meta = RequestMeta{IP: "10.0.0.1", UserAgent: "test"}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "A@B.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", session.Account.Email)
	assert.Equal(t, models.RoleUser, session.Account.Role)
	assert.Empty(t, session.Account.PasswordHash)
	assert.NotEmpty(t, session.Bearer.Raw)
	assert.NotEmpty(t, session.Cookie.Raw)
	assert.True(t, session.Cookie.ExpiresAt.After(session.Bearer.ExpiresAt))

	session, err = f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	require.NoError(t, err)

	claims, err := f.tokens.Verify(session.Bearer.Raw)
	require.NoError(t, err)
	id, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, id)

	stored, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	require.NotNil(t, stored.LastLoginAt)
}

func TestRegisterRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "weak"}, meta)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "not-an-email", Password: "Str0ng!Pass"}, meta)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "A@b.com", Password: "Str0ng!Pass"}, meta)
	assert.True(t, errors.Is(err, apierr.ErrConflict))
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "a@b.com", "Wr0ng!Pass", meta)
		require.Error(t, err)
		assert.Same(t, apierr.ErrInvalidCredentials, err, "attempt %d", i+1)
	}

	_, err = f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	assert.True(t, errors.Is(err, apierr.ErrAccountLocked))

	f.clock.Advance(15*time.Minute + time.Second)
	session, err := f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	require.NoError(t, err)

	stored, err := f.store.FindByID(ctx, session.Account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestLoginUnknownEmailAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "nobody@b.com", "Str0ng!Pass", meta)
	assert.Same(t, apierr.ErrInvalidCredentials, err)

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	inactive := false
	_, err = f.store.UpdateRoleOrStatus(ctx, session.Account.ID, models.AccountUpdate{Active: &inactive})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	assert.Same(t, apierr.ErrInvalidCredentials, err)
}

func TestLoginCorruptDigestCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := &models.Account{Name: "Ana", Email: "a@b.com", PasswordHash: "not-a-bcrypt-digest", Role: models.RoleUser, Active: true}
	require.NoError(t, f.store.CreateAccount(ctx, a))

	_, err := f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	assert.Same(t, apierr.ErrInvalidCredentials, err)

	stored, err := f.store.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
	assert.Equal(t, 1, f.logs.FilterMessage("Stored credential is corrupt").Len())
}

func TestConcurrentFailedLoginsLockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Login(ctx, "a@b.com", "Wr0ng!Pass", meta)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		kind := apierr.KindOf(err)
		assert.True(t, kind == apierr.KindAuthenticationRequired || kind == apierr.KindAccountLocked, "unexpected %v", err)
	}

	stored, err := f.store.FindByID(ctx, session.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.FailedAttempts)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, 1, f.logs.FilterMessage("Account locked after repeated failures").Len())
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	id := session.Account.ID
	oldClaims, err := f.tokens.Verify(session.Bearer.Raw)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, id, "Wr0ng!Pass", "N3w!Passw0rd", meta)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = f.svc.ChangePassword(ctx, id, "Str0ng!Pass", "Str0ng!Pass", meta)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	_, err = f.svc.ChangePassword(ctx, id, "Str0ng!Pass", "short", meta)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	f.clock.Advance(time.Second)
	fresh, err := f.svc.ChangePassword(ctx, id, "Str0ng!Pass", "N3w!Passw0rd", meta)
	require.NoError(t, err)

	stored, err := f.store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.True(t, stored.PasswordChangedAt.After(oldClaims.IssuedAtTime()))

	freshClaims, err := f.tokens.Verify(fresh.Bearer.Raw)
	require.NoError(t, err)
	assert.False(t, stored.PasswordChangedAt.After(freshClaims.IssuedAtTime()))

	_, err = f.svc.Login(ctx, "a@b.com", "Str0ng!Pass", meta)
	assert.Same(t, apierr.ErrInvalidCredentials, err)
	_, err = f.svc.Login(ctx, "a@b.com", "N3w!Passw0rd", meta)
	require.NoError(t, err)
}

func TestChangePasswordRejectsRecentPasswords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	id := session.Account.ID

	_, err = f.svc.ChangePassword(ctx, id, "Str0ng!Pass", "N3w!Passw0rd", meta)
	require.NoError(t, err)
	_, err = f.svc.ChangePassword(ctx, id, "N3w!Passw0rd", "0ther!Passw0rd", meta)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, id, "0ther!Passw0rd", "N3w!Passw0rd", meta)
	require.Error(t, err)
	assert.Equal(t, "password was used recently", apierr.PublicMessage(err))
}

func TestChangePasswordRejectsRegistrationPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	id := session.Account.ID

	_, err = f.svc.ChangePassword(ctx, id, "Str0ng!Pass", "N3w!Passw0rd", meta)
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, id, "N3w!Passw0rd", "Str0ng!Pass", meta)
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Equal(t, "password was used recently", apierr.PublicMessage(err))

	_, err = f.svc.Login(ctx, "a@b.com", "N3w!Passw0rd", meta)
	assert.NoError(t, err)
}

func TestChangePasswordWithinOneMillisecond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Advance(400 * time.Microsecond)

	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)
	oldClaims, err := f.tokens.Verify(session.Bearer.Raw)
	require.NoError(t, err)

	// same instant: no clock movement between issuing and changing
	fresh, err := f.svc.ChangePassword(ctx, session.Account.ID, "Str0ng!Pass", "N3w!Passw0rd", meta)
	require.NoError(t, err)

	stored, err := f.store.FindByID(ctx, session.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.True(t, stored.PasswordChangedAt.After(oldClaims.IssuedAtTime()))

	freshClaims, err := f.tokens.Verify(fresh.Bearer.Raw)
	require.NoError(t, err)
	assert.True(t, stored.PasswordChangedAt.Equal(freshClaims.IssuedAtTime()))

	login, err := f.svc.Login(ctx, "a@b.com", "N3w!Passw0rd", meta)
	require.NoError(t, err)
	loginClaims, err := f.tokens.Verify(login.Cookie.Raw)
	require.NoError(t, err)
	assert.False(t, stored.PasswordChangedAt.After(loginClaims.IssuedAtTime()))
}

func TestUpdateAccountAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.svc.CreateAccount(ctx, "Root", "root@b.com", "whatever", models.RoleAdmin)
	require.NoError(t, err)
	session, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@b.com", Password: "Str0ng!Pass"}, meta)
	require.NoError(t, err)

	teacher := models.RoleTeacher
	got, err := f.svc.UpdateAccount(ctx, admin.ID, session.Account.ID, models.AccountUpdate{Role: &teacher}, meta)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, got.Role)
	assert.Empty(t, got.PasswordHash)

	teachers, err := f.svc.ListAccounts(ctx, database.ListFilter{Role: &teacher})
	require.NoError(t, err)
	require.Len(t, teachers, 1)
	assert.Empty(t, teachers[0].PasswordHash)

	_, err = f.svc.CreateAccount(ctx, "X", "x@b.com", "whatever", models.Role("root"))
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))

	// audit writes are asynchronous
	f.svc.Close()
	logs, err := f.svc.AuditLogs(ctx, admin.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionRoleChange, logs[0].Action)
	assert.Contains(t, logs[0].Details, `"role":"teacher"`)
}
