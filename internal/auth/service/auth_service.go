package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/token"
	"github.com/victorgomez09/escuela/internal/auth/validation"
)

// Store is the slice of the credential store the service depends on.
type Store interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id int64) (*models.Account, error)
	UpdateCounters(ctx context.Context, id int64, expected int, c models.Counters) error
	UpdatePassword(ctx context.Context, id int64, hash string, changedAt time.Time, keep int) error
	RecentPasswordHashes(ctx context.Context, id int64, limit int) ([]string, error)
	UpdateRoleOrStatus(ctx context.Context, id int64, upd models.AccountUpdate) (*models.Account, error)
	ListAccounts(ctx context.Context, f database.ListFilter) ([]models.Account, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
	ListAuditLogs(ctx context.Context, userID int64, limit int) ([]models.AuditLog, error)
	PurgeAuditLogs(ctx context.Context, before time.Time) (int64, error)
}

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
}

// AuthConfig holds the configuration settings for the authentication service.
type AuthConfig struct {
	PasswordPolicy       validation.PasswordPolicy // Rules applied on registration and password change.
	PasswordHistoryLimit int                       // Number of previous digests kept to prevent reuse.
	CounterRetries       int                       // Re-read attempts when a counter update loses a race.
	AuditTimeout         time.Duration             // Deadline of each asynchronous audit write.
	AuditRetention       time.Duration             // Age after which audit entries are purged.
	AuditCleanupInterval time.Duration             // How often the purge runs.
}

// RequestMeta describes the client behind a call, for the audit trail.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Session is what a successful login, registration or password change
// hands back: the account and one token per surface.
type Session struct {
	Account models.Account
	Bearer  token.Token
	Cookie  token.Token
}

// AuthService manages registration, login with lockout, password changes and
// account administration.
type AuthService struct {
	store     Store                         // Credential store.
	hasher    Hasher                        // Password hasher.
	tokens    *token.Manager                // Token issuer.
	policy    lockout.Policy                // Lockout thresholds.
	validator *validation.PasswordValidator // Password strength rules.
	config    AuthConfig
	logger    *zap.Logger
	now       func() time.Time
	dummyHash string // verified against when the email is unknown, to even out timing

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

type Option func(*AuthService)

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService initializes and returns a new instance of AuthService and
// starts the audit retention routine when a retention period is configured.
func NewAuthService(store Store, hasher Hasher, tokens *token.Manager, policy lockout.Policy, config AuthConfig, logger *zap.Logger, opts ...Option) *AuthService {
	if config.PasswordHistoryLimit == 0 {
		config.PasswordHistoryLimit = 5
	}
	if config.CounterRetries <= 0 {
		config.CounterRetries = 10
	}
	if config.AuditTimeout <= 0 {
		config.AuditTimeout = 5 * time.Second
	}
	if config.PasswordPolicy.MinLength == 0 {
		config.PasswordPolicy = validation.DefaultPasswordPolicy()
	}

	s := &AuthService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		policy:    policy,
		validator: validation.NewPasswordValidator(config.PasswordPolicy),
		config:    config,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if config.AuditRetention > 0 {
		interval := config.AuditCleanupInterval
		if interval <= 0 {
			interval = 24 * time.Hour
		}
		s.wg.Add(1)
		go s.auditCleanupRoutine(interval)
	}

	return s
}

// Close stops background work and waits for pending audit writes.
func (s *AuthService) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// auditCleanupRoutine periodically purges audit entries past retention.
func (s *AuthService) auditCleanupRoutine(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.config.AuditTimeout)
			n, err := s.store.PurgeAuditLogs(ctx, s.now().Add(-s.config.AuditRetention))
			cancel()
			if err != nil {
				s.logger.Warn("Failed to purge audit logs", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("Purged audit logs", zap.Int64("count", n))
			}
		case <-s.done:
			return
		}
	}
}

// RegisterInput is the payload of a self-service registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a user-role account and logs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*Session, error) {
	email := validation.NormalizeEmail(in.Email)
	name := validation.CleanText(in.Name)
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.validator.ValidatePassword(in.Password, email); err != nil {
		return nil, err
	}

	account, err := s.CreateAccount(ctx, name, email, in.Password, models.RoleUser)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	s.logAudit(&account.ID, models.ActionRegister, "account", models.StatusSuccess, meta, nil)
	return session, nil
}

// CreateAccount stores a new account with a freshly hashed password. It
// skips the strength policy so operators can seed accounts.
func (s *AuthService) CreateAccount(ctx context.Context, name, email, password string, role models.Role) (*models.Account, error) {
	if !role.Valid() {
		return nil, apierr.Validation("unknown role")
	}
	if password == "" {
		return nil, apierr.Validation("password is required")
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Name:         name,
		Email:        validation.NormalizeEmail(email),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if apierr.KindOf(err) == apierr.KindConflict {
			return nil, apierr.Wrap(apierr.KindConflict, "email already registered", err)
		}
		return nil, err
	}
	return account, nil
}

// Login verifies credentials under the lockout policy.
//
// The lock check runs before any hashing. Counter updates are conditional on
// the value that was read; a lost race re-reads the account and evaluates
// again, so concurrent failures are never lost.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*Session, error) {
	email = validation.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apierr.Validation("email and password are required")
	}

	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			s.burnVerify(ctx, password)
			s.logAudit(nil, models.ActionLogin, "auth", models.StatusFailure, meta, map[string]string{"reason": "unknown email"})
			return nil, apierr.ErrInvalidCredentials
		}
		return nil, err
	}

	var (
		matched      bool
		verifiedHash string
	)
	for attempt := 0; attempt < s.config.CounterRetries; attempt++ {
		now := s.now()
		if err := s.policy.Check(account.Counters(), now); err != nil {
			s.logAudit(&account.ID, models.ActionLogin, "auth", models.StatusLocked, meta, nil)
			return nil, err
		}

		if verifiedHash != account.PasswordHash {
			matched, err = s.hasher.Verify(ctx, password, account.PasswordHash)
			if err != nil {
				if apierr.KindOf(err) != apierr.KindCorruptCredential {
					return nil, err
				}
				s.logger.Error("Stored credential is corrupt", zap.Int64("user_id", account.ID), zap.Error(err))
				matched = false
			}
			verifiedHash = account.PasswordHash
		}

		outcome := s.policy.Evaluate(account.Counters(), matched && account.Active, now)
		err = s.store.UpdateCounters(ctx, account.ID, account.FailedAttempts, outcome.Counters)
		if apierr.KindOf(err) == apierr.KindConflict {
			account, err = s.store.FindByID(ctx, account.ID)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if outcome.LockedNow {
			s.logger.Warn("Account locked after repeated failures",
				zap.Int64("user_id", account.ID),
				zap.Int("failed_attempts", outcome.Counters.FailedAttempts))
			s.logAudit(&account.ID, models.ActionLogin, "auth", models.StatusLocked, meta,
				map[string]int{"failed_attempts": outcome.Counters.FailedAttempts})
		}
		if !outcome.Allowed {
			if !outcome.LockedNow {
				s.logAudit(&account.ID, models.ActionLogin, "auth", models.StatusFailure, meta, nil)
			}
			return nil, apierr.ErrInvalidCredentials
		}

		account.FailedAttempts = outcome.Counters.FailedAttempts
		account.LockedUntil = outcome.Counters.LockedUntil
		account.LastLoginAt = outcome.Counters.LastLoginAt

		session, err := s.issueSession(account)
		if err != nil {
			return nil, err
		}
		s.logAudit(&account.ID, models.ActionLogin, "auth", models.StatusSuccess, meta, nil)
		return session, nil
	}

	return nil, apierr.New(apierr.KindServiceUnavailable, "login contention, retry")
}

// burnVerify spends roughly one verification worth of time so unknown
// emails are not distinguishable by latency.
func (s *AuthService) burnVerify(ctx context.Context, password string) {
	if s.dummyHash == "" {
		return
	}
	_, _ = s.hasher.Verify(ctx, password, s.dummyHash)
}

// PrepareTimingGuard hashes a throwaway password once so that logins for
// unknown emails cost as much as real ones.
func (s *AuthService) PrepareTimingGuard(ctx context.Context) error {
	h, err := s.hasher.Hash(ctx, "timing-guard-placeholder")
	if err != nil {
		return err
	}
	s.dummyHash = h
	return nil
}

// Profile returns the current account without its hash.
func (s *AuthService) Profile(ctx context.Context, id int64) (*models.Account, error) {
	a, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := a.Public()
	return &p, nil
}

// ChangePassword replaces the password after verifying the current one.
// Tokens issued before the change become stale; the returned session holds
// fresh ones.
func (s *AuthService) ChangePassword(ctx context.Context, id int64, current, next string, meta RequestMeta) (*Session, error) {
	if current == "" || next == "" {
		return nil, apierr.Validation("current and new password are required")
	}
	if current == next {
		return nil, apierr.Validation("new password must be different from the current one")
	}

	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.hasher.Verify(ctx, current, account.PasswordHash)
	if err != nil && apierr.KindOf(err) != apierr.KindCorruptCredential {
		return nil, err
	}
	if !ok {
		s.logAudit(&id, models.ActionPasswordChange, "account", models.StatusFailure, meta, nil)
		return nil, apierr.Validation("current password is incorrect")
	}

	if err := s.validator.ValidatePassword(next, account.Email); err != nil {
		return nil, err
	}
	if err := s.checkHistory(ctx, id, next); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return nil, err
	}

	// Rounded up past the current millisecond so every token issued so far,
	// whose iat is truncated, compares as older.
	changedAt := s.now().Truncate(token.Resolution).Add(token.Resolution)
	if err := s.store.UpdatePassword(ctx, id, hash, changedAt, s.config.PasswordHistoryLimit); err != nil {
		return nil, err
	}

	account.PasswordHash = hash
	account.PasswordChangedAt = &changedAt
	account.FailedAttempts = 0
	account.LockedUntil = nil

	session, err := s.issueSession(account)
	if err != nil {
		return nil, err
	}
	s.logAudit(&id, models.ActionPasswordChange, "account", models.StatusSuccess, meta, nil)
	return session, nil
}

func (s *AuthService) checkHistory(ctx context.Context, id int64, next string) error {
	if s.config.PasswordHistoryLimit <= 0 {
		return nil
	}
	previous, err := s.store.RecentPasswordHashes(ctx, id, s.config.PasswordHistoryLimit)
	if err != nil {
		return err
	}
	for _, digest := range previous {
		if reused, _ := s.hasher.Verify(ctx, next, digest); reused {
			return apierr.Validation("password was used recently")
		}
	}
	return nil
}

// ListAccounts lists accounts, optionally filtered by role.
func (s *AuthService) ListAccounts(ctx context.Context, filter database.ListFilter) ([]models.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i] = accounts[i].Public()
	}
	return accounts, nil
}

// UpdateAccount applies an administrative role or status change made by
// actorID. Self-targeting guards are enforced by the caller.
func (s *AuthService) UpdateAccount(ctx context.Context, actorID, targetID int64, upd models.AccountUpdate, meta RequestMeta) (*models.Account, error) {
	account, err := s.store.UpdateRoleOrStatus(ctx, targetID, upd)
	if err != nil {
		return nil, err
	}

	details := map[string]interface{}{"target_id": targetID}
	action := models.ActionStatusChange
	if upd.Role != nil {
		action = models.ActionRoleChange
		details["role"] = *upd.Role
	}
	if upd.Active != nil {
		details["active"] = *upd.Active
	}
	s.logAudit(&actorID, action, "account", models.StatusSuccess, meta, details)

	p := account.Public()
	return &p, nil
}

// PasswordPolicy returns the rules new passwords must satisfy.
func (s *AuthService) PasswordPolicy() validation.PasswordPolicy {
	return s.config.PasswordPolicy
}

// AuditLogs returns recent audit entries, optionally for one account.
func (s *AuthService) AuditLogs(ctx context.Context, userID int64, limit int) ([]models.AuditLog, error) {
	return s.store.ListAuditLogs(ctx, userID, limit)
}

// issueSession signs both tokens. They are never issued before the last
// password change, which may lie up to a millisecond ahead of the clock.
func (s *AuthService) issueSession(account *models.Account) (*Session, error) {
	at := s.now()
	if pc := account.PasswordChangedAt; pc != nil && pc.After(at) {
		at = *pc
	}

	bearer, err := s.tokens.IssueAt(account.ID, account.Role, token.SurfaceBearer, at)
	if err != nil {
		return nil, err
	}
	cookie, err := s.tokens.IssueAt(account.ID, account.Role, token.SurfaceCookie, at)
	if err != nil {
		return nil, err
	}
	return &Session{Account: account.Public(), Bearer: bearer, Cookie: cookie}, nil
}

// logAudit records an audit entry without blocking the request.
func (s *AuthService) logAudit(userID *int64, action, resource, status string, meta RequestMeta, details interface{}) {
	var detailsJSON []byte
	if details != nil {
		detailsJSON, _ = json.Marshal(details)
	}

	var uid *int64
	if userID != nil {
		id := *userID
		uid = &id
	}

	log := &models.AuditLog{
		UserID:    uid,
		Action:    action,
		Resource:  resource,
		Status:    status,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Details:   string(detailsJSON),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.AuditTimeout)
		defer cancel()
		if err := s.store.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("Failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}()
}
