package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/api"
	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	authmw "github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/password"
	"github.com/victorgomez09/escuela/internal/auth/service"
	"github.com/victorgomez09/escuela/internal/auth/token"
	"github.com/victorgomez09/escuela/internal/config"
	"github.com/victorgomez09/escuela/internal/logger"
	"github.com/victorgomez09/escuela/internal/mail"
	"github.com/victorgomez09/escuela/internal/ratelimit"
	"github.com/victorgomez09/escuela/internal/school"
	"github.com/victorgomez09/escuela/internal/server"
)

const (
	limiterCleanupInterval = time.Minute
	startupTimeout         = 30 * time.Second
)

type ServerBuilder struct {
	config     *config.Escuela
	logger     *zap.Logger
	logManager *logger.LoggerManager

	// release runs in reverse on a failed build
	release []func()
}

func NewServerBuilder(cfg *config.Escuela, logger *zap.Logger, logManager *logger.LoggerManager) *ServerBuilder {
	return &ServerBuilder{
		config:     cfg,
		logger:     logger,
		logManager: logManager,
	}
}

// BuildServer constructs the server with all necessary components
func (sb *ServerBuilder) BuildServer(ctx context.Context, errChan chan<- error) (srv *server.Server, err error) {
	defer func() {
		if err != nil {
			for i := len(sb.release) - 1; i >= 0; i-- {
				sb.release[i]()
			}
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	authLog := sb.logManager.Named(logger.AuthLogger)

	db, err := database.Open(startCtx, sb.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sb.release = append(sb.release, func() { db.Close() })

	if !sb.config.Database.SkipMigrate {
		if err := database.Migrate(startCtx, db, sb.logger); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	store := database.NewStore(db, database.WithQueryTimeout(sb.config.Database.QueryTimeout))

	authService, tokens, policy, err := sb.buildAuth(startCtx, store, authLog)
	if err != nil {
		return nil, err
	}
	sb.release = append(sb.release, authService.Close)

	sender, err := mail.NewSender(sb.config.Mail, sb.logger.Named("mail"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mail sender: %w", err)
	}
	schoolService := school.NewService(store, sender, sb.logger.Named("school"))
	sb.release = append(sb.release, schoolService.Close)

	csrf, err := sb.buildCSRF(authLog)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewMemoryLimiter(ratelimit.PerSecond(sb.config.RateLimit.RequestsPerSecond, sb.config.RateLimit.Burst))
	limiter.StartCleanupWorker(ctx, limiterCleanupInterval)

	loginLimiter, closeRedis, err := sb.buildLoginLimiter(ctx)
	if err != nil {
		return nil, err
	}
	if closeRedis != nil {
		sb.release = append(sb.release, func() { _ = closeRedis() })
	}

	handler := api.New(api.Dependencies{
		Config:       sb.config,
		Store:        store,
		Tokens:       tokens,
		Policy:       policy,
		Auth:         authService,
		School:       schoolService,
		CSRF:         csrf,
		Limiter:      limiter,
		LoginLimiter: loginLimiter,
		Logger:       sb.logManager.Named(logger.HTTPLogger),
	}).Handler()

	srv, err = server.NewServer(ctx, errChan, sb.config, handler, sb.logger)
	if err != nil {
		return nil, err
	}

	// services first so pending audit and mail writes reach the database
	srv.RegisterShutdown("services", func(context.Context) error {
		authService.Close()
		schoolService.Close()
		var errs []error
		if closeRedis != nil {
			errs = append(errs, closeRedis())
		}
		errs = append(errs, db.Close())
		return errors.Join(errs...)
	})
	srv.RegisterShutdown("loggers", func(context.Context) error {
		return sb.logManager.Close()
	})

	return srv, nil
}

func (sb *ServerBuilder) buildAuth(ctx context.Context, store *database.Store, authLog *zap.Logger) (*service.AuthService, *token.Manager, lockout.Policy, error) {
	ac := sb.config.Auth

	hasher, err := password.NewHasher(password.HasherConfig{
		Cost:        ac.BcryptCost,
		Concurrency: ac.HashConcurrency,
		Timeout:     ac.HashTimeout,
	})
	if err != nil {
		return nil, nil, lockout.Policy{}, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	tokens, err := token.NewManager(token.Config{
		Secret:    []byte(ac.JWTSecret),
		Issuer:    ac.Issuer,
		BearerTTL: ac.BearerTTL,
		CookieTTL: ac.CookieTTL,
	})
	if err != nil {
		return nil, nil, lockout.Policy{}, fmt.Errorf("failed to initialize token manager: %w", err)
	}

	policy := lockout.NewPolicy(ac.LockoutThreshold, ac.LockoutDuration)
	authService := service.NewAuthService(store, hasher, tokens, policy, sb.buildAuthConfig(), authLog)
	if err := authService.PrepareTimingGuard(ctx); err != nil {
		authService.Close()
		return nil, nil, lockout.Policy{}, fmt.Errorf("failed to prepare auth service: %w", err)
	}
	return authService, tokens, policy, nil
}

func (sb *ServerBuilder) buildAuthConfig() service.AuthConfig {
	ac := sb.config.Auth
	return service.AuthConfig{
		PasswordPolicy:       ac.PasswordPolicy,
		PasswordHistoryLimit: ac.PasswordHistoryLimit,
		AuditRetention:       ac.AuditRetention,
		AuditCleanupInterval: ac.AuditCleanupInterval,
	}
}

func (sb *ServerBuilder) buildCSRF(authLog *zap.Logger) (*authmw.CSRFGuard, error) {
	se := sb.config.Session
	key := []byte(se.CSRFKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate csrf key: %w", err)
		}
	}

	guard, err := authmw.NewCSRFGuard(authmw.CSRFConfig{
		Key:           key,
		CookieName:    se.CSRFCookieName,
		HeaderName:    se.CSRFHeader,
		SessionCookie: se.CookieName,
		Cookie: authmw.CookieOptions{
			Domain:   se.Domain,
			Path:     "/",
			Secure:   *se.Secure,
			SameSite: se.SameSiteMode(),
		},
	}, authLog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize csrf guard: %w", err)
	}
	return guard, nil
}

// buildLoginLimiter returns the failed-login throttle and, for the redis
// backend, the function closing its client.
func (sb *ServerBuilder) buildLoginLimiter(ctx context.Context) (ratelimit.Limiter, func() error, error) {
	rl := sb.config.RateLimit
	cfg := ratelimit.Config{Limit: rl.LoginLimit, Window: rl.LoginWindow}

	if rl.Backend != "redis" {
		limiter := ratelimit.NewMemoryLimiter(cfg)
		limiter.StartCleanupWorker(ctx, limiterCleanupInterval)
		return limiter, nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{sb.config.Redis.Addr},
		Password: sb.config.Redis.Password,
		DB:       sb.config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// the throttle fails open, so an unreachable redis is not fatal
		sb.logger.Warn("Redis unreachable at startup, login throttle will fail open until it recovers",
			zap.String("addr", sb.config.Redis.Addr),
			zap.Error(err))
	}
	return ratelimit.NewRedisLimiter(client, sb.config.Redis.Prefix, cfg), client.Close, nil
}

func initializeServer(
	ctx context.Context,
	cfg *config.Escuela,
	errChan chan error,
	logManager *logger.LoggerManager,
) *server.Server {
	zLog := logManager.Named(logger.DefaultLogger)
	srv, err := NewServerBuilder(cfg, zLog, logManager).BuildServer(ctx, errChan)
	if err != nil {
		zLog.Fatal("Failed to initialize server", zap.Error(err))
	}
	return srv
}
