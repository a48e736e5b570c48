package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/models"
	"github.com/victorgomez09/escuela/internal/auth/service"
	"github.com/victorgomez09/escuela/internal/cerr"
	"github.com/victorgomez09/escuela/internal/ratelimit"
	"github.com/victorgomez09/escuela/pkg/trace"

	httpmw "github.com/victorgomez09/escuela/internal/middleware"
)

type AuthHandler struct {
	auth          *service.AuthService
	csrf          *middleware.CSRFGuard
	cookies       middleware.CookieOptions
	sessionCookie string
	loginLimiter  ratelimit.Limiter
	logger        *zap.Logger
}

type AuthHandlerConfig struct {
	SessionCookie string
	Cookies       middleware.CookieOptions
	// LoginLimiter throttles failed logins per client IP. Nil disables it.
	LoginLimiter ratelimit.Limiter
}

func NewAuthHandler(auth *service.AuthService, csrf *middleware.CSRFGuard, cfg AuthHandlerConfig, logger *zap.Logger) *AuthHandler {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = middleware.DefaultSessionCookie
	}
	return &AuthHandler{
		auth:          auth,
		csrf:          csrf,
		cookies:       cfg.Cookies,
		sessionCookie: cfg.SessionCookie,
		loginLimiter:  cfg.LoginLimiter,
		logger:        logger,
	}
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() []cerr.ValidationError {
	var errs []cerr.ValidationError
	if r.Name == "" {
		errs = append(errs, cerr.ValidationError{Field: "name", Error: "required"})
	}
	if r.Email == "" {
		errs = append(errs, cerr.ValidationError{Field: "email", Error: "required"})
	}
	if r.Password == "" {
		errs = append(errs, cerr.ValidationError{Field: "password", Error: "required"})
	}
	return errs
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() []cerr.ValidationError {
	var errs []cerr.ValidationError
	if r.Email == "" {
		errs = append(errs, cerr.ValidationError{Field: "email", Error: "required"})
	}
	if r.Password == "" {
		errs = append(errs, cerr.ValidationError{Field: "password", Error: "required"})
	}
	return errs
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r ChangePasswordRequest) Validate() []cerr.ValidationError {
	var errs []cerr.ValidationError
	if r.CurrentPassword == "" {
		errs = append(errs, cerr.ValidationError{Field: "currentPassword", Error: "required"})
	}
	if r.NewPassword == "" {
		errs = append(errs, cerr.ValidationError{Field: "newPassword", Error: "required"})
	}
	return errs
}

// SessionResponse is returned by register, login and password change.
type SessionResponse struct {
	Success   bool           `json:"success"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	CSRFToken string         `json:"csrf_token"`
	User      models.Account `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := cerr.DecodeAndValidate(w, r, &req); err != nil {
		return
	}

	session, err := h.auth.Register(r.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, requestMeta(r))
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}

	h.logger.Info("Account registered",
		zap.Int64("user_id", session.Account.ID),
		zap.String("request_id", trace.GetRequestID(r.Context())))
	h.writeSession(w, r, http.StatusCreated, session)
}

// Login authenticates by email and password. Failed attempts also count
// against the per-IP throttle; successful ones do not.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := cerr.DecodeAndValidate(w, r, &req); err != nil {
		return
	}

	ip := httpmw.ClientIP(r)
	if !h.loginAllowed(r.Context(), ip) {
		h.logger.Warn("Login throttled", zap.String("ip", ip))
		cerr.WriteError(w, apierr.ErrRateLimited)
		return
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		switch apierr.KindOf(err) {
		case apierr.KindAuthenticationRequired, apierr.KindAccountLocked:
			h.recordLoginFailure(r.Context(), ip)
		}
		h.fail(w, r, "login", err)
		return
	}

	h.writeSession(w, r, http.StatusOK, session)
}

func (h *AuthHandler) loginAllowed(ctx context.Context, ip string) bool {
	if h.loginLimiter == nil {
		return true
	}
	ok, err := h.loginLimiter.Peek(ctx, "login:"+ip)
	if err != nil {
		h.logger.Warn("Login throttle unavailable, allowing", zap.Error(err))
		return true
	}
	return ok
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, ip string) {
	if h.loginLimiter == nil {
		return
	}
	if _, err := h.loginLimiter.Allow(ctx, "login:"+ip); err != nil {
		h.logger.Warn("Failed to record login attempt", zap.Error(err))
	}
}

// Logout clears the session and CSRF cookies. Bearer tokens simply expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookies.ClearCookie(w, h.sessionCookie, true)
	h.csrf.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrAuthenticationRequired)
		return
	}

	account, err := h.auth.Profile(r.Context(), identity.AccountID())
	if err != nil {
		h.fail(w, r, "profile", err)
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    account,
	})
}

// ChangePassword replaces the caller's password and hands back a fresh
// session. Every token issued before the change stops working.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		cerr.WriteError(w, apierr.ErrAuthenticationRequired)
		return
	}

	var req ChangePasswordRequest
	if err := cerr.DecodeAndValidate(w, r, &req); err != nil {
		return
	}

	session, err := h.auth.ChangePassword(r.Context(), identity.AccountID(), req.CurrentPassword, req.NewPassword, requestMeta(r))
	if err != nil {
		h.fail(w, r, "change password", err)
		return
	}

	h.logger.Info("Password changed", zap.Int64("user_id", identity.AccountID()))
	h.writeSession(w, r, http.StatusOK, session)
}

// PasswordRequirements describes the active password policy for forms.
func (h *AuthHandler) PasswordRequirements(w http.ResponseWriter, r *http.Request) {
	p := h.auth.PasswordPolicy()
	cerr.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"minLength": p.MinLength,
		"maxLength": p.MaxLength,
		"requires": map[string]bool{
			"uppercase": p.RequireUppercase,
			"lowercase": p.RequireLowercase,
			"number":    p.RequireNumbers,
			"special":   p.RequireSpecial,
		},
		"maxRepeatingChars": p.MaxRepeatingChars,
		"preventEmailPart":  p.PreventEmailPart,
	})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, r *http.Request, status int, session *service.Session) {
	csrfToken, err := h.csrf.Issue(session.Cookie.Raw)
	if err != nil {
		h.fail(w, r, "issue csrf token", err)
		return
	}

	maxAge := session.Cookie.ExpiresAt.Sub(session.Cookie.IssuedAt)
	h.cookies.SetSessionCookie(w, h.sessionCookie, session.Cookie.Raw, maxAge)
	h.csrf.SetCookie(w, csrfToken, maxAge)

	cerr.WriteJSON(w, status, SessionResponse{
		Success:   true,
		Token:     session.Bearer.Raw,
		ExpiresAt: session.Bearer.ExpiresAt,
		CSRFToken: csrfToken,
		User:      session.Account,
	})
}

// fail logs server-side failures with their detail and writes the public
// rendering.
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logFailure(h.logger, r, op, err)
	cerr.WriteError(w, err)
}

func logFailure(logger *zap.Logger, r *http.Request, op string, err error) {
	if apierr.Status(err) >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("op", op),
			zap.String("request_id", trace.GetRequestID(r.Context())),
			zap.Error(err))
		return
	}
	logger.Debug("Request rejected",
		zap.String("op", op),
		zap.String("request_id", trace.GetRequestID(r.Context())),
		zap.Error(err))
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        httpmw.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation("invalid id")
	}
	return id, nil
}
