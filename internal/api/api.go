package api

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/escuela/internal/auth"
	"github.com/victorgomez09/escuela/internal/auth/handlers"
	"github.com/victorgomez09/escuela/internal/auth/lockout"
	authmw "github.com/victorgomez09/escuela/internal/auth/middleware"
	"github.com/victorgomez09/escuela/internal/auth/service"
	"github.com/victorgomez09/escuela/internal/cerr"
	"github.com/victorgomez09/escuela/internal/config"
	"github.com/victorgomez09/escuela/internal/middleware"
	"github.com/victorgomez09/escuela/internal/ratelimit"
	"github.com/victorgomez09/escuela/internal/school"
	"github.com/victorgomez09/escuela/pkg/trace"
)

// Store is what the routes need from persistence directly: account lookups
// for the authentication gate and a liveness probe.
type Store interface {
	authmw.AccountFinder
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the API is assembled from.
type Dependencies struct {
	Config       *config.Escuela
	Store        Store
	Tokens       authmw.TokenVerifier
	Policy       lockout.Policy
	Auth         *service.AuthService
	School       *school.Service
	CSRF         *authmw.CSRFGuard
	Limiter      ratelimit.Limiter // global per-IP budget, nil disables
	LoginLimiter ratelimit.Limiter // failed logins per IP, nil disables
	Logger       *zap.Logger
	Now          func() time.Time // clock for lock checks, defaults to time.Now
}

// API holds the route table of the school site.
type API struct {
	mux      *http.ServeMux
	config   *config.Escuela
	store    Store
	authGate *authmw.AuthMiddleware
	csrf     *authmw.CSRFGuard
	adminIPs *middleware.IPRestrictionMiddleware
	limiter  ratelimit.Limiter
	auth     *handlers.AuthHandler
	admin    *handlers.AdminHandler
	school   *school.Handler
	logger   *zap.Logger
}

func New(deps Dependencies) *API {
	cfg := deps.Config
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cookies := authmw.CookieOptions{
		Domain:   cfg.Session.Domain,
		Secure:   cfg.Session.Secure != nil && *cfg.Session.Secure,
		SameSite: cfg.Session.SameSiteMode(),
	}

	a := &API{
		mux:    http.NewServeMux(),
		config: cfg,
		store:  deps.Store,
		authGate: authmw.NewAuthMiddleware(deps.Tokens, deps.Store, deps.Policy, deps.Logger,
			authmw.WithSessionCookie(cfg.Session.CookieName), authmw.WithClock(now)),
		csrf:     deps.CSRF,
		adminIPs: middleware.NewIPRestrictionMiddleware(cfg.API.AllowedIPs, deps.Logger),
		limiter:  deps.Limiter,
		auth: handlers.NewAuthHandler(deps.Auth, deps.CSRF, handlers.AuthHandlerConfig{
			SessionCookie: cfg.Session.CookieName,
			Cookies:       cookies,
			LoginLimiter:  deps.LoginLimiter,
		}, deps.Logger),
		admin:  handlers.NewAdminHandler(deps.Auth, deps.Logger),
		school: school.NewHandler(deps.School, deps.Logger),
		logger: deps.Logger,
	}
	a.registerRoutes()
	return a
}

// registerRoutes sets up every endpoint with its access level.
func (a *API) registerRoutes() {
	// Public routes
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("POST /api/users/register", a.auth.Register)
	a.mux.HandleFunc("POST /api/users/login", a.auth.Login)
	a.mux.HandleFunc("POST /api/users/logout", a.auth.Logout)
	a.mux.HandleFunc("GET /api/users/password-requirements", a.auth.PasswordRequirements)
	a.mux.HandleFunc("POST /api/contact", a.school.SubmitContact)
	a.mux.HandleFunc("GET /api/courses", a.school.ListCourses)
	a.mux.HandleFunc("GET /api/courses/{id}", a.school.GetCourse)

	// Any authenticated account
	a.protected("GET /api/users/profile", authmw.AnyRole, a.auth.Profile)
	a.protected("PUT /api/users/change-password", authmw.AnyRole, a.auth.ChangePassword)

	// Teacher or admin routes
	a.protected("POST /api/courses", authmw.TeacherOrAdmin, a.school.CreateCourse)
	a.protected("PUT /api/courses/{id}", authmw.TeacherOrAdmin, a.school.UpdateCourse)
	a.protected("DELETE /api/courses/{id}", authmw.TeacherOrAdmin, a.school.DeleteCourse)

	// Admin-only routes
	a.adminOnly("GET /api/users", a.admin.ListUsers)
	a.adminOnly("PUT /api/users/{id}/role", a.admin.UpdateRole)
	a.adminOnly("PUT /api/users/{id}/status", a.admin.UpdateStatus)
	a.adminOnly("GET /api/admins", a.admin.ListAdmins)
	a.adminOnly("PUT /api/admins/{id}", a.admin.GrantAdmin)
	a.adminOnly("DELETE /api/admins/{id}", a.admin.RevokeAdmin)
	a.adminOnly("GET /api/contact", a.school.ListContact)
	a.adminOnly("PUT /api/contact/{id}", a.school.UpdateContact)
	a.adminOnly("GET /api/admin/audit-logs", a.admin.AuditLogs)

	// Admin-only debug routes if enabled in config
	if a.config.API.Debug {
		a.adminOnly("GET /debug/pprof/", pprof.Index)
		a.adminOnly("GET /debug/pprof/cmdline", pprof.Cmdline)
		a.adminOnly("GET /debug/pprof/profile", pprof.Profile)
		a.adminOnly("GET /debug/pprof/symbol", pprof.Symbol)
		a.adminOnly("GET /debug/pprof/trace", pprof.Trace)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		cerr.WriteError(w, apierr.ErrNotFound)
	})
}

// protected wraps h in CSRF Guard -> Authentication Gate -> Authorization Gate.
func (a *API) protected(pattern string, roles authmw.RoleSet, h http.HandlerFunc) {
	chain := middleware.NewMiddlewareChain(
		a.csrf,
		a.authGate,
		authmw.Require(roles),
	)
	a.mux.Handle(pattern, chain.Then(h))
}

// adminOnly additionally checks the admin IP allow-list before anything else.
func (a *API) adminOnly(pattern string, h http.HandlerFunc) {
	chain := middleware.NewMiddlewareChain(
		a.adminIPs,
		a.csrf,
		a.authGate,
		authmw.Require(authmw.AdminOnly),
	)
	a.mux.Handle(pattern, chain.Then(h))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Error("Health check failed", zap.Error(err))
		cerr.WriteError(w, apierr.Wrap(apierr.KindServiceUnavailable, "health check", err))
		return
	}
	cerr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler returns the route table wrapped with the global middleware.
func (a *API) Handler() http.Handler {
	opts := []middleware.LoggingOption{
		middleware.WithLogLevel(zap.InfoLevel),
		middleware.WithExcludePaths([]string{"/healthz"}),
	}
	if lo := a.config.LogOptions; lo != nil {
		opts = append(opts,
			middleware.WithHeaders(lo.Headers),
			middleware.WithQueryParams(lo.QueryParams))
	}

	chain := middleware.NewMiddlewareChain(
		trace.WithRequestID(),
		middleware.NewLoggingMiddleware(a.logger, opts...),
	)
	chain.AddConfiguredMiddlewares(a.config, a.limiter, a.logger)
	return chain.Then(a.mux)
}
