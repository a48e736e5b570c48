package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"

	"github.com/victorgomez09/escuela/internal/auth/database"
	"github.com/victorgomez09/escuela/internal/auth/validation"
	"github.com/victorgomez09/escuela/internal/mail"
)

// MinBcryptCost is the lowest work factor a deployment may configure.
const MinBcryptCost = 10

// Environment variables that override secrets from the configuration file.
const (
	EnvJWTSecret     = "ESCUELA_JWT_SECRET"
	EnvCSRFKey       = "ESCUELA_CSRF_KEY"
	EnvDatabaseDSN   = "ESCUELA_DB_DSN"
	EnvSMTPPassword  = "ESCUELA_SMTP_PASSWORD"
	EnvRedisPassword = "ESCUELA_REDIS_PASSWORD"
)

// Escuela represents the main configuration structure for the school backend.
// It aggregates the HTTP server, storage, authentication, session cookies,
// rate limiting, mail and middleware settings.
type Escuela struct {
	Environment string          `yaml:"environment"` // "development" or "production".
	Server      Server          `yaml:"server"`      // Listener and timeouts.
	Database    database.Config `yaml:"database"`    // Credential and content store.
	Auth        Auth            `yaml:"auth"`        // Token, hashing, lockout and audit settings.
	Session     Session         `yaml:"session"`     // Cookie and CSRF settings.
	RateLimit   RateLimit       `yaml:"rate_limit"`  // Global and login throttles.
	Redis       Redis           `yaml:"redis"`       // Shared login throttle backend.
	Mail        mail.Config     `yaml:"mail"`        // Contact notifications.
	CORS        CORS            `yaml:"cors"`        // Cross-origin settings for the web frontend.
	Security    Security        `yaml:"security"`    // Security response headers.
	API         API             `yaml:"api"`         // Admin surface restrictions.
	LogOptions  *LogOptions     `yaml:"log_options,omitempty"`
	Compression bool            `yaml:"compression"` // Enables gzip responses if true.
	Secrets     Secrets         `yaml:"secrets"`     // Optional AWS Secrets Manager source.
}

// Server holds listener settings.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"` // Upper bound for a single handler.
	TLS             TLS           `yaml:"tls"`
}

// TLS holds configuration settings related to TLS (HTTPS) for the server.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`   // Indicates whether TLS is enabled.
	CertFile string `yaml:"cert_file"` // Path to the TLS certificate file.
	KeyFile  string `yaml:"key_file"`  // Path to the TLS private key file.
}

// Auth defines the authentication configuration: token signing, hashing cost,
// lockout policy, password rules and audit retention.
type Auth struct {
	JWTSecret            string                    `yaml:"jwt_secret"`
	Issuer               string                    `yaml:"issuer"`
	BearerTTL            time.Duration             `yaml:"bearer_ttl"`
	CookieTTL            time.Duration             `yaml:"cookie_ttl"`
	BcryptCost           int                       `yaml:"bcrypt_cost"`
	HashConcurrency      int64                     `yaml:"hash_concurrency"`
	HashTimeout          time.Duration             `yaml:"hash_timeout"`
	LockoutThreshold     int                       `yaml:"lockout_threshold"`
	LockoutDuration      time.Duration             `yaml:"lockout_duration"`
	PasswordHistoryLimit int                       `yaml:"password_history_limit"`
	PasswordPolicy       validation.PasswordPolicy `yaml:"password_policy"`
	AuditRetention       time.Duration             `yaml:"audit_retention"`
	AuditCleanupInterval time.Duration             `yaml:"audit_cleanup_interval"`
}

// Session configures the session and CSRF cookies.
type Session struct {
	CookieName     string `yaml:"cookie_name"`
	CSRFCookieName string `yaml:"csrf_cookie_name"`
	CSRFHeader     string `yaml:"csrf_header"`
	CSRFKey        string `yaml:"csrf_key"`
	Domain         string `yaml:"domain"`
	Secure         *bool  `yaml:"secure"`    // Defaults to true in production.
	SameSite       string `yaml:"same_site"` // "strict", "lax" or "none".
}

// RateLimit defines the global request budget and the per-IP login throttle.
type RateLimit struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"` // Number of allowed requests per second per client.
	Burst             int           `yaml:"burst"`               // Maximum number of burst requests allowed.
	LoginLimit        int           `yaml:"login_limit"`         // Failed logins allowed per IP per window.
	LoginWindow       time.Duration `yaml:"login_window"`
	Backend           string        `yaml:"backend"` // "memory" or "redis".
}

// Redis configures the shared throttle backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// CORS defines the configuration for Cross-Origin Resource Sharing.
type CORS struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`   // List of origins allowed to access the resources.
	AllowedMethods   []string `yaml:"allowed_methods"`   // HTTP methods allowed for CORS requests.
	AllowedHeaders   []string `yaml:"allowed_headers"`   // HTTP headers allowed in CORS requests.
	ExposedHeaders   []string `yaml:"exposed_headers"`   // HTTP headers exposed to the browser.
	AllowCredentials bool     `yaml:"allow_credentials"` // Indicates whether credentials are allowed in CORS requests.
	MaxAge           int      `yaml:"max_age"`           // Duration (in seconds) for which preflight results can be cached.
}

// Security holds configuration settings for security-related HTTP headers.
type Security struct {
	HSTS                  bool   `yaml:"hsts"`                    // Enables HTTP Strict Transport Security (HSTS).
	HSTSMaxAge            int    `yaml:"hsts_max_age"`            // Duration (in seconds) for the HSTS policy.
	HSTSIncludeSubDomains bool   `yaml:"hsts_include_subdomains"` // Applies HSTS policy to all subdomains if true.
	FrameOptions          string `yaml:"frame_options"`           // Value for the X-Frame-Options header.
	ContentSecurityPolicy string `yaml:"content_security_policy"`
	ReferrerPolicy        string `yaml:"referrer_policy"`
	PermissionsPolicy     string `yaml:"permissions_policy"`
}

// API restricts the administrative routes.
type API struct {
	AllowedIPs []string `yaml:"allowed_ips"` // IPs or CIDRs; empty allows any.
	Debug      bool     `yaml:"debug"`
}

type LogOptions struct {
	Headers     bool `yaml:"headers"`      // Headers define if request headers should be logged
	QueryParams bool `yaml:"query_params"` // QueryParams define if request query params should be logged
}

// Secrets points at an AWS Secrets Manager secret whose JSON keys are
// exported as environment variables before overrides are applied.
type Secrets struct {
	SecretID     string `yaml:"secret_id"`
	Region       string `yaml:"region"`
	VersionStage string `yaml:"version_stage"`
	Overwrite    bool   `yaml:"overwrite"`
}

// IsProduction reports whether the configured environment is production.
func (cfg *Escuela) IsProduction() bool {
	return strings.EqualFold(cfg.Environment, "production")
}

// Addr returns the listen address.
func (cfg *Escuela) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}

// SameSiteMode converts the configured same_site value.
func (se Session) SameSiteMode() http.SameSite {
	switch strings.ToLower(se.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// Load reads a configuration file. Unknown keys are rejected.
func Load(path string) (*Escuela, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document into a configuration.
func Parse(data []byte) (*Escuela, error) {
	var config Escuela
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyEnv overrides secrets with their environment variables when set.
func (cfg *Escuela) ApplyEnv() {
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv(EnvCSRFKey); v != "" {
		cfg.Session.CSRFKey = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		cfg.Mail.Password = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate applies defaults and rejects configurations the server cannot run with.
func (cfg *Escuela) Validate(logger *zap.Logger) error {
	cfg.applyDefaults()

	if len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes (set %s)", EnvJWTSecret)
	}
	if cfg.Session.CSRFKey != "" && len(cfg.Session.CSRFKey) < 32 {
		return fmt.Errorf("session.csrf_key must be at least 32 bytes")
	}
	if cfg.Session.CSRFKey == "" {
		logger.Warn("session.csrf_key not set, a random key will be generated; CSRF tokens will not survive restarts")
	}
	if cfg.Auth.BcryptCost < MinBcryptCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost %d out of range [%d, %d]", cfg.Auth.BcryptCost, MinBcryptCost, bcrypt.MaxCost)
	}
	if cfg.Auth.LockoutThreshold < 0 {
		return fmt.Errorf("auth.lockout_threshold must be positive")
	}
	if cfg.Auth.LockoutDuration < 0 {
		return fmt.Errorf("auth.lockout_duration must be positive")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.TLS.Enabled && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires cert_file and key_file")
	}

	switch cfg.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres, "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (set %s)", EnvDatabaseDSN)
	}

	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("invalid rate_limit.backend: %s", cfg.RateLimit.Backend)
	}

	switch strings.ToLower(cfg.Session.SameSite) {
	case "strict", "lax", "none":
	default:
		return fmt.Errorf("invalid session.same_site: %s", cfg.Session.SameSite)
	}
	if strings.EqualFold(cfg.Session.SameSite, "none") && !*cfg.Session.Secure {
		return fmt.Errorf("session.same_site none requires secure cookies")
	}

	if cfg.Mail.Enabled && (cfg.Mail.SMTPHost == "" || cfg.Mail.From == "" || len(cfg.Mail.To) == 0) {
		return fmt.Errorf("mail requires smtp_host, from and to when enabled")
	}

	if cfg.IsProduction() && !*cfg.Session.Secure {
		logger.Warn("Session cookies are not marked Secure in production")
	}

	return nil
}

func (cfg *Escuela) applyDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	s := &cfg.Server
	if s.Port == 0 {
		s.Port = 5000
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 15 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 15 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = database.DriverSQLite
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == database.DriverSQLite {
		cfg.Database.DSN = "escuela.db"
	}

	a := &cfg.Auth
	if a.Issuer == "" {
		a.Issuer = "escuela"
	}
	if a.BearerTTL == 0 {
		a.BearerTTL = time.Hour
	}
	if a.CookieTTL == 0 {
		a.CookieTTL = 30 * 24 * time.Hour
	}
	if a.BcryptCost == 0 {
		a.BcryptCost = 12
	}
	if a.HashTimeout == 0 {
		a.HashTimeout = 5 * time.Second
	}
	if a.LockoutThreshold == 0 {
		a.LockoutThreshold = 5
	}
	if a.LockoutDuration == 0 {
		a.LockoutDuration = 15 * time.Minute
	}
	if a.PasswordHistoryLimit == 0 {
		a.PasswordHistoryLimit = 5
	}
	if a.PasswordPolicy.MinLength == 0 {
		a.PasswordPolicy = validation.DefaultPasswordPolicy()
	}
	if a.AuditRetention == 0 {
		a.AuditRetention = 90 * 24 * time.Hour
	}
	if a.AuditCleanupInterval == 0 {
		a.AuditCleanupInterval = 24 * time.Hour
	}

	se := &cfg.Session
	if se.CookieName == "" {
		se.CookieName = "jwt"
	}
	if se.CSRFCookieName == "" {
		se.CSRFCookieName = "csrf_token"
	}
	if se.CSRFHeader == "" {
		se.CSRFHeader = "X-CSRF-Token"
	}
	if se.SameSite == "" {
		se.SameSite = "strict"
	}
	if se.Secure == nil {
		secure := cfg.IsProduction()
		se.Secure = &secure
	}

	r := &cfg.RateLimit
	if r.RequestsPerSecond == 0 {
		r.RequestsPerSecond = 20
	}
	if r.Burst == 0 {
		r.Burst = 50
	}
	if r.LoginLimit == 0 {
		r.LoginLimit = 5
	}
	if r.LoginWindow == 0 {
		r.LoginWindow = 15 * time.Minute
	}
	if r.Backend == "" {
		r.Backend = "memory"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "escuela:login"
	}

	c := &cfg.CORS
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = []string{"Content-Type", "Authorization", cfg.Session.CSRFHeader}
	}
	if len(c.ExposedHeaders) == 0 {
		c.ExposedHeaders = []string{"X-Request-ID", "Retry-After"}
	}
	if c.MaxAge == 0 {
		c.MaxAge = 600
	}
	c.AllowCredentials = true

	sec := &cfg.Security
	if sec.FrameOptions == "" {
		sec.FrameOptions = "DENY"
	}
	if sec.ContentSecurityPolicy == "" {
		sec.ContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	}
	if sec.ReferrerPolicy == "" {
		sec.ReferrerPolicy = "strict-origin-when-cross-origin"
	}
	if sec.PermissionsPolicy == "" {
		sec.PermissionsPolicy = "camera=(), microphone=(), geolocation=()"
	}
	if cfg.IsProduction() && sec.HSTSMaxAge == 0 {
		sec.HSTS = true
		sec.HSTSMaxAge = 31536000
		sec.HSTSIncludeSubDomains = true
	}
}
