package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/auth/database"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestParseAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: production
server:
  port: 8080
auth:
  jwt_secret: ` + secret + `
  lockout_duration: 30m
database:
  driver: sqlite
  dsn: ":memory:"
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(zap.NewNop()))

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.Equal(t, time.Hour, cfg.Auth.BearerTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "jwt", cfg.Session.CookieName)
	assert.Equal(t, "csrf_token", cfg.Session.CSRFCookieName)
	require.NotNil(t, cfg.Session.Secure)
	assert.True(t, *cfg.Session.Secure)
	assert.True(t, cfg.Security.HSTS)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("servr:\n  port: 1\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Escuela)
	}{
		{"short secret", func(c *Escuela) { c.Auth.JWTSecret = "short" }},
		{"bad driver", func(c *Escuela) { c.Database.Driver = "mysql" }},
		{"redis without addr", func(c *Escuela) { c.RateLimit.Backend = "redis" }},
		{"bad same site", func(c *Escuela) { c.Session.SameSite = "sometimes" }},
		{"tls without files", func(c *Escuela) { c.Server.TLS.Enabled = true }},
		{"mail without host", func(c *Escuela) { c.Mail.Enabled = true }},
		{"short csrf key", func(c *Escuela) { c.Session.CSRFKey = "abc" }},
		{"weak bcrypt cost", func(c *Escuela) { c.Auth.BcryptCost = 4 }},
		{"bcrypt cost above max", func(c *Escuela) { c.Auth.BcryptCost = 32 }},
		{"negative lockout threshold", func(c *Escuela) { c.Auth.LockoutThreshold = -3 }},
		{"negative lockout duration", func(c *Escuela) { c.Auth.LockoutDuration = -time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Escuela{Auth: Auth{JWTSecret: secret}}
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate(zap.NewNop()))
		})
	}

	cfg := &Escuela{Auth: Auth{JWTSecret: secret}}
	require.NoError(t, cfg.Validate(zap.NewNop()))
	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "escuela.db", cfg.Database.DSN)
	assert.False(t, *cfg.Session.Secure)
}

func TestValidateRejectsWeakAuthSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: production
auth:
  jwt_secret: "` + secret + `"
  bcrypt_cost: 4
  lockout_threshold: -3
`))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(zap.NewNop()), "bcrypt_cost")

	cfg.Auth.BcryptCost = MinBcryptCost
	assert.ErrorContains(t, cfg.Validate(zap.NewNop()), "lockout_threshold")

	cfg.Auth.LockoutThreshold = 0
	require.NoError(t, cfg.Validate(zap.NewNop()))
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvJWTSecret, secret)
	t.Setenv(EnvDatabaseDSN, "postgres://escuela@db/escuela")
	t.Setenv(EnvSMTPPassword, "smtp-pass")

	cfg := &Escuela{}
	cfg.ApplyEnv()
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://escuela@db/escuela", cfg.Database.DSN)
	assert.Equal(t, "smtp-pass", cfg.Mail.Password)
	assert.Empty(t, cfg.Redis.Password)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escuela.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 5001\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeSecrets struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	in  *secretsmanager.GetSecretValueInput
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestLoadSecretsFrom(t *testing.T) {
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvRedisPassword, "from-env")

	client := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String(`{"ESCUELA_JWT_SECRET":"` + secret + `","ESCUELA_REDIS_PASSWORD":"from-secret"}`),
	}}

	err := loadSecretsFrom(context.Background(), client, Secrets{SecretID: "escuela/prod"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "escuela/prod", aws.ToString(client.in.SecretId))
	assert.Equal(t, "AWSCURRENT", aws.ToString(client.in.VersionStage))
	assert.Equal(t, secret, os.Getenv(EnvJWTSecret))
	assert.Equal(t, "from-env", os.Getenv(EnvRedisPassword))
}

func TestLoadSecretsFromErrors(t *testing.T) {
	err := loadSecretsFrom(context.Background(), &fakeSecrets{err: errors.New("denied")}, Secrets{SecretID: "x"}, zap.NewNop())
	assert.Error(t, err)

	err = loadSecretsFrom(context.Background(), &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{}}, Secrets{SecretID: "x"}, zap.NewNop())
	assert.Error(t, err)

	err = loadSecretsFrom(context.Background(), &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{
		SecretString: aws.String("not json"),
	}}, Secrets{SecretID: "x"}, zap.NewNop())
	assert.Error(t, err)
}
