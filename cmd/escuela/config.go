package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/config"
)

const secretsTimeout = 15 * time.Second

// ConfigManager loads the server configuration from its layered sources:
// dotenv file, YAML file, AWS Secrets Manager and process environment.
type ConfigManager struct {
	logger *zap.Logger
}

func NewConfigManager(logger *zap.Logger) *ConfigManager {
	return &ConfigManager{
		logger: logger,
	}
}

// Load reads path and applies every override. Later sources win.
func (cm *ConfigManager) Load(path, envFile string) (*config.Escuela, error) {
	config.LoadDotEnv(envFile, cm.logger)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
	defer cancel()
	if err := config.LoadSecrets(ctx, cfg.Secrets, cm.logger); err != nil {
		return nil, err
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(cm.logger); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfig(path, envFile string, logger *zap.Logger) *config.Escuela {
	cfg, err := NewConfigManager(logger).Load(path, envFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}
	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.String("environment", cfg.Environment),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
	)
	return cfg
}
