package logger

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Names of the loggers the server asks for. Any of them may be configured
// separately; unconfigured names fall back to the default logger.
const (
	DefaultLogger = "default"
	HTTPLogger    = "http"
	AuthLogger    = "auth"
)

type LoggerManager struct {
	loggers       map[string]*zap.Logger
	closers       []*AsyncCore
	mu            sync.RWMutex
	defaultConfig Config
}

// NewLoggerManager builds every logger named in the given configuration
// files. Missing files are skipped. A default logger is always present.
func NewLoggerManager(logsConfigPaths []string) (*LoggerManager, error) {
	lm := &LoggerManager{
		loggers:       make(map[string]*zap.Logger),
		defaultConfig: DefaultConfig,
	}

	for _, path := range logsConfigPaths {
		cfgs, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		for name, cfg := range cfgs {
			if err := lm.build(name, cfg); err != nil {
				return nil, fmt.Errorf("failed to add logger '%s' from config '%s': %w", name, path, err)
			}
		}
	}

	if _, ok := lm.loggers[DefaultLogger]; !ok {
		if err := lm.build(DefaultLogger, lm.defaultConfig); err != nil {
			return nil, fmt.Errorf("failed to build default logger: %w", err)
		}
	}

	return lm, nil
}

func (lm *LoggerManager) build(name string, cfg Config) error {
	b, err := buildLogger(name, cfg)
	if err != nil {
		return err
	}
	if err := lm.AddLogger(name, b.logger); err != nil {
		for _, c := range b.closers {
			c.Close()
		}
		return err
	}
	lm.mu.Lock()
	lm.closers = append(lm.closers, b.closers...)
	lm.mu.Unlock()
	return nil
}

// AddLogger adds a new logger to the manager.
// Returns error if a logger with the same name already exists.
func (lm *LoggerManager) AddLogger(name string, logger *zap.Logger) error {
	if logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.loggers[name]; exists {
		return fmt.Errorf("logger '%s' already exists", name)
	}

	lm.loggers[name] = logger
	return nil
}

// GetLogger retrieves a logger by name. Returns error if logger doesn't exist.
func (lm *LoggerManager) GetLogger(name string) (*zap.Logger, error) {
	lm.mu.RLock()
	logger, exists := lm.loggers[name]
	lm.mu.RUnlock()
	if exists {
		return logger, nil
	}

	return nil, fmt.Errorf("logger '%s' not found", name)
}

// Named returns the logger configured under name, or the default logger
// named after it.
func (lm *LoggerManager) Named(name string) *zap.Logger {
	if l, err := lm.GetLogger(name); err == nil {
		return l
	}
	def, err := lm.GetLogger(DefaultLogger)
	if err != nil {
		return zap.NewNop()
	}
	return def.Named(name)
}

// Sync flushes all loggers managed by LoggerManager.
func (lm *LoggerManager) Sync() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for name, logger := range lm.loggers {
		// stdout and stderr return EINVAL on sync on most platforms
		if err := logger.Sync(); err != nil && !isIgnorableSyncError(err) {
			errs = append(errs, fmt.Errorf("failed to sync logger '%s': %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and stops every background writer. Loggers remain usable
// but write synchronously afterwards.
func (lm *LoggerManager) Close() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var errs []error
	for _, c := range lm.closers {
		if err := c.Close(); err != nil && !isIgnorableSyncError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
