package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/escuela/internal/logger"
	"github.com/victorgomez09/escuela/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to main config file")
	customLogConfigs := flag.String("log-config", "", "comma-separated paths to custom provided log config files")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// initilize logging manager
	logManager, zLog := initializeLogging(*customLogConfigs)
	defer syncLoggers(logManager)

	cfg := loadConfig(*configPath, *envFile, zLog)

	errChan := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// build server and initialize components
	srv := initializeServer(ctx, cfg, errChan, logManager)
	// run server
	runServer(ctx, cancel, srv, cfg.Server.ShutdownTimeout, errChan, zLog)
}

// initializeLogging initializes the logger manager and retrieves the main logger.
func initializeLogging(customLogConfigs string) (*logger.LoggerManager, *zap.Logger) {
	logConfigPaths := []string{"log.config.json"}
	for _, customConfig := range strings.Split(customLogConfigs, ",") {
		if tp := strings.TrimSpace(customConfig); tp != "" {
			logConfigPaths = append(logConfigPaths, tp)
		}
	}

	logManager, err := logger.NewLoggerManager(logConfigPaths)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logManager, logManager.Named(logger.DefaultLogger)
}

// Ensure that all logger buffers are flushed before the application exits.
func syncLoggers(logManager *logger.LoggerManager) {
	if err := logManager.Sync(); err != nil {
		log.Printf("Failed to sync loggers: %s", err)
	}
}

// runServer starts the server and blocks until a signal or a server error,
// then shuts everything down within timeout.
func runServer(
	ctx context.Context,
	cancel context.CancelFunc,
	srv *server.Server,
	timeout time.Duration,
	errChan chan error,
	zLog *zap.Logger,
) {
	if err := srv.Start(); err != nil {
		zLog.Error("Failed to start server", zap.Error(err))
		shutdown(srv, timeout, zLog)
		os.Exit(1)
	}

	// Set up a channel to listen for OS signals for graceful shutdown (e.g., SIGINT, SIGTERM).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		zLog.Warn("Shutdown signal received. Initializing graceful shutdown")
	case err := <-errChan:
		zLog.Error("Server error triggered shutdown", zap.Error(err))
		exitCode = 1
	case <-ctx.Done():
	}
	cancel()

	if err := shutdown(srv, timeout, zLog); err != nil {
		exitCode = 1
	}
	zLog.Info("Server shutdown completed")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func shutdown(srv *server.Server, timeout time.Duration, zLog *zap.Logger) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		zLog.Error("Error during shutdown", zap.Error(err))
		return err
	}
	return nil
}
