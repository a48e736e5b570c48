package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/victorgomez09/escuela/internal/config"
	"github.com/victorgomez09/escuela/internal/logger"
	"github.com/victorgomez09/escuela/internal/shutdown"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Server owns the HTTP listener and everything that must be released when
// it stops: background workers, the database pool and the log writers.
type Server struct {
	config          *config.Escuela    // Configuration settings for the server
	httpServer      *http.Server       // Listener serving the API
	listener        net.Listener       // Bound socket, set by Start
	logger          *zap.Logger        // Logger instance for logging server activities
	ctx             context.Context    // Context for managing server lifecycle
	cancel          context.CancelFunc // Function to cancel the server context
	wg              sync.WaitGroup     // WaitGroup to wait for goroutines to finish
	errorChan       chan<- error       // Channel to report server errors
	shutdownManager *shutdown.Manager  // Releases dependencies after the listener drains
	closeOnce       sync.Once
	closeErr        error
}

// NewServer prepares the HTTP server for handler. Nothing is bound until
// Start is called.
func NewServer(
	srvCtx context.Context,
	errChan chan<- error,
	cfg *config.Escuela,
	handler http.Handler,
	zLog *zap.Logger,
) (*Server, error) {
	tlsConfig, err := newTLSConfig(cfg.Server.TLS)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(srvCtx)
	s := &Server{
		config:          cfg,
		logger:          zLog,
		ctx:             ctx,
		cancel:          cancel,
		errorChan:       errChan,
		shutdownManager: shutdown.NewManager(zLog),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		TLSConfig:         tlsConfig,
		ErrorLog:          logger.NewStdLogger(zLog, zapcore.WarnLevel, "http"),
	}
	return s, nil
}

// RegisterShutdown adds a release function run after the listener has
// stopped accepting requests.
func (s *Server) RegisterShutdown(name string, fn func(context.Context) error) {
	s.shutdownManager.RegisterShutdown(name, fn)
}

// Start binds the listen address and serves in the background. Bind errors
// are returned directly; later serve errors go to the error channel.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	if s.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.runServer(ln)
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Done is closed once the server begins shutting down or fails to serve.
func (s *Server) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Server) runServer(ln net.Listener) {
	defer s.wg.Done()

	scheme := "http"
	if s.httpServer.TLSConfig != nil {
		scheme = "https"
	}
	s.logger.Info("Server started", zap.String("scheme", scheme), zap.String("listen_on", ln.Addr().String()))

	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Error serving requests", zap.Error(err))
		defer s.cancel()
		if s.errorChan != nil {
			s.errorChan <- err
		}
		return
	}
	s.logger.Info("Server stopped gracefully")
}

// Shutdown stops accepting requests, waits for in-flight ones within ctx
// and then runs the registered release functions. It is safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()
		var errs []error
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		s.wg.Wait()
		if err := s.shutdownManager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
