package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type handler struct {
	name string
	fn   func(context.Context) error
}

// Manager runs the registered release functions once the HTTP listener has
// drained. Handlers run concurrently and must not depend on each other.
type Manager struct {
	handlers []handler
	logger   *zap.Logger
	mu       sync.Mutex
	once     sync.Once
	err      error
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make([]handler, 0),
		logger:   logger,
	}
}

func (sh *Manager) AddHandler(h func(context.Context) error) {
	sh.RegisterShutdown("", h)
}

// RegisterShutdown adds a named release function.
func (sh *Manager) RegisterShutdown(name string, fn func(context.Context) error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.handlers = append(sh.handlers, handler{name: name, fn: fn})
}

// Shutdown runs every handler once. Later calls return the first result.
func (sh *Manager) Shutdown(ctx context.Context) error {
	sh.once.Do(func() {
		sh.err = sh.run(ctx)
	})
	return sh.err
}

func (sh *Manager) run(ctx context.Context) error {
	sh.mu.Lock()
	handlers := make([]handler, len(sh.handlers))
	copy(handlers, sh.handlers)
	sh.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range handlers {
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			err := h.fn(ctx)
			if err == nil {
				sh.logger.Debug("Shutdown handler finished", zap.String("name", h.name))
				return
			}
			if h.name != "" {
				err = fmt.Errorf("%s shutdown: %w", h.name, err)
			}
			sh.logger.Error("Error during shutdown", zap.Error(err))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		return errors.Join(errs...)
	}
}
