package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource within the shutdown deadline
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the API server and then releases the engine's
// resources in registration order: listeners, background jobs, stores,
// tracing. Later steps may depend on earlier ones having finished, so steps
// run one at a time.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
	once  sync.Once
	err   error
}

// NewShutdownManager creates a manager for server. A zero timeout means 30s.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = NewLogger(InfoLevel, os.Stdout)
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

// Register appends a named step. Nil functions are ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx ends, then shuts down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	if err := context.Cause(ctx); err != nil {
		sm.logger.WithError(err).Warn("starting shutdown")
	} else {
		sm.logger.Info("received signal, starting graceful shutdown")
	}
	return sm.Shutdown()
}

// Shutdown runs once; later calls return the first result. A failing step
// does not stop the ones after it, but an expired deadline skips the rest.
func (sm *ShutdownManager) Shutdown() error {
	sm.once.Do(func() {
		sm.err = sm.shutdown()
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("api server did not drain")
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}

	sm.mu.Lock()
	steps := append([]shutdownStep(nil), sm.steps...)
	sm.mu.Unlock()

	for i, step := range steps {
		if ctx.Err() != nil {
			skipped := len(steps) - i
			sm.logger.WithField("skipped", skipped).Warn("shutdown deadline reached")
			errs = append(errs, fmt.Errorf("shutdown deadline reached, %d steps skipped: %w", skipped, ctx.Err()))
			break
		}

		start := time.Now()
		log := sm.logger.WithField("step", step.name)
		if err := runStep(ctx, step.fn); err != nil {
			log.WithError(err).Error("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("shutdown step complete")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}

// runStep returns when fn does or when ctx expires, whichever is first
func runStep(ctx context.Context, fn ShutdownFunc) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
