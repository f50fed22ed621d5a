// Package shutdown runs registered cleanup functions in reverse order when
// the process is asked to stop.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles graceful shutdown
type Manager struct {
	mu      sync.Mutex
	funcs   []namedFunc
	timeout time.Duration
	logger  zerolog.Logger
	done    chan struct{}
	once    sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown function. Functions run in reverse order (LIFO).
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Done is closed once shutdown has been initiated
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Trigger initiates shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.done) })
}

// Wait blocks until SIGINT/SIGTERM, Trigger or ctx, then runs Shutdown
func (m *Manager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
	case <-m.done:
		m.logger.Info().Msg("initiating graceful shutdown")
	case <-ctx.Done():
		return ctx.Err()
	}
	m.Trigger()
	return m.Shutdown()
}

// Shutdown executes all registered functions within the timeout. Every
// function runs even if an earlier one fails; the first error is returned.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var first error
	for i := len(m.funcs) - 1; i >= 0; i-- {
		f := m.funcs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("component", f.name).Msg("shutdown step failed")
			if first == nil {
				first = fmt.Errorf("%s: %w", f.name, err)
			}
			continue
		}
		m.logger.Debug().Str("component", f.name).Msg("stopped")
	}

	m.logger.Info().Msg("graceful shutdown complete")
	return first
}

// StopHTTPServer adapts an http.Server to a shutdown function
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource adapts an io.Closer to a shutdown function
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}

// WaitFor polls check until it reports true or ctx expires
func WaitFor(check func() bool, pollInterval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			if check() {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("timed out waiting: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
