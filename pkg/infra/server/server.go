package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/kgrag/pkg/infra/server/http"
)

// Manager runs the HTTP server and custom runnables with a unified lifecycle.
type Manager struct {
	opts       *Options
	httpServer *http.Server
	servers    []Runnable
	mu         sync.Mutex
	started    bool
}

// NewManager creates a new server manager with the given options.
func NewManager(opts *Options) *Manager {
	if opts == nil {
		opts = NewOptions()
	}
	_ = opts.Complete()

	return &Manager{
		opts:       opts,
		httpServer: http.NewServer(opts.HTTP, opts.Middleware),
	}
}

// HTTPServer returns the HTTP server.
func (m *Manager) HTTPServer() *http.Server {
	return m.httpServer
}

// AddServer adds a custom server to the manager.
// Custom servers start after the HTTP server and stop before it.
func (m *Manager) AddServer(server Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, server)
}

// Start starts all servers. A failing start stops everything already started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("server manager already started")
	}
	m.started = true
	servers := append([]Runnable(nil), m.servers...)
	m.mu.Unlock()

	if err := m.httpServer.Start(ctx); err != nil {
		m.setStarted(false)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	logger.Infow("HTTP server started", "addr", m.httpServer.Addr().String())

	for i, server := range servers {
		if err := server.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = servers[j].Stop(ctx)
			}
			_ = m.httpServer.Stop(ctx)
			m.setStarted(false)
			return fmt.Errorf("failed to start server %s: %w", server.Name(), err)
		}
		logger.Infow("Custom server started", "name", server.Name())
	}

	return nil
}

func (m *Manager) setStarted(v bool) {
	m.mu.Lock()
	m.started = v
	m.mu.Unlock()
}

// Stop stops all servers gracefully.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	servers := append([]Runnable(nil), m.servers...)
	m.mu.Unlock()

	var errs []error
	for i := len(servers) - 1; i >= 0; i-- {
		if err := servers[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop server %s: %w", servers[i].Name(), err))
		}
	}

	if err := m.httpServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop HTTP server: %w", err))
	}
	logger.Info("HTTP server stopped")

	return utilerrors.NewAggregate(errs)
}

// Run starts all servers and blocks until SIGINT/SIGTERM or ctx is done,
// then shuts down within the configured timeout.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Infow("Server shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
	defer cancel()
	return m.Stop(shutdownCtx)
}
