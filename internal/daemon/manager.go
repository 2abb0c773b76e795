// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/offlinevod/internal/log"
)

// ShutdownHook runs during shutdown, in reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Prober reports whether upstream is reachable.
type Prober func(ctx context.Context) error

// OfflineChecker is the registry side of the reachability loop.
type OfflineChecker interface {
	CheckServerConnection(ctx context.Context, probe func(context.Context) error) bool
}

// ManagerConfig tunes the server lifecycle.
type ManagerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	// CheckInterval drives the offline-mode probe; 0 disables it.
	CheckInterval time.Duration
}

// Manager runs the HTTP server and background loops until its context ends.
type Manager struct {
	cfg     ManagerConfig
	handler http.Handler
	offline OfflineChecker
	probe   Prober
	logger  zerolog.Logger

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	listener net.Listener
	addr     chan string
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager validates its inputs. offline and probe may both be nil to
// disable the reachability loop.
func NewManager(cfg ManagerConfig, handler http.Handler, offline OfflineChecker, probe Prober) (*Manager, error) {
	if handler == nil {
		return nil, ErrMissingHandler
	}
	if (offline == nil) != (probe == nil) {
		return nil, ErrMissingProbe
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		handler: handler,
		offline: offline,
		probe:   probe,
		logger:  xglog.WithComponent("manager"),
		addr:    make(chan string, 1),
	}, nil
}

// WithListener makes Run serve on l instead of listening on ListenAddr.
func (m *Manager) WithListener(l net.Listener) *Manager {
	m.listener = l
	return m
}

// Addr returns the bound address once the server listens.
func (m *Manager) Addr(ctx context.Context) (string, error) {
	select {
	case a := <-m.addr:
		m.addr <- a
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RegisterShutdownHook adds a hook run after the server stops.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Run serves until ctx ends or the server fails, then shuts everything
// down within ShutdownTimeout.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	l := m.listener
	if l == nil {
		var err error
		l, err = net.Listen("tcp", m.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrServerStartFailed, err)
		}
	}
	m.addr <- l.Addr().String()

	srv := &http.Server{
		Handler:           m.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.logger.Info().Str("addr", l.Addr().String()).Str(xglog.FieldEvent, "server.listening").Msg("HTTP server listening")
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if m.offline != nil && m.cfg.CheckInterval > 0 {
		g.Go(func() error {
			m.watchConnection(gctx)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		m.logger.Error().Err(err).Msg("server stopped with error")
	} else {
		m.logger.Info().Str(xglog.FieldEvent, "server.stopped").Msg("HTTP server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, m.runHooks(shutdownCtx))
}

// watchConnection probes upstream on every tick while offline mode is on.
func (m *Manager) watchConnection(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.CheckInterval)
			m.offline.CheckServerConnection(probeCtx, m.probe)
			cancel()
		}
	}
}

func (m *Manager) runHooks(ctx context.Context) error {
	m.mu.Lock()
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	}
	return errors.Join(errs...)
}
