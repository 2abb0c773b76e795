// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve bootstraps the app and runs it until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := a.Manager()
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// Manager returns a manager for the app with Close registered as its
// final shutdown step.
func (a *App) Manager() (*Manager, error) {
	m, err := NewManager(ManagerConfig{
		ListenAddr:      a.Config.ListenAddr,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		CheckInterval:   a.Config.Offline.CheckInterval,
	}, a.Handler, a.Registry, a.Upstream.Ping)
	if err != nil {
		return nil, err
	}
	m.RegisterShutdownHook("app", a.Close)
	return m, nil
}
