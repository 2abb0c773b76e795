// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the components together and runs the HTTP server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/offlinevod/internal/api"
	"github.com/ManuGH/offlinevod/internal/config"
	"github.com/ManuGH/offlinevod/internal/downloader"
	"github.com/ManuGH/offlinevod/internal/health"
	"github.com/ManuGH/offlinevod/internal/intercept"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/registry"
	"github.com/ManuGH/offlinevod/internal/retry"
	"github.com/ManuGH/offlinevod/internal/storage"
	"github.com/ManuGH/offlinevod/internal/telemetry"
	"github.com/ManuGH/offlinevod/internal/upstream"
)

// ServiceName tags logs, traces and the HTTP tracer.
const ServiceName = "offlinevod"

// App holds the wired components. CLI commands use them directly; the
// daemon additionally serves Handler.
type App struct {
	Config   config.Config
	Store    *storage.Store
	Registry *registry.Registry
	Upstream *upstream.Client
	Engine   *downloader.Engine
	Resolver *intercept.Resolver
	Handler  http.Handler

	tracing *telemetry.Provider
	logger  zerolog.Logger
}

// Bootstrap builds an App from cfg. A registry that cannot load is logged
// and left uninitialized so the API can still report the storage error.
func Bootstrap(ctx context.Context, cfg config.Config, version string) (*App, error) {
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	up, err := upstream.NewClient(upstream.Options{
		BaseURL:        cfg.Upstream.BaseURL,
		Timeout:        cfg.Upstream.Timeout,
		RateLimit:      rateLimit(cfg.Upstream.RateLimit),
		RateLimitBurst: cfg.Upstream.RateBurst,
		UserAgent:      cfg.Upstream.UserAgent,
	})
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	storeLogger := xglog.WithComponent("storage")
	store := storage.New(storage.Options{
		DataDir:     cfg.DataDir,
		CatalogPath: cfg.Storage.CatalogPath,
		FSRoot:      cfg.Storage.FSRoot,
		KVDir:       cfg.Storage.KVDir,
		Redis: storage.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		},
		Preferred: cfg.PreferredBackends(),
		Logger:    &storeLogger,
	})

	reg := registry.New(store)
	if err := reg.Initialize(ctx); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "registry.init_failed").Msg("offline storage is unavailable")
	}

	engine := downloader.New(up, store, reg, downloader.Config{
		Retry: retry.Policy{Delays: cfg.Download.RetryDelays},
	})
	resolver := intercept.NewResolver(store)

	srv := api.New(api.Deps{
		Engine:   engine,
		Registry: reg,
		Store:    store,
		Programs: up,
		Offline:  resolver,
		Health:   readiness(version, reg, up),
	}, api.Config{
		Version:            version,
		DefaultQuality:     cfg.Download.Quality,
		RateLimitPerMinute: cfg.Server.RateLimit,
		TracingService:     tracingService(cfg),
	})

	return &App{
		Config:   cfg,
		Store:    store,
		Registry: reg,
		Upstream: up,
		Engine:   engine,
		Resolver: resolver,
		Handler:  srv.Handler(),
		tracing:  tp,
		logger:   logger,
	}, nil
}

// readiness fails on storage and degrades on an unreachable upstream,
// since stored downloads stay playable without it.
func readiness(version string, reg *registry.Registry, up *upstream.Client) *health.Manager {
	m := health.NewManager(version, 0)
	m.Register(
		health.ErrorCheck("storage", health.StatusUnhealthy, func(context.Context) error {
			_, err := reg.StorageBackend()
			return err
		}),
		health.CheckFunc("upstream", func(ctx context.Context) health.CheckResult {
			if reg.OfflineMode() {
				return health.CheckResult{Status: health.StatusHealthy, Message: "offline mode"}
			}
			if err := up.Ping(ctx); err != nil {
				return health.CheckResult{Status: health.StatusDegraded, Error: err.Error()}
			}
			return health.CheckResult{Status: health.StatusHealthy}
		}),
	)
	return m
}

// Close stops running jobs, then releases storage and flushes traces.
// Paused jobs are persisted before the store closes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func tracingService(cfg config.Config) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return ServiceName + "-api"
}
