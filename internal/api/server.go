// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the download registry and engine over JSON and
// serves stored media under the offline virtual paths.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/offlinevod/internal/api/middleware"
	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/downloader"
	"github.com/ManuGH/offlinevod/internal/health"
	"github.com/ManuGH/offlinevod/internal/intercept"
	"github.com/ManuGH/offlinevod/internal/storage"
)

// Engine starts, cancels and removes download jobs.
type Engine interface {
	StartDownloadAsync(ctx context.Context, program model.Program, opts downloader.Options) (model.DownloadRecord, <-chan downloader.Result, error)
	ResumeDownloadAsync(ctx context.Context, id string) (model.DownloadRecord, <-chan downloader.Result, error)
	CancelDownload(id string)
	IsActive(id string) bool
	RemoveDownload(ctx context.Context, id string) error
}

// Registry is the read side of the download index.
type Registry interface {
	Downloads() []model.DownloadRecord
	Get(id string) (model.DownloadRecord, bool)
	Progress(id string) (model.ProgressSnapshot, bool)
	StorageBackend() (model.StorageBackend, error)
	OfflineMode() bool
	SetOfflineMode(ctx context.Context, enabled bool) error
}

// Store reads per-download side data.
type Store interface {
	ReadSideChannel(ctx context.Context, downloadID string) ([]model.Comment, bool, error)
	ReadThumbnail(ctx context.Context, downloadID string) (model.Thumbnail, bool, error)
	Estimate(ctx context.Context) (storage.Estimate, error)
}

// Programs looks up upstream program metadata.
type Programs interface {
	FetchProgram(ctx context.Context, videoID int) (model.Program, error)
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Engine   Engine
	Registry Registry
	Store    Store
	Programs Programs
	// Offline answers /offline/streams/* requests from storage.
	Offline *intercept.Resolver
	// Health serves /readyz when set.
	Health *health.Manager
}

// Config tunes the server.
type Config struct {
	Version            string
	DefaultQuality     string
	RateLimitPerMinute int
	TracingService     string
}

// Server is the daemon's HTTP handler.
type Server struct {
	deps Deps
	cfg  Config
}

// New returns a Server.
func New(deps Deps, cfg Config) *Server {
	if cfg.DefaultQuality == "" {
		cfg.DefaultQuality = "1080p"
	}
	return &Server{deps: deps, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		RateLimitPerMinute:    s.cfg.RateLimitPerMinute,
	})
	if s.deps.Offline != nil {
		r.Use(s.deps.Offline.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	if s.deps.Health != nil {
		r.Get("/readyz", s.deps.Health.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", s.handleListDownloads)
			r.Post("/", s.handleStartDownload)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDownload)
				r.Delete("/", s.handleRemoveDownload)
				r.Post("/cancel", s.handleCancelDownload)
				r.Post("/resume", s.handleResumeDownload)
				r.Get("/comments", s.handleComments)
				r.Get("/thumbnail", s.handleThumbnail)
			})
		})
		r.Get("/storage", s.handleStorage)
		r.Get("/offline-mode", s.handleGetOfflineMode)
		r.Put("/offline-mode", s.handlePutOfflineMode)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	return r
}
