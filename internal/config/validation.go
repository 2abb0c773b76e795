// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/validate"
)

var (
	logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	backends  = []string{string(model.BackendFS), string(model.BackendKV), string(model.BackendCache)}
	exporters = []string{"grpc", "http"}
)

// Validate checks cfg and creates the data directory if needed.
func Validate(cfg Config) error {
	v := validate.New()

	v.Directory("dataDir", cfg.DataDir, false)
	v.ListenAddr("listenAddr", cfg.ListenAddr)
	v.OneOf("logLevel", cfg.LogLevel, logLevels)

	v.URL("upstream.baseUrl", cfg.Upstream.BaseURL, []string{"http", "https"})
	v.PositiveDuration("upstream.timeout", cfg.Upstream.Timeout)
	if cfg.Upstream.RateLimit < 0 {
		v.AddError("upstream.rateLimit", "must not be negative", cfg.Upstream.RateLimit)
	}
	if cfg.Upstream.RateLimit > 0 {
		v.Positive("upstream.rateBurst", cfg.Upstream.RateBurst)
	}

	if len(cfg.Storage.Preferred) == 0 {
		v.AddError("storage.preferred", "at least one backend is required", cfg.Storage.Preferred)
	}
	for _, b := range cfg.Storage.Preferred {
		v.OneOf("storage.preferred", b, backends)
	}
	v.Range("storage.redis.db", cfg.Storage.Redis.DB, 0, 15)

	v.NonNegativeDurations("download.retryDelays", cfg.Download.RetryDelays)
	v.NotEmpty("download.quality", cfg.Download.Quality)

	if cfg.Server.RateLimit < 0 {
		v.AddError("server.rateLimit", "must not be negative", cfg.Server.RateLimit)
	}
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)
	v.PositiveDuration("offline.checkInterval", cfg.Offline.CheckInterval)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType, exporters)
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
