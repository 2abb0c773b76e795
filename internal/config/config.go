// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads daemon settings from defaults, a YAML file and the
// environment, in that order.
package config

import (
	"time"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/retry"
)

// Config is the resolved daemon configuration.
type Config struct {
	DataDir    string `yaml:"dataDir"`
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`

	Upstream  UpstreamConfig  `yaml:"upstream"`
	Storage   StorageConfig   `yaml:"storage"`
	Download  DownloadConfig  `yaml:"download"`
	Server    ServerConfig    `yaml:"server"`
	Offline   OfflineConfig   `yaml:"offline"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// UpstreamConfig points at the recorded-TV API server.
type UpstreamConfig struct {
	BaseURL   string        `yaml:"baseUrl"`
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// StorageConfig selects and locates the storage backends.
type StorageConfig struct {
	// Preferred is the backend probe order.
	Preferred   []string    `yaml:"preferred"`
	CatalogPath string      `yaml:"catalogPath"`
	FSRoot      string      `yaml:"fsRoot"`
	KVDir       string      `yaml:"kvDir"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig enables the cache backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DownloadConfig tunes the download engine.
type DownloadConfig struct {
	RetryDelays  []time.Duration `yaml:"retryDelays"`
	Quality      string          `yaml:"quality"`
	SaveComments bool            `yaml:"saveComments"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// OfflineConfig drives the periodic server reachability probe.
type OfflineConfig struct {
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Environment  string  `yaml:"environment"`
	ExporterType string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		DataDir:    "/var/lib/offlinevod",
		ListenAddr: ":8099",
		LogLevel:   "info",
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:7000/api",
			UserAgent: "offlinevod",
			Timeout:   30 * time.Second,
			RateLimit: 20,
			RateBurst: 10,
		},
		Storage: StorageConfig{
			Preferred: []string{string(model.BackendFS), string(model.BackendKV), string(model.BackendCache)},
		},
		Download: DownloadConfig{
			RetryDelays:  append([]time.Duration(nil), retry.DefaultDelays...),
			Quality:      "1080p",
			SaveComments: true,
		},
		Server: ServerConfig{
			RateLimit:       600,
			ShutdownTimeout: 15 * time.Second,
		},
		Offline: OfflineConfig{
			CheckInterval: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Environment:  "production",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// PreferredBackends converts Storage.Preferred to backend values.
func (c Config) PreferredBackends() []model.StorageBackend {
	out := make([]model.StorageBackend, 0, len(c.Storage.Preferred))
	for _, b := range c.Storage.Preferred {
		out = append(out, model.StorageBackend(b))
	}
	return out
}
