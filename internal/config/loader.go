// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves configuration with precedence defaults < file < env.
type Loader struct {
	configPath string

	// ConsumedEnvKeys lists every OFFLINEVOD_* key read during Load.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader returns a loader for the YAML file at configPath. An empty
// path skips the file layer.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, ConsumedEnvKeys: map[string]struct{}{}}
}

// Load builds and validates the configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	l.mergeEnv(&cfg)

	if cfg.DataDir != "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- the config path is chosen by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) track(key string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(key, def string) string {
	return ParseString(l.track(key), def)
}

func (l *Loader) envInt(key string, def int) int {
	return ParseInt(l.track(key), def)
}

func (l *Loader) envBool(key string, def bool) bool {
	return ParseBool(l.track(key), def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	return ParseFloat(l.track(key), def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return ParseDuration(l.track(key), def)
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.ListenAddr = l.envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)

	cfg.Upstream.BaseURL = l.envString("UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.UserAgent = l.envString("UPSTREAM_USER_AGENT", cfg.Upstream.UserAgent)
	cfg.Upstream.Timeout = l.envDuration("UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)
	cfg.Upstream.RateLimit = l.envFloat("UPSTREAM_RATE_LIMIT", cfg.Upstream.RateLimit)
	cfg.Upstream.RateBurst = l.envInt("UPSTREAM_RATE_BURST", cfg.Upstream.RateBurst)

	cfg.Storage.Preferred = ParseStringList(l.track("STORAGE_PREFERRED"), cfg.Storage.Preferred)
	cfg.Storage.CatalogPath = l.envString("STORAGE_CATALOG", cfg.Storage.CatalogPath)
	cfg.Storage.FSRoot = l.envString("STORAGE_FS_ROOT", cfg.Storage.FSRoot)
	cfg.Storage.KVDir = l.envString("STORAGE_KV_DIR", cfg.Storage.KVDir)
	cfg.Storage.Redis.Addr = l.envString("REDIS_ADDR", cfg.Storage.Redis.Addr)
	cfg.Storage.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Storage.Redis.Password)
	cfg.Storage.Redis.DB = l.envInt("REDIS_DB", cfg.Storage.Redis.DB)

	cfg.Download.RetryDelays = ParseDurationList(l.track("RETRY_DELAYS"), cfg.Download.RetryDelays)
	cfg.Download.Quality = l.envString("DOWNLOAD_QUALITY", cfg.Download.Quality)
	cfg.Download.SaveComments = l.envBool("DOWNLOAD_SAVE_COMMENTS", cfg.Download.SaveComments)

	cfg.Server.RateLimit = l.envInt("SERVER_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.ShutdownTimeout = l.envDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Offline.CheckInterval = l.envDuration("OFFLINE_CHECK_INTERVAL", cfg.Offline.CheckInterval)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Environment = l.envString("TELEMETRY_ENVIRONMENT", cfg.Telemetry.Environment)
	cfg.Telemetry.ExporterType = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
