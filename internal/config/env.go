// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/offlinevod/internal/log"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "OFFLINEVOD_"

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "password") || strings.Contains(lower, "token")
}

// lookup returns the raw value when key is set and non-empty. Every
// outcome is logged at debug with its source.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

func invalid(logger zerolog.Logger, key, value, kind string) {
	ev := logger.Warn().Str("key", key)
	if !isSensitive(key) {
		ev = ev.Str("value", value)
	}
	ev.Msgf("invalid %s in environment variable, using default", kind)
}

// ParseString reads a string from the environment or returns def.
func ParseString(key, def string) string {
	return parseString(xglog.WithComponent("config"), key, def)
}

func parseString(logger zerolog.Logger, key, def string) string {
	if v, ok := lookup(logger, key); ok {
		return v
	}
	return def
}

// ParseInt reads an integer, falling back to def on parse errors.
func ParseInt(key string, def int) int {
	return parseInt(xglog.WithComponent("config"), key, def)
}

func parseInt(logger zerolog.Logger, key string, def int) int {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		invalid(logger, key, v, "integer")
		return def
	}
	return i
}

// ParseFloat reads a float, falling back to def on parse errors.
func ParseFloat(key string, def float64) float64 {
	return parseFloat(xglog.WithComponent("config"), key, def)
}

func parseFloat(logger zerolog.Logger, key string, def float64) float64 {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		invalid(logger, key, v, "float")
		return def
	}
	return f
}

// ParseBool reads a boolean in strconv.ParseBool syntax.
func ParseBool(key string, def bool) bool {
	return parseBool(xglog.WithComponent("config"), key, def)
}

func parseBool(logger zerolog.Logger, key string, def bool) bool {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		invalid(logger, key, v, "boolean")
		return def
	}
	return b
}

// ParseDuration reads a Go duration such as "5s".
func ParseDuration(key string, def time.Duration) time.Duration {
	return parseDuration(xglog.WithComponent("config"), key, def)
}

func parseDuration(logger zerolog.Logger, key string, def time.Duration) time.Duration {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		invalid(logger, key, v, "duration")
		return def
	}
	return d
}

// ParseStringList reads a comma separated list, dropping blank items.
func ParseStringList(key string, def []string) []string {
	return parseStringList(xglog.WithComponent("config"), key, def)
}

func parseStringList(logger zerolog.Logger, key string, def []string) []string {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// ParseDurationList reads a comma separated list of durations such as
// "0s,2s,5s". Any bad entry discards the whole value.
func ParseDurationList(key string, def []time.Duration) []time.Duration {
	return parseDurationList(xglog.WithComponent("config"), key, def)
}

func parseDurationList(logger zerolog.Logger, key string, def []time.Duration) []time.Duration {
	v, ok := lookup(logger, key)
	if !ok {
		return def
	}
	var out []time.Duration
	for _, item := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(item))
		if err != nil {
			invalid(logger, key, v, "duration list")
			return def
		}
		out = append(out, d)
	}
	return out
}
