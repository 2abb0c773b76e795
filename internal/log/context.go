// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type correlationKey struct{}

// correlation holds the IDs that tie log lines of one request or job
// together. It is stored by value so derived contexts never share it.
type correlation struct {
	requestID  string
	downloadID string
}

func correlationFrom(ctx context.Context) correlation {
	if ctx == nil {
		return correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, update func(*correlation)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := correlationFrom(ctx)
	update(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// ContextWithRequestID tags ctx with the HTTP request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = id })
}

// ContextWithDownloadID tags ctx with the download job ID.
func ContextWithDownloadID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.downloadID = id })
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string { return correlationFrom(ctx).requestID }

// DownloadIDFromContext returns the download ID, or "".
func DownloadIDFromContext(ctx context.Context) string { return correlationFrom(ctx).downloadID }

// WithContext adds the correlation IDs carried by ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := correlationFrom(ctx)
	if c == (correlation{}) {
		return logger
	}
	b := logger.With()
	if c.requestID != "" {
		b = b.Str(FieldRequestID, c.requestID)
	}
	if c.downloadID != "" {
		b = b.Str(FieldDownloadID, c.downloadID)
	}
	return b.Logger()
}

// WithComponentFromContext is WithComponent plus the IDs carried by ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
