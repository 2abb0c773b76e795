// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry runs fetches on a fixed delay schedule with cooperative
// cancellation.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/metrics"
)

// DefaultDelays is the pause before each attempt.
var DefaultDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is a delay schedule. One attempt runs per entry.
type Policy struct {
	Delays []time.Duration
	Sleep  Sleeper
	Logger *zerolog.Logger
}

// DefaultPolicy returns the 0s, 2s, 5s, 10s schedule.
func DefaultPolicy() Policy {
	return Policy{Delays: append([]time.Duration(nil), DefaultDelays...)}
}

// Do calls fn once per delay until it succeeds. Cancellation is checked
// before and after every delay and after a failed attempt; it yields
// model.ErrAborted. When every attempt fails the last error is returned
// unchanged.
func Do[T any](ctx context.Context, p Policy, label string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	delays := p.Delays
	if len(delays) == 0 {
		delays = []time.Duration{0}
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}
	logger := xglog.WithComponentFromContext(ctx, "retry")
	if p.Logger != nil {
		logger = *p.Logger
	}

	var lastErr error
	for i, delay := range delays {
		if ctx.Err() != nil {
			return zero, aborted(label)
		}
		if delay > 0 {
			if err := sleep(ctx, delay); err != nil || ctx.Err() != nil {
				return zero, aborted(label)
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || model.IsAborted(err) {
			return zero, aborted(label)
		}

		lastErr = err
		metrics.IncRetryFailure(kindOf(label))
		logger.Warn().
			Err(err).
			Str(xglog.FieldLabel, label).
			Int(xglog.FieldAttempt, i+1).
			Int("max_attempts", len(delays)).
			Msg("fetch attempt failed")
	}
	return zero, lastErr
}

// SleepWithContext waits for d unless ctx ends first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func aborted(label string) error {
	return fmt.Errorf("%w: %s", model.ErrAborted, label)
}

// kindOf maps "segment#12" to "segment".
func kindOf(label string) string {
	if i := strings.IndexByte(label, '#'); i >= 0 {
		return label[:i]
	}
	return label
}
