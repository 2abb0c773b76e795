// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingHandler is returned when a manager is created without a handler.
	ErrMissingHandler = errors.New("daemon: HTTP handler is required")

	// ErrMissingProbe is returned when only one of checker and probe is set.
	ErrMissingProbe = errors.New("daemon: offline checker and probe must be set together")

	// ErrAlreadyStarted is returned by a second Run.
	ErrAlreadyStarted = errors.New("daemon: manager already started")

	// ErrServerStartFailed wraps listen failures.
	ErrServerStartFailed = errors.New("daemon: server failed to start")
)
