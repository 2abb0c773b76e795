// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks absent metadata, manifests or segments where the
	// absence itself is the caller's failure condition.
	ErrNotFound = errors.New("offline: not found")
	// ErrMalformedManifest marks a manifest missing required fields.
	ErrMalformedManifest = errors.New("offline: malformed manifest")
	// ErrAborted marks a user-cancelled job. It is not a transport failure.
	ErrAborted = errors.New("offline: download aborted")
)

// TransportError is a failed upstream fetch.
type TransportError struct {
	Op         string // fetch_manifest, fetch_segment, ...
	StatusCode int    // 0 for non-HTTP failures
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error during %s (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError is a failed backend read or write.
type StorageError struct {
	Op      string
	Backend StorageBackend
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s on %s: %v", e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsAborted reports whether err stems from cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
