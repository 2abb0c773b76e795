// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
)

// Content types served for stored media.
const (
	ContentTypeManifest = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"
)

// MediaBackend stores the manifest and segments of downloads. A read of an
// absent object returns ok=false and a nil error.
type MediaBackend interface {
	Kind() model.StorageBackend

	WriteManifest(ctx context.Context, downloadID, text string) error
	ReadManifest(ctx context.Context, downloadID string) (text string, ok bool, err error)

	WriteSegment(ctx context.Context, downloadID string, sequence int, data []byte) error
	ReadSegment(ctx context.Context, downloadID string, sequence int) (data []byte, ok bool, err error)

	// Remove deletes the manifest and the given segment sequences. Backends
	// with a per-download namespace may drop it wholesale.
	Remove(ctx context.Context, downloadID string, sequences []int) error

	// Usage reports the bytes held by this backend.
	Usage(ctx context.Context) (int64, error)

	Close() error
}
