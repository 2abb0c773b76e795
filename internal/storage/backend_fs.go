// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	probeFilename = ".probe"
)

// FSBackend keeps one directory per download under root:
//
//	{root}/{id}/playlist.m3u8
//	{root}/{id}/segments/segment-XXXXXXXX.ts
//
// Directories are created on first write, never on read.
type FSBackend struct {
	root string
}

// OpenFSBackend returns a backend rooted at root. The root is created and
// probed for writability.
func OpenFSBackend(root string) (*FSBackend, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("fs backend: create root: %w", err)
	}
	if err := writeAtomic(filepath.Join(root, probeFilename), []byte("ok")); err != nil {
		return nil, fmt.Errorf("fs backend: probe root: %w", err)
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) Kind() model.StorageBackend { return model.BackendFS }

func (b *FSBackend) Close() error { return nil }

func (b *FSBackend) downloadDir(downloadID string) (string, error) {
	if !vpath.ValidID(downloadID) {
		return "", fmt.Errorf("fs backend: invalid download id %q", downloadID)
	}
	return filepath.Join(b.root, downloadID), nil
}

func (b *FSBackend) manifestPath(downloadID string) (string, error) {
	dir, err := b.downloadDir(downloadID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, model.ManifestFilename), nil
}

func (b *FSBackend) segmentPath(downloadID string, sequence int) (string, error) {
	dir, err := b.downloadDir(downloadID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "segments", vpath.SegmentFilename(sequence)), nil
}

func (b *FSBackend) WriteManifest(_ context.Context, downloadID, text string) error {
	p, err := b.manifestPath(downloadID)
	if err != nil {
		return err
	}
	return writeCreatingDirs(p, []byte(text))
}

func (b *FSBackend) ReadManifest(_ context.Context, downloadID string) (string, bool, error) {
	p, err := b.manifestPath(downloadID)
	if err != nil {
		return "", false, err
	}
	data, ok, err := readOptional(p)
	return string(data), ok, err
}

func (b *FSBackend) WriteSegment(_ context.Context, downloadID string, sequence int, data []byte) error {
	p, err := b.segmentPath(downloadID, sequence)
	if err != nil {
		return err
	}
	return writeCreatingDirs(p, data)
}

func (b *FSBackend) ReadSegment(_ context.Context, downloadID string, sequence int) ([]byte, bool, error) {
	p, err := b.segmentPath(downloadID, sequence)
	if err != nil {
		return nil, false, err
	}
	return readOptional(p)
}

// Remove deletes the whole download directory.
func (b *FSBackend) Remove(_ context.Context, downloadID string, _ []int) error {
	dir, err := b.downloadDir(downloadID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (b *FSBackend) Usage(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(b.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func writeCreatingDirs(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// writeAtomic writes via a pending temp file and an fsync+rename.
func writeAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return err
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

func readOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
