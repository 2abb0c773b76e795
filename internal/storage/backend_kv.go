// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
)

// KVBackend stores media in an embedded badger database.
//   - manifest: key = "manifest:<id>"
//   - segments: key = "segment:<id>:<sequence>"
type KVBackend struct {
	db *badger.DB
}

// OpenKVBackend opens (or creates) the badger directory at dir.
func OpenKVBackend(dir string) (*KVBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv backend: open: %w", err)
	}
	return &KVBackend{db: db}, nil
}

func (b *KVBackend) Kind() model.StorageBackend { return model.BackendKV }

func (b *KVBackend) Close() error { return b.db.Close() }

func manifestKey(downloadID string) []byte {
	return []byte("manifest:" + downloadID)
}

func segmentPrefix(downloadID string) []byte {
	return []byte("segment:" + downloadID + ":")
}

func segmentKey(downloadID string, sequence int) []byte {
	return append(segmentPrefix(downloadID), strconv.Itoa(sequence)...)
}

func (b *KVBackend) put(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *KVBackend) get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (b *KVBackend) WriteManifest(_ context.Context, downloadID, text string) error {
	return b.put(manifestKey(downloadID), []byte(text))
}

func (b *KVBackend) ReadManifest(_ context.Context, downloadID string) (string, bool, error) {
	data, ok, err := b.get(manifestKey(downloadID))
	return string(data), ok, err
}

func (b *KVBackend) WriteSegment(_ context.Context, downloadID string, sequence int, data []byte) error {
	return b.put(segmentKey(downloadID, sequence), data)
}

func (b *KVBackend) ReadSegment(_ context.Context, downloadID string, sequence int) ([]byte, bool, error) {
	return b.get(segmentKey(downloadID, sequence))
}

// Remove deletes the manifest and every key under the download's segment
// prefix. The listed sequences are covered by the prefix.
func (b *KVBackend) Remove(_ context.Context, downloadID string, _ []int) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(manifestKey(downloadID))
	})
	if err != nil {
		return err
	}
	return b.db.DropPrefix(segmentPrefix(downloadID))
}

func (b *KVBackend) Usage(_ context.Context) (int64, error) {
	lsm, vlog := b.db.Size()
	return lsm + vlog, nil
}
