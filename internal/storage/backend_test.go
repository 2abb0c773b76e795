// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
)

func newFS(t *testing.T) MediaBackend {
	t.Helper()
	b, err := OpenFSBackend(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)
	return b
}

func newKV(t *testing.T) MediaBackend {
	t.Helper()
	b, err := OpenKVBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newCache(t *testing.T) MediaBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := OpenCacheBackend(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestMediaBackends(t *testing.T) {
	backends := map[model.StorageBackend]func(*testing.T) MediaBackend{
		model.BackendFS:    newFS,
		model.BackendKV:    newKV,
		model.BackendCache: newCache,
	}

	for kind, open := range backends {
		t.Run(string(kind), func(t *testing.T) {
			ctx := context.Background()
			b := open(t)
			assert.Equal(t, kind, b.Kind())

			_, ok, err := b.ReadManifest(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = b.ReadSegment(ctx, "missing", 0)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.WriteManifest(ctx, "dl", "#EXTM3U\n"))
			text, ok, err := b.ReadManifest(ctx, "dl")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "#EXTM3U\n", text)

			require.NoError(t, b.WriteSegment(ctx, "dl", 0, []byte{0x47, 0x00}))
			require.NoError(t, b.WriteSegment(ctx, "dl", 1, []byte{0x47, 0x01}))
			require.NoError(t, b.WriteSegment(ctx, "dl", 1, []byte{0x47, 0x02}))

			data, ok, err := b.ReadSegment(ctx, "dl", 1)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte{0x47, 0x02}, data, "overwrite replaces")

			require.NoError(t, b.WriteSegment(ctx, "other", 0, []byte("keep")))

			usage, err := b.Usage(ctx)
			require.NoError(t, err)
			if kind != model.BackendKV {
				// badger refreshes its size counters asynchronously
				assert.Positive(t, usage)
			}

			require.NoError(t, b.Remove(ctx, "dl", []int{0, 1}))

			_, ok, err = b.ReadManifest(ctx, "dl")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = b.ReadSegment(ctx, "dl", 0)
			require.NoError(t, err)
			assert.False(t, ok)

			data, ok, err = b.ReadSegment(ctx, "other", 0)
			require.NoError(t, err)
			assert.True(t, ok, "other downloads are untouched")
			assert.Equal(t, []byte("keep"), data)

			require.NoError(t, b.Remove(ctx, "never-written", nil))
		})
	}
}

func TestFSBackend_LayoutAndLazyDirs(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "media")
	b, err := OpenFSBackend(root)
	require.NoError(t, err)

	_, ok, err := b.ReadSegment(ctx, "dl", 3)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(root, "dl"))
	assert.True(t, os.IsNotExist(err), "reads never create directories")

	require.NoError(t, b.WriteSegment(ctx, "dl", 3, []byte("x")))
	_, err = os.Stat(filepath.Join(root, "dl", "segments", "segment-00000003.ts"))
	assert.NoError(t, err)

	require.NoError(t, b.WriteManifest(ctx, "dl", "m"))
	_, err = os.Stat(filepath.Join(root, "dl", "playlist.m3u8"))
	assert.NoError(t, err)
}

func TestFSBackend_RejectsTraversal(t *testing.T) {
	b, err := OpenFSBackend(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, b.WriteManifest(context.Background(), "..", "x"))
	assert.Error(t, b.Remove(context.Background(), "a/b", nil))
}

func TestCacheBackend_StoresEnvelope(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	b, err := OpenCacheBackend(ctx, RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.WriteSegment(ctx, "dl", 7, []byte("ts")))
	key := "offlinevod:/offline/streams/dl/segments/segment-00000007.ts"
	assert.Equal(t, ContentTypeSegment, mr.HGet(key, "content_type"))
	assert.Equal(t, "ts", mr.HGet(key, "body"))
}

func TestOpenCacheBackend_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := OpenCacheBackend(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}
