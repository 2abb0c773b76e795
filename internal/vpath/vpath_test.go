// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	assert.Equal(t, "/offline/streams/abc/playlist.m3u8", ManifestPath("abc"))
	assert.Equal(t, "/offline/streams/abc/segments/segment-00000042.ts", SegmentPath("abc", 42))
	assert.Equal(t, SegmentPath("abc", 7), SegmentPath("abc", 7))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Target
		ok   bool
	}{
		{"manifest", "/offline/streams/id1/playlist.m3u8", Target{DownloadID: "id1", Kind: KindManifest}, true},
		{"manifest with query", "/offline/streams/id1/playlist.m3u8?x=1", Target{DownloadID: "id1", Kind: KindManifest}, true},
		{"absolute url", "http://127.0.0.1:8080/offline/streams/id1/playlist.m3u8", Target{DownloadID: "id1", Kind: KindManifest}, true},
		{"segment", "/offline/streams/id1/segments/segment-00000003.ts", Target{DownloadID: "id1", Kind: KindSegment, Sequence: 3}, true},
		{"segment large", "offline/streams/id1/segments/segment-12345678.ts", Target{DownloadID: "id1", Kind: KindSegment, Sequence: 12345678}, true},
		{"other api", "/api/streams/video/1/1080p/playlist", Target{}, false},
		{"wrong prefix", "/offline/videos/id1/playlist.m3u8", Target{}, false},
		{"missing id", "/offline/streams/", Target{}, false},
		{"dot id", "/offline/streams/../playlist.m3u8", Target{}, false},
		{"unknown leaf", "/offline/streams/id1/index.html", Target{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_InvalidSegmentFilename(t *testing.T) {
	for _, in := range []string{
		"/offline/streams/id1/segments/segment-3.ts",
		"/offline/streams/id1/segments/segment-0000000a.ts",
		"/offline/streams/id1/segments/chunk-00000001.ts",
	} {
		_, ok, err := Parse(in)
		assert.False(t, ok, in)
		assert.True(t, errors.Is(err, ErrInvalidSegmentFilename), in)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, seq := range []int{0, 1, 99, 10000000} {
		got, ok, err := Parse(SegmentPath("dl", seq))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, seq, got.Sequence)
	}
}
