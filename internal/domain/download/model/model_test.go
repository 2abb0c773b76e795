// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadRecord_QualityPath(t *testing.T) {
	r := DownloadRecord{Quality: "1080p"}
	assert.Equal(t, "1080p", r.QualityPath())
	r.IsHEVC = true
	assert.Equal(t, "1080p-hevc", r.QualityPath())
}

func TestDownloadRecord_NormalizeDefaults(t *testing.T) {
	var r DownloadRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","status":"completed"}`), &r))
	r.Normalize()

	assert.True(t, r.WantsComments())
	assert.False(t, r.Thumbnail())
	assert.Equal(t, ManifestFilename, r.ManifestPath)
	assert.NotNil(t, r.Segments)
}

func TestDownloadRecord_CloneIsDeep(t *testing.T) {
	r := DownloadRecord{
		ID:           "a",
		Segments:     []SegmentDescriptor{{Sequence: 1, Duration: 2}},
		HasThumbnail: Bool(true),
	}
	c := r.Clone()
	c.Segments[0].Sequence = 99
	*c.HasThumbnail = false

	assert.Equal(t, 1, r.Segments[0].Sequence)
	assert.True(t, *r.HasThumbnail)
}

func TestSnapshotProgram_NoChannel(t *testing.T) {
	p := Program{ID: 7, Title: "News", RecordedVideo: RecordedVideo{ID: 70, Duration: 1800}}
	s := SnapshotProgram(p)

	assert.Equal(t, 7, s.ID)
	assert.Equal(t, 70, s.VideoID)
	assert.Equal(t, UnknownChannelName, s.ChannelName)
	assert.Nil(t, s.ChannelID)
	assert.Equal(t, 1800.0, s.Duration)
}

func TestSnapshotProgram_DetachedFromSource(t *testing.T) {
	ch := &Channel{ID: "gr011", Name: "NHK", ServiceID: 1024}
	p := Program{ID: 1, Channel: ch, Genres: []Genre{{Major: "news", Middle: "general"}}}
	s := SnapshotProgram(p)

	ch.Name = "changed"
	ch.ServiceID = 1
	p.Genres[0].Major = "changed"

	assert.Equal(t, "NHK", s.ChannelName)
	require.NotNil(t, s.ChannelServiceID)
	assert.Equal(t, 1024, *s.ChannelServiceID)
	assert.Equal(t, "news", s.Genres[0].Major)
	require.NotNil(t, s.ChannelID)
	assert.Equal(t, "gr011", *s.ChannelID)
}

func TestErrorTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("segment 3: %w", ErrAborted)
	assert.True(t, IsAborted(wrapped))
	assert.True(t, IsAborted(context.Canceled))
	assert.False(t, IsTransport(wrapped))

	te := fmt.Errorf("wrap: %w", &TransportError{Op: "fetch_segment", StatusCode: 503, Message: "busy"})
	assert.True(t, IsTransport(te))
	assert.False(t, IsAborted(te))
	assert.Contains(t, te.Error(), "HTTP 503")
}
