// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/storage"
)

func TestRootCommand_Tree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "download", "resume", "list", "remove", "play", "backend"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, name := range []string{"detect", "estimate", "verify"} {
		cmd, _, err := root.Find([]string{"backend", name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestDownloadCmd_RejectsBadVideoID(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"download", "abc"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid video id")
}

func TestWriteList(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.DownloadRecord{{
		ID:           "abc",
		Status:       model.StatusCompleted,
		Quality:      "1080p",
		IsHEVC:       true,
		Program:      model.ProgramSnapshot{Title: "News"},
		SegmentCount: 12,
		TotalBytes:   3 * 1000 * 1000,
		UpdatedAt:    model.Timestamp(now.Add(-2 * time.Hour)),
	}}

	var buf bytes.Buffer
	require.NoError(t, writeList(&buf, recs, now))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	for _, want := range []string{"abc", "completed", "News", "1080p-hevc", "12", "3.0 MB", "2 hours ago"} {
		assert.Contains(t, lines[1], want)
	}
}

func TestProgressLine(t *testing.T) {
	total := int64(2 * 1000 * 1000)
	remaining := int64(90_000)
	line := progressLine(model.ProgressSnapshot{
		DownloadedSegments:   3,
		TotalSegments:        6,
		DownloadedBytes:      1000 * 1000,
		TotalBytesEstimate:   &total,
		EstimatedRemainingMS: &remaining,
	})
	assert.Equal(t, "  3/6 segments, 1.0 MB of ~2.0 MB, 1m30s left", line)
}

func TestWriteEstimate(t *testing.T) {
	var buf bytes.Buffer
	writeEstimate(&buf, storage.Estimate{
		CatalogBytes: 1024,
		Backends:     map[model.StorageBackend]int64{model.BackendKV: 2048, model.BackendFS: 0},
		TotalBytes:   3072,
	})
	assert.Equal(t, "catalog\t1.0 KiB\nfs\t0 B\nkv\t2.0 KiB\ntotal\t3.0 KiB\n", buf.String())
}
