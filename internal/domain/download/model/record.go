// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the persisted and transient shapes of offline downloads.
package model

import "time"

// StorageBackend names the media backend a download was written to.
// It is fixed at creation and never migrated.
type StorageBackend string

const (
	// BackendFS is the hierarchical private file system.
	BackendFS StorageBackend = "fs"
	// BackendKV is the embedded key-value database.
	BackendKV StorageBackend = "kv"
	// BackendCache is the URL-addressed response cache.
	BackendCache StorageBackend = "cache"
)

// Valid reports whether b is one of the known backends.
func (b StorageBackend) Valid() bool {
	switch b {
	case BackendFS, BackendKV, BackendCache:
		return true
	}
	return false
}

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusPaused      Status = "paused"
	StatusError       Status = "error"
)

// Resumable reports whether a record in this status may be re-run.
func (s Status) Resumable() bool {
	return s == StatusPaused || s == StatusError
}

// ManifestFilename is the fixed name of the stored manifest.
const ManifestFilename = "playlist.m3u8"

// SegmentDescriptor identifies one media segment. Identity is Sequence;
// Duration only feeds offline manifest timing.
type SegmentDescriptor struct {
	Sequence int     `json:"sequence"`
	Duration float64 `json:"duration"`
}

// DownloadRecord is one persisted download job. It carries only plain values
// so it survives restarts on any backend.
type DownloadRecord struct {
	ID              string              `json:"id"`
	VideoID         int                 `json:"video_id"`
	Quality         string              `json:"quality"`
	IsHEVC          bool                `json:"is_hevc"`
	SaveComments    *bool               `json:"save_comments,omitempty"`
	StorageBackend  StorageBackend      `json:"storage_backend"`
	Status          Status              `json:"status"`
	Program         ProgramSnapshot     `json:"recorded_program"`
	TargetDuration  int                 `json:"target_duration"`
	SegmentCount    int                 `json:"segment_count"`
	Segments        []SegmentDescriptor `json:"segments"`
	TotalBytes      int64               `json:"total_size"`
	DownloadedBytes int64               `json:"downloaded_bytes"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
	ManifestPath    string              `json:"playlist_path"`
	HasThumbnail    *bool               `json:"has_thumbnail,omitempty"`
}

// QualityPath is the upstream path component for the selected quality.
func (r *DownloadRecord) QualityPath() string {
	if r.IsHEVC {
		return r.Quality + "-hevc"
	}
	return r.Quality
}

// WantsComments reports the effective save_comments flag.
func (r *DownloadRecord) WantsComments() bool {
	return r.SaveComments == nil || *r.SaveComments
}

// Thumbnail reports the effective has_thumbnail flag.
func (r *DownloadRecord) Thumbnail() bool {
	return r.HasThumbnail != nil && *r.HasThumbnail
}

// Normalize fills defaults for fields older records may lack.
func (r *DownloadRecord) Normalize() {
	if r.SaveComments == nil {
		r.SaveComments = Bool(true)
	}
	if r.HasThumbnail == nil {
		r.HasThumbnail = Bool(false)
	}
	if r.ManifestPath == "" {
		r.ManifestPath = ManifestFilename
	}
	if r.Segments == nil {
		r.Segments = []SegmentDescriptor{}
	}
}

// Clone returns a deep copy safe to hand to another owner.
func (r DownloadRecord) Clone() DownloadRecord {
	out := r
	if r.SaveComments != nil {
		out.SaveComments = Bool(*r.SaveComments)
	}
	if r.HasThumbnail != nil {
		out.HasThumbnail = Bool(*r.HasThumbnail)
	}
	out.Segments = append([]SegmentDescriptor(nil), r.Segments...)
	out.Program = r.Program.Clone()
	return out
}

// Touch stamps UpdatedAt with now.
func (r *DownloadRecord) Touch(now time.Time) {
	r.UpdatedAt = Timestamp(now)
}

// Timestamp formats t the way records store it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// ProgressSnapshot is the live, unpersisted progress of an active job.
type ProgressSnapshot struct {
	ID                   string `json:"id"`
	DownloadedSegments   int    `json:"downloaded_segments"`
	DownloadedBytes      int64  `json:"downloaded_bytes"`
	TotalSegments        int    `json:"total_segments"`
	TotalBytesEstimate   *int64 `json:"total_bytes_estimated,omitempty"`
	StartTime            *int64 `json:"start_time,omitempty"`
	EstimatedRemainingMS *int64 `json:"estimated_remaining_time,omitempty"`
}
