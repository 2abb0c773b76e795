// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across packages.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	DownloadIDKey      = "download.id"
	DownloadVideoIDKey = "download.video_id"
	DownloadQualityKey = "download.quality"
	DownloadBackendKey = "download.backend"
	DownloadStatusKey  = "download.status"
	DownloadResumeKey  = "download.resume"

	SegmentSequenceKey = "segment.sequence"
	SegmentBytesKey    = "segment.bytes"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DownloadAttributes describes a download job span.
func DownloadAttributes(id string, videoID int, quality, backend string, resume bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(DownloadIDKey, id),
		attribute.Int(DownloadVideoIDKey, videoID),
		attribute.Bool(DownloadResumeKey, resume),
	}
	if quality != "" {
		attrs = append(attrs, attribute.String(DownloadQualityKey, quality))
	}
	if backend != "" {
		attrs = append(attrs, attribute.String(DownloadBackendKey, backend))
	}
	return attrs
}

// SegmentAttributes describes one stored segment.
func SegmentAttributes(sequence, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(SegmentSequenceKey, sequence),
		attribute.Int(SegmentBytesKey, size),
	}
}
