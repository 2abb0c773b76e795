// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics registers the offlinevod Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsStarted counts jobs entering the downloading state.
	DownloadsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_downloads_started_total",
		Help: "Download jobs started, by mode (start, resume)",
	}, []string{"mode"})

	// DownloadsFinished counts terminal job outcomes.
	DownloadsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_downloads_finished_total",
		Help: "Download jobs finished, by final status",
	}, []string{"status"})

	// DownloadsActive is the number of jobs currently holding a cancel token.
	DownloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offlinevod_downloads_active",
		Help: "Download jobs currently running",
	})

	// SegmentsStored counts segments written to a media backend.
	SegmentsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_segments_stored_total",
		Help: "Segments persisted, by storage backend",
	}, []string{"backend"})

	// SegmentBytes counts segment payload bytes written.
	SegmentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_segment_bytes_total",
		Help: "Segment bytes persisted, by storage backend",
	}, []string{"backend"})

	// SegmentFetchDuration tracks the wall time of one segment fetch including retries.
	SegmentFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offlinevod_segment_fetch_duration_seconds",
		Help:    "Segment fetch time including retry delays",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	// RetryFailures counts failed attempts inside the retry helper.
	RetryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_retry_failed_attempts_total",
		Help: "Failed fetch attempts, by operation kind",
	}, []string{"kind"})

	// UpstreamRequests counts upstream HTTP calls.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_upstream_requests_total",
		Help: "Upstream API requests, by operation and HTTP status code",
	}, []string{"op", "code"})

	// InterceptRequests counts requests answered by the interception layer.
	InterceptRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_intercept_requests_total",
		Help: "Offline virtual path requests, by target kind and HTTP status code",
	}, []string{"kind", "code"})

	// PlaybackTransitions counts state machine transition requests.
	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinevod_playback_transitions_total",
		Help: "Playback state transition requests, by target state and acceptance",
	}, []string{"to", "accepted"})
)

func IncDownloadStarted(resume bool) {
	mode := "start"
	if resume {
		mode = "resume"
	}
	DownloadsStarted.WithLabelValues(mode).Inc()
	DownloadsActive.Inc()
}

func IncDownloadFinished(status string) {
	DownloadsFinished.WithLabelValues(status).Inc()
	DownloadsActive.Dec()
}

// ObserveSegmentStored records one persisted segment.
func ObserveSegmentStored(backend string, size int, fetch time.Duration) {
	SegmentsStored.WithLabelValues(backend).Inc()
	SegmentBytes.WithLabelValues(backend).Add(float64(size))
	SegmentFetchDuration.Observe(fetch.Seconds())
}

func IncRetryFailure(kind string) {
	RetryFailures.WithLabelValues(kind).Inc()
}

func IncUpstreamRequest(op string, code int) {
	UpstreamRequests.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

func IncInterceptRequest(kind string, code int) {
	InterceptRequests.WithLabelValues(kind, strconv.Itoa(code)).Inc()
}

func IncPlaybackTransition(to string, accepted bool) {
	PlaybackTransitions.WithLabelValues(to, strconv.FormatBool(accepted)).Inc()
}
