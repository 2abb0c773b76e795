// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldDownloadID = "download_id"
	FieldSessionID  = "session_id"
	FieldVideoID    = "video_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBackend   = "backend"
	FieldAttempt   = "attempt"
	FieldLabel     = "label"

	// Media fields
	FieldSequence = "sequence"
	FieldQuality  = "quality"
	FieldBytes    = "bytes"
	FieldSegments = "segments"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"

	// Path fields
	FieldPath = "path"
)
