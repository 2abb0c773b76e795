// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// RawComment is one side-channel entry as the upstream API returns it.
// Time is the offset in seconds from the recording start.
type RawComment struct {
	Text   string  `json:"text"`
	Time   float64 `json:"time"`
	Author string  `json:"author"`
}

// CommentsResult is the upstream comment payload.
type CommentsResult struct {
	Success  bool         `json:"is_success"`
	Comments []RawComment `json:"comments"`
	Detail   string       `json:"detail,omitempty"`
}

// Comment is the normalized, stored side-channel entry.
type Comment struct {
	Text             string  `json:"text"`
	DisplayTime      string  `json:"time"`
	PlaybackPosition float64 `json:"playback_position"`
	AuthorID         string  `json:"user_id"`
}

// Thumbnail is a stored preview image.
type Thumbnail struct {
	ContentType string
	Data        []byte
}
