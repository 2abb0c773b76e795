// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manifest parses upstream HLS media playlists and rewrites their
// segment references to offline virtual paths.
package manifest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

const (
	tagTargetDuration = "#EXT-X-TARGETDURATION:"
	tagExtInf         = "#EXTINF:"

	// segmentRefPrefix marks an upstream segment reference line.
	segmentRefPrefix = "segment?"
)

// Parsed is the result of Parse.
type Parsed struct {
	TargetDuration int
	CacheToken     string // first non-empty cache_key, "" when none
	Segments       []model.SegmentDescriptor
}

// Parse scans manifest text line by line. A segment reference without an
// integer sequence parameter in [0, vpath.MaxSequence], or a sequence seen
// twice, is malformed.
func Parse(text string) (Parsed, error) {
	var (
		out             Parsed
		pendingDuration float64
		seen            = make(map[int]struct{})
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, tagTargetDuration):
			v := strings.TrimPrefix(line, tagTargetDuration)
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				n = 0
			}
			out.TargetDuration = n

		case strings.HasPrefix(line, tagExtInf):
			v := strings.TrimPrefix(line, tagExtInf)
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
			d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				d = 0
			}
			pendingDuration = d

		case strings.HasPrefix(line, segmentRefPrefix):
			q, err := url.ParseQuery(strings.TrimPrefix(line, segmentRefPrefix))
			if err != nil {
				return Parsed{}, fmt.Errorf("%w: unparsable segment reference %q", model.ErrMalformedManifest, line)
			}
			rawSeq := q.Get("sequence")
			if rawSeq == "" {
				return Parsed{}, fmt.Errorf("%w: segment missing sequence parameter: %s", model.ErrMalformedManifest, line)
			}
			seq, err := strconv.Atoi(rawSeq)
			if err != nil || seq < 0 || seq > vpath.MaxSequence {
				return Parsed{}, fmt.Errorf("%w: invalid sequence %q", model.ErrMalformedManifest, rawSeq)
			}
			if _, dup := seen[seq]; dup {
				return Parsed{}, fmt.Errorf("%w: duplicate sequence %d", model.ErrMalformedManifest, seq)
			}
			seen[seq] = struct{}{}

			out.Segments = append(out.Segments, model.SegmentDescriptor{Sequence: seq, Duration: pendingDuration})
			pendingDuration = 0
			if out.CacheToken == "" {
				out.CacheToken = q.Get("cache_key")
			}
		}
	}

	return out, nil
}

// Rewrite replaces the i-th segment reference line of original with the
// virtual path of segments[i]. All other lines are kept byte for byte.
func Rewrite(original, downloadID string, segments []model.SegmentDescriptor) (string, error) {
	lines := strings.Split(original, "\n")
	idx := 0
	for i, raw := range lines {
		if !strings.HasPrefix(strings.TrimSpace(raw), segmentRefPrefix) {
			continue
		}
		if idx >= len(segments) {
			return "", fmt.Errorf("%w: more segment lines (%d) than parsed segments (%d)",
				model.ErrMalformedManifest, idx+1, len(segments))
		}
		lines[i] = vpath.SegmentPath(downloadID, segments[idx].Sequence)
		idx++
	}
	if idx != len(segments) {
		return "", fmt.Errorf("%w: %d segment lines for %d parsed segments",
			model.ErrMalformedManifest, idx, len(segments))
	}
	return strings.Join(lines, "\n"), nil
}

// TotalDuration sums the segment durations in seconds.
func TotalDuration(segments []model.SegmentDescriptor) float64 {
	var total float64
	for _, s := range segments {
		total += s.Duration
	}
	return total
}
