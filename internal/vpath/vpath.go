// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vpath defines the virtual paths under which offline manifests and
// segments are addressed by players.
//
//	/offline/streams/{id}/playlist.m3u8
//	/offline/streams/{id}/segments/segment-{sequence:08d}.ts
package vpath

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	rootSegment    = "offline"
	streamsSegment = "streams"
	segmentsDir    = "segments"

	// Prefix is the common prefix of every virtual path.
	Prefix = "/" + rootSegment + "/" + streamsSegment + "/"

	// ManifestFilename is the fixed manifest filename.
	ManifestFilename = "playlist.m3u8"

	segmentPrefix    = "segment-"
	segmentExtension = ".ts"

	// MaxSequence is the largest sequence an eight-digit segment
	// filename can carry.
	MaxSequence = 99999999
)

// ErrInvalidSegmentFilename is returned for a path inside the offline tree
// whose segment filename does not match segment-XXXXXXXX.ts.
var ErrInvalidSegmentFilename = errors.New("vpath: invalid offline segment filename")

var segmentFilenameRe = regexp.MustCompile(`^segment-(\d{8})\.ts$`)

// Kind distinguishes manifest and segment targets.
type Kind string

const (
	KindManifest Kind = "manifest"
	KindSegment  Kind = "segment"
)

// Target is a parsed virtual path.
type Target struct {
	DownloadID string
	Kind       Kind
	Sequence   int // only for KindSegment
}

// ManifestPath returns the virtual manifest path of a download.
func ManifestPath(downloadID string) string {
	return Prefix + downloadID + "/" + ManifestFilename
}

// SegmentFilename returns the zero-padded segment filename for sequence.
func SegmentFilename(sequence int) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, sequence, segmentExtension)
}

// SegmentPath returns the virtual path of one segment. The result depends
// only on (downloadID, sequence).
func SegmentPath(downloadID string, sequence int) string {
	return Prefix + downloadID + "/" + segmentsDir + "/" + SegmentFilename(sequence)
}

// Parse classifies rawPath, which may be a bare path or an absolute URL.
// ok is false for anything outside the offline grammar; err is set only for
// paths inside the offline tree whose segment filename is malformed.
func Parse(rawPath string) (t Target, ok bool, err error) {
	p := rawPath
	if u, perr := url.Parse(rawPath); perr == nil && u.Path != "" {
		p = u.Path
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	parts := splitNonEmpty(p)
	if len(parts) < 3 || parts[0] != rootSegment || parts[1] != streamsSegment {
		return Target{}, false, nil
	}
	id := parts[2]
	if !ValidID(id) {
		return Target{}, false, nil
	}

	if len(parts) == 4 && strings.HasPrefix(parts[3], ManifestFilename) {
		return Target{DownloadID: id, Kind: KindManifest}, true, nil
	}

	for i := 3; i < len(parts); i++ {
		if parts[i] != segmentsDir || i+1 >= len(parts) {
			continue
		}
		filename := parts[i+1]
		m := segmentFilenameRe.FindStringSubmatch(filename)
		if m == nil {
			return Target{}, false, fmt.Errorf("%w: %s", ErrInvalidSegmentFilename, filename)
		}
		seq, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return Target{}, false, fmt.Errorf("%w: %s", ErrInvalidSegmentFilename, filename)
		}
		return Target{DownloadID: id, Kind: KindSegment, Sequence: seq}, true, nil
	}

	return Target{}, false, nil
}

// ValidID reports whether id can be used as a single path component.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func splitNonEmpty(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
