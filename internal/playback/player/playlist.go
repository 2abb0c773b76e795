// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyPlaylist is returned for a media playlist without segments.
var ErrEmptyPlaylist = errors.New("player: playlist has no segments")

// Segment is one playable entry of a media playlist.
type Segment struct {
	URL      string
	Duration time.Duration
	// Start is the offset of the segment from the beginning.
	Start time.Duration
}

// Playlist is the timeline the player walks.
type Playlist struct {
	TargetDuration time.Duration
	Segments       []Segment
	TotalDuration  time.Duration
	IsVOD          bool // #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
}

// ParsePlaylist reads a media playlist and resolves segment URIs against
// base.
func ParsePlaylist(text string, base *url.URL) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	pl := &Playlist{}

	var (
		nextDuration time.Duration
		hasEndList   bool
		typeVOD      bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			typeVOD = true
		case line == "#EXT-X-ENDLIST":
			hasEndList = true
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			secs, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("invalid target duration: %s", line)
			}
			pl.TargetDuration = time.Duration(secs) * time.Second
		case strings.HasPrefix(line, "#EXTINF:"):
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
		case strings.HasPrefix(line, "#"):
			// other tags do not affect the timeline
		default:
			ref, err := url.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("invalid segment uri %q: %w", line, err)
			}
			resolved := ref
			if base != nil {
				resolved = base.ResolveReference(ref)
			}
			pl.Segments = append(pl.Segments, Segment{
				URL:      resolved.String(),
				Duration: nextDuration,
				Start:    pl.TotalDuration,
			})
			pl.TotalDuration += nextDuration
			nextDuration = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	pl.IsVOD = typeVOD || hasEndList
	if len(pl.Segments) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return pl, nil
}

// IndexAt returns the index of the segment containing position. Positions
// past the end map to len(Segments).
func (p *Playlist) IndexAt(position time.Duration) int {
	if position <= 0 {
		return 0
	}
	for i, s := range p.Segments {
		if position < s.Start+s.Duration {
			return i
		}
	}
	return len(p.Segments)
}
