// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package downloader

import (
	"fmt"
	"time"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
)

// broadcastZone is the zone comment display times are rendered in. Japan
// has no DST so a fixed offset is exact when tzdata is missing.
var broadcastZone = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}()

// recordingStart picks the recording start time, falling back to the
// program start time.
func recordingStart(p model.ProgramSnapshot) (time.Time, bool) {
	candidates := []string{}
	if p.RecordingStartTime != nil {
		candidates = append(candidates, *p.RecordingStartTime)
	}
	candidates = append(candidates, p.StartTime)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, c); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", c, broadcastZone); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// transformComments converts upstream comments to the stored shape.
func transformComments(raw []model.RawComment, start time.Time) []model.Comment {
	out := make([]model.Comment, 0, len(raw))
	for _, c := range raw {
		at := start.Add(time.Duration(c.Time * float64(time.Second)))
		out = append(out, model.Comment{
			Text:             c.Text,
			DisplayTime:      format28Hour(at),
			PlaybackPosition: c.Time,
			AuthorID:         c.Author,
		})
	}
	return out
}

// format28Hour renders t as MM/DD HH:mm:ss in broadcast time. Hours 0-3
// belong to the previous broadcast day and are shown as 24-27.
func format28Hour(t time.Time) string {
	t = t.In(broadcastZone)
	hour := t.Hour()
	if hour < 4 {
		prev := t.AddDate(0, 0, -1)
		return fmt.Sprintf("%02d/%02d %02d:%02d:%02d", int(prev.Month()), prev.Day(), hour+24, t.Minute(), t.Second())
	}
	return t.Format("01/02 15:04:05")
}
