// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Genre is one program genre pair.
type Genre struct {
	Major  string `json:"major"`
	Middle string `json:"middle"`
}

// Channel is the upstream channel a program aired on.
type Channel struct {
	ID                string `json:"id"`
	DisplayChannelID  string `json:"display_channel_id"`
	NetworkID         int    `json:"network_id"`
	ServiceID         int    `json:"service_id"`
	TransportStreamID *int   `json:"transport_stream_id"`
	RemoconID         int    `json:"remocon_id"`
	ChannelNumber     string `json:"channel_number"`
	Type              string `json:"type"`
	Name              string `json:"name"`
	IsSubchannel      bool   `json:"is_subchannel"`
	IsRadiochannel    bool   `json:"is_radiochannel"`
	IsWatchable       bool   `json:"is_watchable"`
}

// RecordedVideo is the media file behind a recorded program.
type RecordedVideo struct {
	ID                    int     `json:"id"`
	FilePath              string  `json:"file_path"`
	FileSize              int64   `json:"file_size"`
	Duration              float64 `json:"duration"`
	RecordingStartTime    *string `json:"recording_start_time"`
	VideoResolutionWidth  int     `json:"video_resolution_width"`
	VideoResolutionHeight int     `json:"video_resolution_height"`
}

// Program is the upstream recorded program as served by the API.
type Program struct {
	ID            int           `json:"id"`
	RecordedVideo RecordedVideo `json:"recorded_video"`
	Channel       *Channel      `json:"channel"`
	Title         string        `json:"title"`
	SeriesTitle   *string       `json:"series_title"`
	EpisodeNumber *string       `json:"episode_number"`
	Subtitle      *string       `json:"subtitle"`
	Description   string        `json:"description"`
	StartTime     string        `json:"start_time"`
	EndTime       string        `json:"end_time"`
	Genres        []Genre       `json:"genres"`
}

// ProgramSnapshot is the immutable copy of program and channel metadata
// taken when a download starts.
type ProgramSnapshot struct {
	ID                       int     `json:"id"`
	VideoID                  int     `json:"video_id"`
	Title                    string  `json:"title"`
	SeriesTitle              *string `json:"series_title"`
	EpisodeNumber            *string `json:"episode_number"`
	Subtitle                 *string `json:"subtitle"`
	Description              string  `json:"description"`
	ChannelID                *string `json:"channel_id"`
	ChannelName              string  `json:"channel_name"`
	ChannelDisplayID         *string `json:"channel_display_id"`
	ChannelType              *string `json:"channel_type"`
	ChannelNetworkID         *int    `json:"channel_network_id"`
	ChannelServiceID         *int    `json:"channel_service_id"`
	ChannelTransportStreamID *int    `json:"channel_transport_stream_id"`
	ChannelRemoconID         *int    `json:"channel_remocon_id"`
	ChannelNumber            *string `json:"channel_number"`
	ChannelIsRadiochannel    *bool   `json:"channel_is_radiochannel"`
	ChannelIsSubchannel      *bool   `json:"channel_is_subchannel"`
	ChannelIsWatchable       *bool   `json:"channel_is_watchable"`
	StartTime                string  `json:"start_time"`
	EndTime                  string  `json:"end_time"`
	Duration                 float64 `json:"duration"`
	Genres                   []Genre `json:"genres"`
	VideoFilePath            string  `json:"video_file_path"`
	VideoFileSize            int64   `json:"video_file_size"`
	VideoResolutionWidth     int     `json:"video_resolution_width"`
	VideoResolutionHeight    int     `json:"video_resolution_height"`
	RecordingStartTime       *string `json:"recording_start_time,omitempty"`
}

// UnknownChannelName is used when the program has no channel.
const UnknownChannelName = "不明"

// SnapshotProgram copies the fields an offline download keeps about p.
func SnapshotProgram(p Program) ProgramSnapshot {
	genres := make([]Genre, len(p.Genres))
	copy(genres, p.Genres)

	s := ProgramSnapshot{
		ID:                    p.ID,
		VideoID:               p.RecordedVideo.ID,
		Title:                 p.Title,
		SeriesTitle:           cloneStr(p.SeriesTitle),
		EpisodeNumber:         cloneStr(p.EpisodeNumber),
		Subtitle:              cloneStr(p.Subtitle),
		Description:           p.Description,
		ChannelName:           UnknownChannelName,
		StartTime:             p.StartTime,
		EndTime:               p.EndTime,
		Duration:              p.RecordedVideo.Duration,
		Genres:                genres,
		VideoFilePath:         p.RecordedVideo.FilePath,
		VideoFileSize:         p.RecordedVideo.FileSize,
		VideoResolutionWidth:  p.RecordedVideo.VideoResolutionWidth,
		VideoResolutionHeight: p.RecordedVideo.VideoResolutionHeight,
		RecordingStartTime:    cloneStr(p.RecordedVideo.RecordingStartTime),
	}
	if c := p.Channel; c != nil {
		s.ChannelID = nonEmpty(c.ID)
		if c.Name != "" {
			s.ChannelName = c.Name
		}
		s.ChannelDisplayID = &c.DisplayChannelID
		s.ChannelType = &c.Type
		s.ChannelNetworkID = &c.NetworkID
		s.ChannelServiceID = &c.ServiceID
		s.ChannelTransportStreamID = cloneInt(c.TransportStreamID)
		s.ChannelRemoconID = &c.RemoconID
		s.ChannelNumber = &c.ChannelNumber
		s.ChannelIsRadiochannel = &c.IsRadiochannel
		s.ChannelIsSubchannel = &c.IsSubchannel
		s.ChannelIsWatchable = &c.IsWatchable
		// detach from the caller's channel value
		s = s.Clone()
	}
	return s
}

// Clone returns a deep copy of s.
func (s ProgramSnapshot) Clone() ProgramSnapshot {
	out := s
	out.SeriesTitle = cloneStr(s.SeriesTitle)
	out.EpisodeNumber = cloneStr(s.EpisodeNumber)
	out.Subtitle = cloneStr(s.Subtitle)
	out.ChannelID = cloneStr(s.ChannelID)
	out.ChannelDisplayID = cloneStr(s.ChannelDisplayID)
	out.ChannelType = cloneStr(s.ChannelType)
	out.ChannelNetworkID = cloneInt(s.ChannelNetworkID)
	out.ChannelServiceID = cloneInt(s.ChannelServiceID)
	out.ChannelTransportStreamID = cloneInt(s.ChannelTransportStreamID)
	out.ChannelRemoconID = cloneInt(s.ChannelRemoconID)
	out.ChannelNumber = cloneStr(s.ChannelNumber)
	out.ChannelIsRadiochannel = cloneBool(s.ChannelIsRadiochannel)
	out.ChannelIsSubchannel = cloneBool(s.ChannelIsSubchannel)
	out.ChannelIsWatchable = cloneBool(s.ChannelIsWatchable)
	out.RecordingStartTime = cloneStr(s.RecordingStartTime)
	out.Genres = append([]Genre(nil), s.Genres...)
	return out
}

func nonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func cloneStr(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
