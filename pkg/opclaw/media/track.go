// Package media is the music engine behind the playback capabilities.
//
// Tracks are resolved with yt-dlp, transcoded to Ogg/Opus by ffmpeg and
// streamed frame by frame into a voice connection. Each guild has at most one
// Queue; the Player owns every queue and its playback goroutine.
package media

import (
	"errors"
	"fmt"
	"time"
)

// Track is a resolved, playable item.
type Track struct {
	Title       string
	URL         string
	StreamURL   string
	Thumbnail   string
	Duration    time.Duration
	RequestedBy string
}

// FormattedDuration renders the track length as m:ss or h:mm:ss.
func (t *Track) FormattedDuration() string {
	return FormatDuration(t.Duration)
}

// FormatDuration renders d as m:ss, or h:mm:ss from one hour up.
// Zero renders as 0:00; live streams have no duration.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Errors.
var (
	ErrNoTrack      = errors.New("no track found for query")
	ErrNoQueue      = errors.New("no queue for guild")
	ErrVoiceConnect = errors.New("could not connect to voice channel")
	ErrToolMissing  = errors.New("media tool not found")
	errStopped      = errors.New("queue stopped")
)
