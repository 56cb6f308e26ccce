package domain

import (
	"strconv"
	"strings"
)

// MediaSource is the resolved title and direct stream locations of a URL.
// StreamLocations[0] is always video-capable; a second entry, if present,
// is the separately resolved audio stream.
type MediaSource struct {
	Title           string   `json:"title"`
	StreamLocations []string `json:"streamLocations"`
}

// HasSeparateAudio reports whether audio comes from its own non-blank
// stream location.
func (m MediaSource) HasSeparateAudio() bool {
	return len(m.StreamLocations) > 1 && strings.TrimSpace(m.StreamLocations[1]) != ""
}

// TimeRange is an opaque start offset and duration in the tool's timecode
// format (e.g. HH:MM:SS).
type TimeRange struct {
	Start    string `json:"start"`
	Duration string `json:"duration"`
}

// Valid reports whether both timecodes are non-empty.
func (r TimeRange) Valid() bool {
	return strings.TrimSpace(r.Start) != "" && strings.TrimSpace(r.Duration) != ""
}

// DurationSeconds parses SS, MM:SS or HH:MM:SS(.fff). It only feeds
// progress scaling, so any other format reports ok=false.
func (r TimeRange) DurationSeconds() (float64, bool) {
	return parseTimecode(r.Duration)
}

func parseTimecode(raw string) (float64, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}

	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, false
	}

	total := 0.0
	for i, part := range parts {
		n, err := strconv.ParseFloat(part, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		// only the last field may carry a fraction
		if i < len(parts)-1 && strings.Contains(part, ".") {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// CodecProfile holds the lower-cased codec names found by probing a
// container. Empty means the stream is absent.
type CodecProfile struct {
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
}

// EventStatus classifies clip progress records.
type EventStatus string

const (
	EventStatusProgress EventStatus = "progress"
	EventStatusSuccess  EventStatus = "success"
	EventStatusError    EventStatus = "error"
)

// ClipEvent is one progress record of a pipeline run. The last event of a
// run is always a success or error record.
type ClipEvent struct {
	Status     EventStatus `json:"status"`
	Stage      JobStatus   `json:"stage,omitempty"`
	Percent    int         `json:"percent"`
	Message    string      `json:"message,omitempty"`
	OutputPath string      `json:"outputPath,omitempty"`
	SizeBytes  int64       `json:"sizeBytes,omitempty"`
	SizeMB     int64       `json:"sizeMb,omitempty"`
}

// Terminal reports whether the event ends a run.
func (e ClipEvent) Terminal() bool {
	return e.Status == EventStatusSuccess || e.Status == EventStatusError
}
