package monitor

import (
	"strconv"
)

// Status is the canonical playback snapshot the monitor emits. It is built
// fresh on every successful refresh and replaced wholesale, never mutated.
type Status struct {
	Mode         string  `json:"mode"` // "play", "pause" or "stop"
	Time         float64 `json:"time"` // elapsed seconds
	Volume       int     `json:"volume"`
	RepeatMode   int     `json:"repeat_mode"`
	ShuffleMode  int     `json:"shuffle_mode"`
	CanSeek      bool    `json:"can_seek"`
	CurrentTrack *Track  `json:"current_track,omitempty"`
}

// Track describes the currently playing playlist entry.
type Track struct {
	Type        string  `json:"type,omitempty"`
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	TrackArtist string  `json:"track_artist,omitempty"`
	AlbumArtist string  `json:"album_artist,omitempty"`
	Album       string  `json:"album,omitempty"`
	RemoteTitle string  `json:"remote_title,omitempty"`
	ArtworkURL  string  `json:"artwork_url,omitempty"`
	CoverArt    string  `json:"cover_art,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	SampleRate  string  `json:"sample_rate,omitempty"`
	SampleSize  string  `json:"sample_size,omitempty"`
	Bitrate     string  `json:"bitrate,omitempty"`
}

// defaultStatus is the well-defined snapshot for an absent reply.
func defaultStatus() *Status {
	return &Status{Mode: "stop"}
}

// ParseStatus maps a raw status reply into a canonical snapshot. The server
// is loose about value types (numbers arrive as strings and vice versa), so
// every field goes through a coercion helper. A nil reply yields the default
// stopped snapshot.
func ParseStatus(data map[string]interface{}) *Status {
	if data == nil {
		return defaultStatus()
	}

	status := &Status{
		Mode:        asString(data["mode"]),
		Time:        asFloat(data["time"]),
		Volume:      asInt(data["mixer volume"]),
		RepeatMode:  asInt(data["playlist repeat"]),
		ShuffleMode: asInt(data["playlist shuffle"]),
		CanSeek:     asBool(data["can_seek"]),
	}
	if status.Mode == "" {
		status.Mode = "stop"
	}

	if loop, ok := data["playlist_loop"].([]interface{}); ok && len(loop) > 0 {
		if entry, ok := loop[0].(map[string]interface{}); ok {
			status.CurrentTrack = &Track{
				Type:        asString(entry["type"]),
				Title:       asString(entry["title"]),
				Artist:      asString(entry["artist"]),
				TrackArtist: asString(entry["trackartist"]),
				AlbumArtist: asString(entry["albumartist"]),
				Album:       asString(entry["album"]),
				RemoteTitle: asString(entry["remote_title"]),
				ArtworkURL:  asString(entry["artwork_url"]),
				CoverArt:    asString(entry["coverart"]),
				Duration:    asFloat(entry["duration"]),
				SampleRate:  asString(entry["samplerate"]),
				SampleSize:  asString(entry["samplesize"]),
				Bitrate:     asString(entry["bitrate"]),
			}
		}
	}

	return status
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asInt(v interface{}) int {
	return int(asFloat(v))
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}
