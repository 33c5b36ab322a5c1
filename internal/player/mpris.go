package player

import (
	"net/url"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/lyricsd/lyricsd/internal/errors"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerInterface = "org.mpris.MediaPlayer2.Player"

	propStatus   = "PlaybackStatus"
	propMetadata = "Metadata"
	propPosition = "Position"
)

func parseStatus(raw string) (Status, error) {
	switch raw {
	case "Playing":
		return StatusPlaying, nil
	case "Paused":
		return StatusPaused, nil
	case "Stopped":
		return StatusStopped, nil
	}
	return StatusStopped, errors.Internalf("unknown playback status %q", raw)
}

// parsePosition converts an MPRIS position value, reported in
// microseconds, to a duration. Some players report uint64.
func parsePosition(v any) (time.Duration, error) {
	switch us := v.(type) {
	case int64:
		return time.Duration(us) * time.Microsecond, nil
	case uint64:
		return time.Duration(us) * time.Microsecond, nil
	}
	return 0, errors.Internalf("unexpected position type %T", v)
}

// parseTrack extracts track metadata from an MPRIS Metadata map. A map
// without a URL yields nil: the player has no current track.
func parseTrack(v any) (*Track, error) {
	meta, ok := v.(map[string]dbus.Variant)
	if !ok {
		return nil, errors.Internalf("unexpected metadata type %T", v)
	}
	rawURL, _ := meta["xesam:url"].Value().(string)
	if rawURL == "" {
		return nil, nil
	}

	t := &Track{Path: pathFromURL(rawURL)}
	t.Title, _ = meta["xesam:title"].Value().(string)
	t.Album, _ = meta["xesam:album"].Value().(string)
	if artists, ok := meta["xesam:artist"].Value().([]string); ok && len(artists) > 0 {
		t.Artist = strings.Join(artists, ", ")
	}
	if length, err := parsePosition(meta["mpris:length"].Value()); err == nil {
		t.Length = length
	}
	return t, nil
}

// pathFromURL resolves an xesam:url to a local file path. Non-file URLs
// (streams) have no path.
func pathFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "file":
		return u.Path
	case "":
		return raw
	}
	return ""
}
