// Package player tracks an MPRIS media player over the DBus session bus
// and reports its playback position, status, and track changes.
package player

import "time"

// Status is the MPRIS playback status.
type Status string

const (
	StatusPlaying Status = "Playing"
	StatusPaused  Status = "Paused"
	StatusStopped Status = "Stopped"
)

// Track describes the playing track as reported by the player.
type Track struct {
	Title  string
	Artist string
	Album  string
	// Path is the local file path of the track; empty for streams.
	Path   string
	Length time.Duration
}

// EventKind distinguishes player events.
type EventKind int

const (
	// EventStarted means the player appeared on the bus (or was already
	// running when the monitor attached). State carries its full state.
	EventStarted EventKind = iota
	// EventShutDown means the player left the bus.
	EventShutDown
	// EventStatusChanged reports a play/pause/stop transition.
	EventStatusChanged
	// EventSeeked reports a position jump.
	EventSeeked
	// EventTrackChanged reports new track metadata; Track is nil when
	// the player has no current track (e.g. end of playlist).
	EventTrackChanged
)

// Event is one observation from the player, stamped with the wall-clock
// instant it was received so positions can be extrapolated later.
type Event struct {
	Kind  EventKind
	At    time.Time
	State State // EventStarted

	Status      Status        // EventStatusChanged
	Position    time.Duration // EventSeeked; EventStatusChanged when HasPosition
	HasPosition bool
	Track       *Track // EventTrackChanged
}

// Snapshot pairs a reported position with the instant it was observed.
type Snapshot struct {
	Position time.Duration
	At       time.Time
}

// State is the last known player state. Position advances with the wall
// clock while playing and is frozen otherwise.
type State struct {
	Status   Status
	Snapshot Snapshot
	Track    *Track
}

// PositionAt extrapolates the playback position to now.
func (s State) PositionAt(now time.Time) time.Duration {
	if s.Status != StatusPlaying {
		return s.Snapshot.Position
	}
	pos := s.Snapshot.Position + now.Sub(s.Snapshot.At)
	if pos < 0 {
		return 0
	}
	return pos
}
