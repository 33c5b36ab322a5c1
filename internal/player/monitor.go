package player

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
)

const (
	dbusName      = "org.freedesktop.DBus"
	dbusPath      = dbus.ObjectPath("/org/freedesktop/DBus")
	propsSignal   = "org.freedesktop.DBus.Properties.PropertiesChanged"
	seekedSignal  = "org.mpris.MediaPlayer2.Player.Seeked"
	ownerSignal   = "org.freedesktop.DBus.NameOwnerChanged"
	signalBacklog = 32
)

// Monitor follows one MPRIS player on the session bus. It survives the
// player restarting: attachment is keyed on the well-known bus name and
// re-established whenever its owner changes.
type Monitor struct {
	logger  *logger.Logger
	busName string
	conn    *dbus.Conn
	signals chan *dbus.Signal
	events  chan Event

	// owner is the unique name currently backing busName; empty while
	// the player is down. Only the Start goroutine touches it.
	owner string
}

// NewMonitor connects to the session bus and prepares a monitor for the
// player registered as org.mpris.MediaPlayer2.<name>.
func NewMonitor(name string, log *logger.Logger) (*Monitor, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Unavailable("session bus connection failed").WithCause(err)
	}
	m := &Monitor{
		logger:  log.WithField("player", name),
		busName: mprisPrefix + name,
		conn:    conn,
		signals: make(chan *dbus.Signal, signalBacklog),
		events:  make(chan Event, signalBacklog),
	}
	return m, nil
}

// Events delivers player observations in bus order.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start subscribes to bus signals and dispatches events until ctx is
// cancelled. If the player is already running an EventStarted is
// emitted immediately.
func (m *Monitor) Start(ctx context.Context) error {
	err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusName),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, m.busName),
	)
	if err != nil {
		return errors.Unavailable("subscribing to bus name changes failed").WithCause(err)
	}
	m.conn.Signal(m.signals)

	if owner, err := m.nameOwner(); err == nil {
		m.attach(owner)
	} else {
		m.logger.Info("player not running, waiting for it to appear")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-m.signals:
			if !ok {
				return nil
			}
			m.handleSignal(sig)
		}
	}
}

// Close tears down the bus connection.
func (m *Monitor) Close() error {
	return m.conn.Close()
}

// Position queries the player's current position directly, bypassing
// snapshot extrapolation. Used for periodic drift correction.
func (m *Monitor) Position() (time.Duration, error) {
	owner := m.owner
	if owner == "" {
		return 0, errors.Unavailable("player is not running")
	}
	v, err := m.conn.Object(owner, mprisPath).GetProperty(playerInterface + "." + propPosition)
	if err != nil {
		return 0, errors.Unavailable("position query failed").WithCause(err)
	}
	return parsePosition(v.Value())
}

// nameOwner resolves the unique name currently owning the player's
// well-known bus name.
func (m *Monitor) nameOwner() (string, error) {
	var owner string
	err := m.conn.Object(dbusName, dbusPath).
		Call("org.freedesktop.DBus.GetNameOwner", 0, m.busName).
		Store(&owner)
	if err != nil {
		return "", errors.NotFound("player bus name has no owner").WithCause(err)
	}
	return owner, nil
}

func (m *Monitor) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case ownerSignal:
		m.handleOwnerChange(sig)
	case propsSignal:
		if sig.Sender == m.owner {
			m.handlePropertiesChanged(sig)
		}
	case seekedSignal:
		if sig.Sender != m.owner {
			return
		}
		pos, err := parsePosition(sig.Body[0])
		if err != nil {
			m.logger.WithError(err).Warn("ignoring malformed seek signal")
			return
		}
		m.emit(Event{Kind: EventSeeked, At: time.Now(), Position: pos, HasPosition: true})
	}
}

func (m *Monitor) handleOwnerChange(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	newOwner, _ := sig.Body[2].(string)
	if name != m.busName {
		return
	}
	if m.owner != "" {
		m.detach()
	}
	if newOwner != "" {
		m.attach(newOwner)
	}
}

func (m *Monitor) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	if iface, _ := sig.Body[0].(string); iface != playerInterface {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	now := time.Now()

	if v, ok := changed[propStatus]; ok {
		raw, _ := v.Value().(string)
		status, err := parseStatus(raw)
		if err != nil {
			m.logger.WithError(err).Warn("ignoring status change")
		} else {
			ev := Event{Kind: EventStatusChanged, At: now, Status: status}
			// The position freezes on pause and the frozen value is
			// more precise than our extrapolation, so re-query it.
			if pos, err := m.Position(); err == nil {
				ev.Position, ev.HasPosition = pos, true
			}
			m.emit(ev)
		}
	}
	if v, ok := changed[propMetadata]; ok {
		track, err := parseTrack(v.Value())
		if err != nil {
			m.logger.WithError(err).Warn("ignoring metadata change")
		} else {
			m.emit(Event{Kind: EventTrackChanged, At: now, Track: track})
		}
	}
	if v, ok := changed[propPosition]; ok {
		if pos, err := parsePosition(v.Value()); err == nil {
			m.emit(Event{Kind: EventSeeked, At: now, Position: pos, HasPosition: true})
		}
	}
}

// attach binds to a live player instance and emits its full state.
func (m *Monitor) attach(owner string) {
	if err := m.conn.AddMatchSignal(m.playerMatch(owner)...); err != nil {
		m.logger.WithError(err).Error("subscribing to player signals failed")
		return
	}
	m.owner = owner

	state, err := m.queryState()
	if err != nil {
		m.logger.WithError(err).Warn("player state query failed, assuming stopped")
		state = State{Status: StatusStopped, Snapshot: Snapshot{At: time.Now()}}
	}
	m.logger.Info("player appeared", "owner", owner, "status", state.Status)
	m.emit(Event{Kind: EventStarted, At: state.Snapshot.At, State: state})
}

func (m *Monitor) detach() {
	if err := m.conn.RemoveMatchSignal(m.playerMatch(m.owner)...); err != nil {
		m.logger.WithError(err).Warn("removing player signal match failed")
	}
	m.owner = ""
	m.logger.Info("player shut down")
	m.emit(Event{Kind: EventShutDown, At: time.Now()})
}

func (m *Monitor) playerMatch(owner string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(owner),
		dbus.WithMatchObjectPath(mprisPath),
	}
}

// queryState reads status, position, and metadata in one GetAll call.
func (m *Monitor) queryState() (State, error) {
	var props map[string]dbus.Variant
	err := m.conn.Object(m.owner, mprisPath).
		Call("org.freedesktop.DBus.Properties.GetAll", 0, playerInterface).
		Store(&props)
	if err != nil {
		return State{}, errors.Unavailable("player properties query failed").WithCause(err)
	}

	state := State{Status: StatusStopped, Snapshot: Snapshot{At: time.Now()}}
	if raw, ok := props[propStatus].Value().(string); ok {
		if status, err := parseStatus(raw); err == nil {
			state.Status = status
		}
	}
	if pos, err := parsePosition(props[propPosition].Value()); err == nil {
		state.Snapshot.Position = pos
	}
	if track, err := parseTrack(props[propMetadata].Value()); err == nil {
		state.Track = track
	}
	return state, nil
}

func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("event backlog full, dropping player event", "kind", ev.Kind)
	}
}
