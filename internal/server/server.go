// Package server exposes the daemon on the DBus session bus: query
// methods for the current lyrics and position, and signals that fire as
// the active line and segment move.
package server

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
	"github.com/lyricsd/lyricsd/internal/syncer"
)

const (
	// BusName is the well-known name the daemon claims.
	BusName = "io.github.lyricsd"
	// ObjectPath is where the daemon object lives.
	ObjectPath = dbus.ObjectPath("/io/github/lyricsd/Daemon")
	// Interface carries the daemon's methods and signals.
	Interface = "io.github.lyricsd.Daemon"

	segmentSignal = Interface + ".ActiveLyricsSegmentChanged"
	lyricsSignal  = Interface + ".ActiveLyricsChanged"
)

// none is the sentinel for "no active line/segment" in method replies
// and signals.
const none int32 = -1

// Source is what the server reads on behalf of DBus clients.
type Source interface {
	Lines() []string
	Position() (lineIndex int, seg syncer.SegmentRange, ok bool)
}

// Server owns a bus connection, the claimed name, and the exported
// daemon object. It also implements service.Broadcaster so
// synchronization changes turn into bus signals.
type Server struct {
	logger *logger.Logger
	conn   *dbus.Conn
	source Source

	mu      sync.Mutex
	last    [4]int32
	hasLast bool
}

// New connects to the session bus. Nothing is exported until Start.
func New(log *logger.Logger, source Source) (*Server, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Unavailable("session bus connection failed").WithCause(err)
	}
	return &Server{logger: log, conn: conn, source: source}, nil
}

// Start exports the daemon object and claims the well-known name.
// A second daemon instance fails here instead of shadowing the first.
func (s *Server) Start() error {
	obj := daemonObject{source: s.source}
	if err := s.conn.Export(obj, ObjectPath, Interface); err != nil {
		return errors.Internal("exporting daemon object failed").WithCause(err)
	}
	if err := s.conn.Export(introspect.NewIntrospectable(introspection()), ObjectPath,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		return errors.Internal("exporting introspection failed").WithCause(err)
	}

	reply, err := s.conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Unavailable("requesting bus name failed").WithCause(err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Unavailable("bus name is already taken, is another instance running?")
	}
	s.logger.Info("listening on session bus", "name", BusName)
	return nil
}

// Close releases the name and drops the connection.
func (s *Server) Close() error {
	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.logger.WithError(err).Debug("releasing bus name")
	}
	return s.conn.Close()
}

// Broadcast converts synchronization changes into bus signals.
// Line and segment movement becomes ActiveLyricsSegmentChanged; a
// document swap becomes ActiveLyricsChanged. Consecutive identical
// segment signals are suppressed.
func (s *Server) Broadcast(changes []syncer.Change) {
	for _, c := range changes {
		switch c.Kind {
		case syncer.ChangeDocument:
			s.emitLyricsChanged()
			s.emitSegment([4]int32{none, none, none, none})
		case syncer.ChangeLine:
			if c.LineIndex == syncer.NoLine {
				s.emitSegment([4]int32{none, none, none, none})
			}
			// An activated line is announced by its segment change.
		case syncer.ChangeSegment:
			s.emitSegment([4]int32{
				int32(c.LineIndex),
				int32(c.Segment.CharFrom),
				int32(c.Segment.CharTo),
				int32(c.Segment.Start),
			})
		}
	}
}

// repeated records args as the latest segment signal and reports
// whether they repeat the previous one.
func (s *Server) repeated(args [4]int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLast && s.last == args {
		return true
	}
	s.last, s.hasLast = args, true
	return false
}

func (s *Server) emitSegment(args [4]int32) {
	if s.repeated(args) {
		return
	}
	err := s.conn.Emit(ObjectPath, segmentSignal, args[0], args[1], args[2], args[3])
	if err != nil {
		s.logger.WithError(err).Warn("emitting segment signal failed")
	}
}

func (s *Server) emitLyricsChanged() {
	if err := s.conn.Emit(ObjectPath, lyricsSignal); err != nil {
		s.logger.WithError(err).Warn("emitting lyrics signal failed")
	}
}

// daemonObject is the exported method surface.
type daemonObject struct {
	source Source
}

// GetCurrentLyrics returns the loaded lyrics, one plain-text line per
// entry. Empty when no lyrics are loaded.
func (o daemonObject) GetCurrentLyrics() ([]string, *dbus.Error) {
	lines := o.source.Lines()
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// GetCurrentLyricsPosition returns the active line index, the active
// rune range within it, and the segment start in milliseconds. All four
// are -1 when nothing is active.
func (o daemonObject) GetCurrentLyricsPosition() (int32, int32, int32, int32, *dbus.Error) {
	idx, seg, ok := o.source.Position()
	if !ok {
		return none, none, none, none, nil
	}
	return int32(idx), int32(seg.CharFrom), int32(seg.CharTo), int32(seg.Start), nil
}

func introspection() *introspect.Node {
	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: Interface,
				Methods: []introspect.Method{
					{
						Name: "GetCurrentLyrics",
						Args: []introspect.Arg{
							{Name: "lines", Type: "as", Direction: "out"},
						},
					},
					{
						Name: "GetCurrentLyricsPosition",
						Args: []introspect.Arg{
							{Name: "line", Type: "i", Direction: "out"},
							{Name: "char_from", Type: "i", Direction: "out"},
							{Name: "char_to", Type: "i", Direction: "out"},
							{Name: "time_ms", Type: "i", Direction: "out"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "ActiveLyricsSegmentChanged",
						Args: []introspect.Arg{
							{Name: "line", Type: "i"},
							{Name: "char_from", Type: "i"},
							{Name: "char_to", Type: "i"},
							{Name: "time_ms", Type: "i"},
						},
					},
					{Name: "ActiveLyricsChanged"},
				},
			},
		},
	}
}
