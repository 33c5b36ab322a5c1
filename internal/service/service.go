// Package service runs the daemon's event loop: it follows the player,
// keeps the lyrics document in step with the playing track's .lrc file,
// and pushes synchronization changes to subscribed broadcasters.
package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lyricsd/lyricsd/internal/config"
	"github.com/lyricsd/lyricsd/internal/logger"
	"github.com/lyricsd/lyricsd/internal/lrc"
	"github.com/lyricsd/lyricsd/internal/player"
	"github.com/lyricsd/lyricsd/internal/syncer"
	"github.com/lyricsd/lyricsd/internal/watcher"
)

// PlayerSource is the player monitor surface the service consumes.
type PlayerSource interface {
	Events() <-chan player.Event
	Position() (time.Duration, error)
}

// FileSource is the lyrics file watcher surface the service consumes.
type FileSource interface {
	Events() <-chan watcher.Event
	Errors() <-chan error
	SetPath(path string) error
}

// Broadcaster receives synchronization changes as they happen.
type Broadcaster interface {
	Broadcast(changes []syncer.Change)
}

// Service owns the session and drives it from player and file events.
type Service struct {
	logger  *logger.Logger
	session *syncer.Session
	players PlayerSource
	files   FileSource

	poll       time.Duration
	forcedPath string

	mu           sync.Mutex
	state        player.State
	attached     bool
	broadcasters []Broadcaster
}

// New wires a service. The session starts empty; nothing is loaded until
// the player reports a track.
func New(log *logger.Logger, cfg *config.Config, session *syncer.Session, players PlayerSource, files FileSource) *Service {
	return &Service{
		logger:     log,
		session:    session,
		players:    players,
		files:      files,
		poll:       cfg.Player.PollInterval,
		forcedPath: cfg.Lyrics.Path,
	}
}

// Subscribe registers a broadcaster. Must be called before Run.
func (s *Service) Subscribe(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasters = append(s.broadcasters, b)
}

// Session exposes the session for read-only consumers.
func (s *Service) Session() *syncer.Session {
	return s.session
}

// Position reports the current playback position. ok is false while no
// player is attached.
func (s *Service) Position() (lrc.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.attached {
		return 0, false
	}
	return lrc.Timestamp(s.state.PositionAt(time.Now()).Milliseconds()), true
}

// Run processes events until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	defer s.session.Clear()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.players.Events():
			if !ok {
				return nil
			}
			s.handlePlayerEvent(ev)
		case ev, ok := <-s.files.Events():
			if !ok {
				return nil
			}
			s.handleFileEvent(ev)
		case err, ok := <-s.files.Errors():
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("lyrics watch error")
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Service) handlePlayerEvent(ev player.Event) {
	switch ev.Kind {
	case player.EventStarted:
		s.mu.Lock()
		s.state = ev.State
		s.attached = true
		s.mu.Unlock()
		s.retarget(ev.State.Track)

	case player.EventShutDown:
		s.mu.Lock()
		s.attached = false
		s.mu.Unlock()
		s.clearLyrics()

	case player.EventStatusChanged:
		s.mu.Lock()
		s.state.Status = ev.Status
		if ev.HasPosition {
			s.state.Snapshot = player.Snapshot{Position: ev.Position, At: ev.At}
		}
		pos := s.state.PositionAt(ev.At)
		s.mu.Unlock()
		s.advance(pos)

	case player.EventSeeked:
		s.mu.Lock()
		s.state.Snapshot = player.Snapshot{Position: ev.Position, At: ev.At}
		s.mu.Unlock()
		s.logger.Debug("seek", "position", lrc.FormatTimestamp(lrc.Timestamp(ev.Position.Milliseconds())))
		s.advance(ev.Position)

	case player.EventTrackChanged:
		s.mu.Lock()
		s.state.Track = ev.Track
		s.state.Snapshot = player.Snapshot{At: ev.At}
		s.mu.Unlock()
		s.retarget(ev.Track)
	}
}

func (s *Service) handleFileEvent(ev watcher.Event) {
	switch ev.Type {
	case watcher.EventUpdated:
		s.reload(ev.Path)
	case watcher.EventRemoved:
		s.logger.Info("lyrics file removed", "path", ev.Path)
		s.broadcast(s.session.SetDocument(nil))
	}
}

// tick re-queries the player position while playing, falling back to
// wall-clock extrapolation when the query fails. An unchanged active
// line and segment produce no changes, so polling is cheap.
func (s *Service) tick(now time.Time) {
	s.mu.Lock()
	if !s.attached || s.state.Status != player.StatusPlaying {
		s.mu.Unlock()
		return
	}
	if pos, err := s.players.Position(); err == nil {
		s.state.Snapshot = player.Snapshot{Position: pos, At: now}
	}
	pos := s.state.PositionAt(now)
	s.mu.Unlock()

	s.advance(pos)
}

// retarget points the watcher at the new track's lyrics file. The old
// document is dropped immediately: stale lyrics must never survive a
// track change, even when the new track has no lyrics file yet. If the
// file exists the watcher reports it right away and reload brings the
// new document in.
func (s *Service) retarget(track *player.Track) {
	s.broadcast(s.session.SetDocument(nil))

	path := s.lyricsPathFor(track)
	if path == "" {
		if err := s.files.SetPath(""); err != nil {
			s.logger.WithError(err).Warn("stopping lyrics watch failed")
		}
		return
	}
	if err := s.files.SetPath(path); err != nil {
		s.logger.WithError(err).Warn("watching lyrics file failed", "path", path)
	}
}

func (s *Service) clearLyrics() {
	s.broadcast(s.session.SetDocument(nil))
	if err := s.files.SetPath(""); err != nil {
		s.logger.WithError(err).Warn("stopping lyrics watch failed")
	}
}

// lyricsPathFor locates the track's .lrc file: a configured fixed path
// wins, otherwise the audio file's extension is swapped for .lrc.
func (s *Service) lyricsPathFor(track *player.Track) string {
	if s.forcedPath != "" {
		return s.forcedPath
	}
	if track == nil || track.Path == "" {
		return ""
	}
	ext := filepath.Ext(track.Path)
	return strings.TrimSuffix(track.Path, ext) + ".lrc"
}

// reload parses the file and swaps it into the session. A file that no
// longer parses leaves the current document in place.
func (s *Service) reload(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.WithError(err).Warn("reading lyrics file failed", "path", path)
		return
	}
	doc, err := lrc.Parse(raw)
	if err != nil {
		s.logger.WithError(err).Warn("keeping previous lyrics, parse failed", "path", path)
		return
	}
	s.logger.Info("lyrics loaded", "path", path, "lines", len(doc.Lines))
	s.broadcast(s.session.SetDocument(doc))

	s.mu.Lock()
	pos := s.state.PositionAt(time.Now())
	attached := s.attached
	s.mu.Unlock()
	if attached {
		s.advance(pos)
	}
}

func (s *Service) advance(pos time.Duration) {
	s.broadcast(s.session.Advance(lrc.Timestamp(pos.Milliseconds())))
}

func (s *Service) broadcast(changes []syncer.Change) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	subs := s.broadcasters
	s.mu.Unlock()
	for _, b := range subs {
		b.Broadcast(changes)
	}
}
