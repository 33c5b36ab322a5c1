package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricsd/lyricsd/internal/config"
	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
	"github.com/lyricsd/lyricsd/internal/lrc"
	"github.com/lyricsd/lyricsd/internal/player"
	"github.com/lyricsd/lyricsd/internal/syncer"
	"github.com/lyricsd/lyricsd/internal/watcher"
)

type fakePlayers struct {
	ch  chan player.Event
	pos time.Duration
	err error
}

func (f *fakePlayers) Events() <-chan player.Event { return f.ch }

func (f *fakePlayers) Position() (time.Duration, error) { return f.pos, f.err }

type fakeFiles struct {
	ch    chan watcher.Event
	errs  chan error
	paths []string
}

func (f *fakeFiles) Events() <-chan watcher.Event { return f.ch }

func (f *fakeFiles) Errors() <-chan error { return f.errs }

func (f *fakeFiles) SetPath(path string) error {
	f.paths = append(f.paths, path)
	return nil
}

type recorder struct {
	changes []syncer.Change
}

func (r *recorder) Broadcast(changes []syncer.Change) {
	r.changes = append(r.changes, changes...)
}

func (r *recorder) kinds() []syncer.ChangeKind {
	kinds := make([]syncer.ChangeKind, len(r.changes))
	for i, c := range r.changes {
		kinds[i] = c.Kind
	}
	return kinds
}

func newTestService(t *testing.T, cfg *config.Config) (*Service, *fakePlayers, *fakeFiles, *recorder) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Player.PollInterval == 0 {
		cfg.Player.PollInterval = 100 * time.Millisecond
	}

	players := &fakePlayers{ch: make(chan player.Event, 8), err: errors.Unavailable("no player")}
	files := &fakeFiles{ch: make(chan watcher.Event, 8), errs: make(chan error, 1)}
	rec := &recorder{}

	log := logger.New(logger.Config{Writer: io.Discard})
	svc := New(log, cfg, syncer.NewSession(), players, files)
	svc.Subscribe(rec)
	return svc, players, files, rec
}

func writeLyrics(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLyricsPathFor(t *testing.T) {
	tests := []struct {
		name   string
		forced string
		track  *player.Track
		want   string
	}{
		{"swaps extension", "", &player.Track{Path: "/music/a/song.flac"}, "/music/a/song.lrc"},
		{"no extension", "", &player.Track{Path: "/music/a/song"}, "/music/a/song.lrc"},
		{"forced path wins", "/tmp/fixed.lrc", &player.Track{Path: "/music/a/song.flac"}, "/tmp/fixed.lrc"},
		{"nil track", "", nil, ""},
		{"stream without path", "", &player.Track{Title: "Radio"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Lyrics.Path = tt.forced
			svc, _, _, _ := newTestService(t, cfg)
			assert.Equal(t, tt.want, svc.lyricsPathFor(tt.track))
		})
	}
}

func TestTrackChangeRetargetsWatcherAndDropsDocument(t *testing.T) {
	svc, _, files, rec := newTestService(t, nil)

	doc := mustParse(t, "[00:01.00]old line\n")
	svc.session.SetDocument(doc)

	svc.handlePlayerEvent(player.Event{
		Kind:  player.EventTrackChanged,
		At:    time.Now(),
		Track: &player.Track{Path: "/music/next.mp3"},
	})

	assert.Equal(t, []string{"/music/next.lrc"}, files.paths)
	require.NotEmpty(t, rec.changes)
	assert.Equal(t, syncer.ChangeDocument, rec.changes[0].Kind)
	assert.Nil(t, svc.session.Document())
}

func TestTrackWithoutPathStopsWatching(t *testing.T) {
	svc, _, files, _ := newTestService(t, nil)

	svc.handlePlayerEvent(player.Event{
		Kind:  player.EventTrackChanged,
		At:    time.Now(),
		Track: &player.Track{Title: "Radio"},
	})

	assert.Equal(t, []string{""}, files.paths)
}

func TestReloadSwapsDocumentAndActivates(t *testing.T) {
	svc, _, _, rec := newTestService(t, nil)
	path := writeLyrics(t, t.TempDir(), "song.lrc", "[00:01.00]first\n[00:05.00]second\n")

	now := time.Now()
	svc.handlePlayerEvent(player.Event{
		Kind: player.EventStarted,
		At:   now,
		State: player.State{
			Status:   player.StatusPlaying,
			Snapshot: player.Snapshot{Position: 6 * time.Second, At: now},
		},
	})
	rec.changes = nil

	svc.handleFileEvent(watcher.Event{Type: watcher.EventUpdated, Path: path})

	require.NotNil(t, svc.session.Document())
	assert.Equal(t, []string{"first", "second"}, svc.session.Lines())
	// Document swap, then the active line and segment for 6s.
	kinds := rec.kinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, syncer.ChangeDocument, kinds[0])
	assert.Equal(t, syncer.ChangeLine, kinds[1])
	assert.Equal(t, syncer.ChangeSegment, kinds[2])
	require.NotNil(t, rec.changes[1].Text)
	assert.Equal(t, "second", *rec.changes[1].Text)
}

func TestReloadParseFailureKeepsPreviousDocument(t *testing.T) {
	svc, _, _, rec := newTestService(t, nil)
	dir := t.TempDir()

	good := writeLyrics(t, dir, "song.lrc", "[00:01.00]kept\n")
	svc.handleFileEvent(watcher.Event{Type: watcher.EventUpdated, Path: good})
	require.NotNil(t, svc.session.Document())
	rec.changes = nil

	bad := writeLyrics(t, dir, "song.lrc", "no tags here\n")
	svc.handleFileEvent(watcher.Event{Type: watcher.EventUpdated, Path: bad})

	assert.Empty(t, rec.changes)
	require.NotNil(t, svc.session.Document())
	assert.Equal(t, []string{"kept"}, svc.session.Lines())
}

func TestFileRemovedClearsDocument(t *testing.T) {
	svc, _, _, rec := newTestService(t, nil)
	svc.session.SetDocument(mustParse(t, "[00:01.00]gone\n"))

	svc.handleFileEvent(watcher.Event{Type: watcher.EventRemoved, Path: "/music/song.lrc"})

	assert.Nil(t, svc.session.Document())
	assert.Equal(t, []syncer.ChangeKind{syncer.ChangeDocument}, rec.kinds())
}

func TestPlayerShutdownClearsEverything(t *testing.T) {
	svc, _, files, _ := newTestService(t, nil)
	svc.session.SetDocument(mustParse(t, "[00:01.00]line\n"))
	svc.handlePlayerEvent(player.Event{Kind: player.EventStarted, At: time.Now()})

	svc.handlePlayerEvent(player.Event{Kind: player.EventShutDown, At: time.Now()})

	assert.Nil(t, svc.session.Document())
	assert.Equal(t, "", files.paths[len(files.paths)-1])
	_, ok := svc.Position()
	assert.False(t, ok)
}

func TestSeekAdvancesSession(t *testing.T) {
	svc, _, _, rec := newTestService(t, nil)
	svc.session.SetDocument(mustParse(t, "[00:01.00]first\n[00:05.00]second\n"))
	rec.changes = nil

	svc.handlePlayerEvent(player.Event{
		Kind:     player.EventSeeked,
		At:       time.Now(),
		Position: 5 * time.Second,
	})

	kinds := rec.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, syncer.ChangeLine, kinds[0])
	assert.Equal(t, "second", *rec.changes[0].Text)
}

func TestPositionExtrapolatesWhilePlaying(t *testing.T) {
	svc, _, _, _ := newTestService(t, nil)

	start := time.Now().Add(-2 * time.Second)
	svc.handlePlayerEvent(player.Event{
		Kind: player.EventStarted,
		At:   start,
		State: player.State{
			Status:   player.StatusPlaying,
			Snapshot: player.Snapshot{Position: 10 * time.Second, At: start},
		},
	})

	pos, ok := svc.Position()
	require.True(t, ok)
	assert.GreaterOrEqual(t, int64(pos), int64(12000))
}

func TestTickCorrectsDriftFromPlayer(t *testing.T) {
	svc, players, _, rec := newTestService(t, nil)

	now := time.Now()
	svc.handlePlayerEvent(player.Event{
		Kind: player.EventStarted,
		At:   now,
		State: player.State{
			Status:   player.StatusPlaying,
			Snapshot: player.Snapshot{Position: time.Second, At: now},
		},
	})
	svc.session.SetDocument(mustParse(t, "[00:01.00]first\n[00:05.00]second\n"))
	rec.changes = nil

	players.pos, players.err = 5*time.Second, nil
	svc.tick(now)

	require.NotEmpty(t, rec.changes)
	assert.Equal(t, syncer.ChangeLine, rec.changes[0].Kind)
	assert.Equal(t, "second", *rec.changes[0].Text)
}

func TestRunReturnsWhenWatcherErrorsClose(t *testing.T) {
	svc, _, files, _ := newTestService(t, nil)
	close(files.errs)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after watcher error channel closed")
	}
}

func mustParse(t *testing.T, raw string) *lrc.Document {
	t.Helper()
	doc, err := lrc.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}
