// Package watcher monitors a single lyrics file for changes. The target
// can be swapped at runtime as the playing track changes; the watcher
// follows by watching the file's parent directory, which also catches
// the file being created after we start looking for it.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyricsd/lyricsd/internal/errors"
	"github.com/lyricsd/lyricsd/internal/logger"
)

// EventType distinguishes file events.
type EventType int

const (
	// EventUpdated means the target file exists and has stopped
	// changing for the settle delay.
	EventUpdated EventType = iota
	// EventRemoved means the target file disappeared.
	EventRemoved
)

// Event reports a change to the watched file.
type Event struct {
	Type EventType
	Path string
}

// Watcher follows one file at a time via fsnotify with settle-delay
// debouncing, so half-written files are not picked up mid-save.
type Watcher struct {
	logger      *logger.Logger
	settleDelay time.Duration
	fsw         *fsnotify.Watcher

	mu       sync.Mutex
	path     string // current target, "" when idle
	dir      string // watched parent directory
	lastSize int64
	lastMod  time.Time
	settle   *time.Timer

	events chan Event
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a watcher. No file is watched until SetPath is called.
func New(log *logger.Logger, settleDelay time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Internal("creating file watcher failed").WithCause(err)
	}
	return &Watcher{
		logger:      log,
		settleDelay: settleDelay,
		fsw:         fsw,
		events:      make(chan Event, 16),
		errors:      make(chan error, 4),
		done:        make(chan struct{}),
	}, nil
}

// Events returns debounced file events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// SetPath retargets the watcher. If the file already exists an
// EventUpdated is emitted immediately so the caller can load it without
// waiting for a write. An empty path stops watching.
func (w *Watcher) SetPath(path string) error {
	w.mu.Lock()

	w.stopSettleLocked()

	if w.dir != "" {
		if err := w.fsw.Remove(w.dir); err != nil {
			w.logger.WithError(err).Debug("removing previous watch", "dir", w.dir)
		}
		w.dir = ""
	}
	w.path = ""

	if path == "" {
		w.mu.Unlock()
		return nil
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := w.fsw.Add(dir); err != nil {
		w.mu.Unlock()
		return errors.NotFound("lyrics directory cannot be watched").WithCause(err)
	}
	w.path, w.dir = path, dir
	w.logger.Debug("watching lyrics file", "path", path)

	exists := false
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		w.lastSize, w.lastMod = info.Size(), info.ModTime()
		exists = true
	}
	w.mu.Unlock()

	if exists {
		w.emit(Event{Type: EventUpdated, Path: path})
	}
	return nil
}

// Start processes fsnotify events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// Stop tears the watcher down. The target is cleared under the lock so
// a settle timer that already fired becomes a no-op, and the event
// channels stay open; readers stop via done instead of channel close.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.stopSettleLocked()
	w.path, w.dir = "", ""
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) handle(ev fsnotify.Event) {
	w.mu.Lock()

	if w.path == "" || filepath.Clean(ev.Name) != w.path {
		w.mu.Unlock()
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.stopSettleLocked()
		path := w.path
		w.mu.Unlock()
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		w.startSettleLocked()
	}
	w.mu.Unlock()
}

// startSettleLocked (re)arms the settle timer. Each further write
// before it fires pushes the deadline back.
func (w *Watcher) startSettleLocked() {
	info, err := os.Stat(w.path)
	if err != nil || info.IsDir() {
		return
	}
	w.lastSize, w.lastMod = info.Size(), info.ModTime()

	if w.settle != nil {
		w.settle.Stop()
	}
	path := w.path
	w.settle = time.AfterFunc(w.settleDelay, func() {
		w.checkSettled(path)
	})
}

func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()

	if w.path != path {
		w.mu.Unlock()
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		w.mu.Unlock()
		w.emit(Event{Type: EventRemoved, Path: path})
		return
	}
	if info.Size() != w.lastSize || !info.ModTime().Equal(w.lastMod) {
		w.lastSize, w.lastMod = info.Size(), info.ModTime()
		w.settle = time.AfterFunc(w.settleDelay, func() {
			w.checkSettled(path)
		})
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.emit(Event{Type: EventUpdated, Path: path})
}

func (w *Watcher) stopSettleLocked() {
	if w.settle != nil {
		w.settle.Stop()
		w.settle = nil
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
