package syncer

import (
	"sync"

	"github.com/lyricsd/lyricsd/internal/lrc"
)

// Session owns a (document, active state) pair and keeps their
// replacement atomic: no Advance ever observes a state computed against a
// document that has already been swapped out. A single session drives one
// track at a time; independent sessions are fully isolated.
type Session struct {
	mu    sync.Mutex
	doc   *lrc.Document
	state ActiveState
}

// NewSession returns a session with no document loaded.
func NewSession() *Session {
	return &Session{state: NewActiveState()}
}

// SetDocument atomically replaces the document and resets the active
// state. Passing nil unloads the current document. The returned changes
// always begin with a ChangeDocument.
func (s *Session) SetDocument(doc *lrc.Document) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = doc
	s.state = NewActiveState()
	return []Change{{Kind: ChangeDocument, LineIndex: NoLine}}
}

// Clear unloads the document and resets the state, without reporting a
// document change. Used when the playing track goes away entirely.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc = nil
	s.state = NewActiveState()
}

// Advance feeds one position sample through the synchronizer.
func (s *Session) Advance(pos lrc.Timestamp) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Advance(s.doc, pos, &s.state)
}

// Document returns the currently loaded document, which may be nil.
func (s *Session) Document() *lrc.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc
}

// Lines returns the plain text of the loaded document.
func (s *Session) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc.PlainText()
}

// Position reports the currently active line and segment.
// ok is false when no line is active.
func (s *Session) Position() (lineIndex int, seg SegmentRange, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.LineIndex == NoLine || s.state.Segment == nil {
		return NoLine, SegmentRange{}, false
	}
	return s.state.LineIndex, *s.state.Segment, true
}
