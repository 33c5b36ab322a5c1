// Package syncer determines the active lyric line and segment for a
// playback position and reports only the transitions that actually occur.
package syncer

import (
	"sort"

	"github.com/lyricsd/lyricsd/internal/lrc"
)

// NoLine marks the absence of an active line: the position precedes the
// first line's start, or no document is loaded.
const NoLine = -1

// SegmentRange is the active rune range within the active line.
type SegmentRange struct {
	Start    lrc.Timestamp
	CharFrom int
	CharTo   int
}

// ActiveState is what is currently considered active. It is held across
// Advance calls to diff against, and reset whenever a new document
// replaces the old one or the playing track changes.
type ActiveState struct {
	LineIndex int
	Segment   *SegmentRange
}

// NewActiveState returns a state with nothing active.
func NewActiveState() ActiveState {
	return ActiveState{LineIndex: NoLine}
}

// ChangeKind distinguishes the observable transitions.
type ChangeKind int

const (
	// ChangeLine is fired on every line transition, including activation
	// from nothing and deactivation back to nothing.
	ChangeLine ChangeKind = iota
	// ChangeSegment is fired while a line is active and its active
	// word/phrase range changes.
	ChangeSegment
	// ChangeDocument is fired when a new document replaces the old one,
	// so consumers can tell "new lyrics loaded" from normal progression.
	ChangeDocument
)

// Change is one observable transition.
type Change struct {
	Kind ChangeKind

	// LineIndex is the newly active line, or NoLine.
	LineIndex int
	// Text is the active line's text; nil when no line is active.
	// Set for ChangeLine only.
	Text *string

	// Segment is the newly active range. Set for ChangeSegment only.
	Segment SegmentRange
}

// Advance recomputes the active line and segment for pos against doc,
// diffs the result against state, and returns the transitions.
// It recomputes from scratch on every call, so arbitrary position jumps
// in either direction are handled without special cases; an unchanged
// position returns no changes. A nil or empty document never activates
// anything.
func Advance(doc *lrc.Document, pos lrc.Timestamp, state *ActiveState) []Change {
	var changes []Change

	lineIdx := activeLine(doc, pos)
	if lineIdx != state.LineIndex {
		change := Change{Kind: ChangeLine, LineIndex: lineIdx}
		if lineIdx != NoLine {
			text := doc.Lines[lineIdx].Text
			change.Text = &text
		}
		changes = append(changes, change)
		state.LineIndex = lineIdx
		state.Segment = nil
	}

	if lineIdx == NoLine {
		state.Segment = nil
		return changes
	}

	seg := activeSegment(doc.Lines[lineIdx], pos)
	if state.Segment == nil || *state.Segment != seg {
		changes = append(changes, Change{Kind: ChangeSegment, LineIndex: lineIdx, Segment: seg})
		state.Segment = &seg
	}
	return changes
}

// activeLine returns the greatest index whose start does not exceed pos,
// or NoLine. Ties between repeated timestamps resolve to the last line in
// file order.
func activeLine(doc *lrc.Document, pos lrc.Timestamp) int {
	if doc.Empty() {
		return NoLine
	}
	// First line with start > pos; the one before it is active.
	idx := sort.Search(len(doc.Lines), func(i int) bool {
		return doc.Lines[i].Start > pos
	})
	return idx - 1
}

// activeSegment returns the line's segment active at pos. Segments always
// contain at least one entry starting at the line start, so a line that
// is active always has an active segment.
func activeSegment(line lrc.Line, pos lrc.Timestamp) SegmentRange {
	idx := sort.Search(len(line.Segments), func(i int) bool {
		return line.Segments[i].Start > pos
	})
	if idx == 0 {
		idx = 1
	}
	seg := line.Segments[idx-1]
	return SegmentRange{Start: seg.Start, CharFrom: seg.CharFrom, CharTo: seg.CharTo}
}
