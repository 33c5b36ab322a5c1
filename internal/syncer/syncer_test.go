package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyricsd/lyricsd/internal/lrc"
)

func parseDoc(t *testing.T, input string) *lrc.Document {
	t.Helper()
	doc, err := lrc.Parse([]byte(input))
	require.NoError(t, err)
	return doc
}

func TestAdvance_ActivatesAtExactStart(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one\n[00:20.00]two")
	state := NewActiveState()

	changes := Advance(doc, 10000, &state)

	require.Len(t, changes, 2)
	assert.Equal(t, ChangeLine, changes[0].Kind)
	assert.Equal(t, 0, changes[0].LineIndex)
	require.NotNil(t, changes[0].Text)
	assert.Equal(t, "one", *changes[0].Text)
	assert.Equal(t, ChangeSegment, changes[1].Kind)
	assert.Equal(t, SegmentRange{Start: 10000, CharFrom: 0, CharTo: 3}, changes[1].Segment)
}

func TestAdvance_BeforeFirstLine(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one")
	state := NewActiveState()

	changes := Advance(doc, 9999, &state)

	assert.Empty(t, changes)
	assert.Equal(t, NoLine, state.LineIndex)
	assert.Nil(t, state.Segment)
}

func TestAdvance_Idempotent(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]<00:10.00>Hel<00:10.50>lo\n[00:20.00]two")
	state := NewActiveState()

	first := Advance(doc, 10600, &state)
	assert.NotEmpty(t, first)

	second := Advance(doc, 10600, &state)
	assert.Empty(t, second)
}

func TestAdvance_LineProgression(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one\n[00:20.00]two")
	state := NewActiveState()

	Advance(doc, 10000, &state)
	changes := Advance(doc, 15000, &state)
	assert.Empty(t, changes, "still inside line one")

	changes = Advance(doc, 20000, &state)
	require.Len(t, changes, 2)
	assert.Equal(t, 1, changes[0].LineIndex)
	assert.Equal(t, "two", *changes[0].Text)
}

func TestAdvance_SegmentProgressionWithinLine(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]<00:10.00>Hel<00:10.50>lo")
	state := NewActiveState()

	Advance(doc, 10000, &state)
	require.NotNil(t, state.Segment)
	assert.Equal(t, SegmentRange{Start: 10000, CharFrom: 0, CharTo: 3}, *state.Segment)

	changes := Advance(doc, 10500, &state)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeSegment, changes[0].Kind)
	assert.Equal(t, SegmentRange{Start: 10500, CharFrom: 3, CharTo: 5}, changes[0].Segment)
}

func TestAdvance_BackwardSeek(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one\n[00:20.00]two")
	state := NewActiveState()

	Advance(doc, 25000, &state)
	assert.Equal(t, 1, state.LineIndex)

	changes := Advance(doc, 12000, &state)
	require.Len(t, changes, 2)
	assert.Equal(t, 0, changes[0].LineIndex)

	// Seeking before everything deactivates.
	changes = Advance(doc, 0, &state)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeLine, changes[0].Kind)
	assert.Equal(t, NoLine, changes[0].LineIndex)
	assert.Nil(t, changes[0].Text)
}

func TestAdvance_RepeatedTimestampsPickLastInFileOrder(t *testing.T) {
	doc := parseDoc(t, "[00:05.00]first\n[00:05.00]second")
	state := NewActiveState()

	changes := Advance(doc, 5000, &state)

	require.NotEmpty(t, changes)
	assert.Equal(t, 1, changes[0].LineIndex)
	assert.Equal(t, "second", *changes[0].Text)
}

func TestAdvance_PastLastLineStaysActive(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one\n[00:20.00]two")
	state := NewActiveState()

	Advance(doc, 20000, &state)
	assert.Empty(t, Advance(doc, 60000, &state))
	assert.Empty(t, Advance(doc, 600000, &state))
	assert.Equal(t, 1, state.LineIndex)
}

func TestAdvance_EmptyDocument(t *testing.T) {
	state := NewActiveState()

	assert.Empty(t, Advance(nil, 0, &state))
	assert.Empty(t, Advance(&lrc.Document{}, 99999, &state))
	assert.Equal(t, NoLine, state.LineIndex)
}

func TestAdvance_PlainDocumentActivatesOnce(t *testing.T) {
	doc := lrc.ParsePlain("just words")
	state := NewActiveState()

	changes := Advance(doc, 0, &state)
	assert.Len(t, changes, 2)

	// No further transitions ever fire.
	assert.Empty(t, Advance(doc, 10000, &state))
	assert.Empty(t, Advance(doc, 100000, &state))
}

func TestAdvance_ZeroWidthImplicitSegment(t *testing.T) {
	doc := parseDoc(t, "[00:05.00]<00:31.00>la")
	state := NewActiveState()

	// Between line start and the first word, the active range is empty.
	Advance(doc, 6000, &state)
	require.NotNil(t, state.Segment)
	assert.Equal(t, SegmentRange{Start: 5000, CharFrom: 0, CharTo: 0}, *state.Segment)

	changes := Advance(doc, 31000, &state)
	require.Len(t, changes, 1)
	assert.Equal(t, SegmentRange{Start: 31000, CharFrom: 0, CharTo: 2}, changes[0].Segment)
}

func TestSession_SetDocumentResetsState(t *testing.T) {
	doc := parseDoc(t, "[00:10.00]one")
	s := NewSession()

	changes := s.SetDocument(doc)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeDocument, changes[0].Kind)

	s.Advance(15000)
	line, _, ok := s.Position()
	require.True(t, ok)
	assert.Equal(t, 0, line)

	// A reload resets the active state even if line 0 would be active in
	// both documents.
	s.SetDocument(parseDoc(t, "[00:10.00]uno"))
	_, _, ok = s.Position()
	assert.False(t, ok)

	changes = s.Advance(15000)
	require.Len(t, changes, 2)
	assert.Equal(t, "uno", *changes[0].Text)
}

func TestSession_ClearUnloads(t *testing.T) {
	s := NewSession()
	s.SetDocument(parseDoc(t, "[00:10.00]one"))
	s.Advance(15000)

	s.Clear()

	assert.Nil(t, s.Document())
	assert.Nil(t, s.Lines())
	_, _, ok := s.Position()
	assert.False(t, ok)
	assert.Empty(t, s.Advance(15000), "no document, nothing to activate")
}

func TestSession_Lines(t *testing.T) {
	s := NewSession()
	s.SetDocument(parseDoc(t, "[00:01.00]one\n[00:02.00]two"))

	assert.Equal(t, []string{"one", "two"}, s.Lines())
}
