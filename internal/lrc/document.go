// Package lrc parses Enhanced-LRC lyrics files into a time-indexed document model.
package lrc

// Timestamp is an instant measured in milliseconds from track start.
type Timestamp int64

// Segment is a contiguous rune range of a line that becomes active at Start.
// The range [CharFrom, CharTo) indexes into the owning line's stripped text.
type Segment struct {
	Start    Timestamp `json:"start"`
	CharFrom int       `json:"charFrom"`
	CharTo   int       `json:"charTo"`
}

// Line is a single lyric line with its word/phrase segments.
// Segments are sorted by Start, contiguous, and cover the full text;
// Segments[0].Start always equals Start.
type Line struct {
	Start    Timestamp `json:"start"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Document is an immutable parsed lyrics file. OffsetMS has already been
// folded into every timestamp; it is retained for inspection only.
// Lines are sorted ascending by Start, with file order preserved for
// duplicate timestamps (karaoke repeats stay separate consecutive entries).
type Document struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	OffsetMS int64  `json:"offsetMs"`
	Lines    []Line `json:"lines"`
}

// PlainText returns the stripped text of every line in order.
func (d *Document) PlainText() []string {
	if d == nil {
		return nil
	}
	texts := make([]string, len(d.Lines))
	for i, line := range d.Lines {
		texts[i] = line.Text
	}
	return texts
}

// Empty reports whether the document has no lyric lines.
func (d *Document) Empty() bool {
	return d == nil || len(d.Lines) == 0
}
