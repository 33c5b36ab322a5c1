package lrc

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"github.com/lyricsd/lyricsd/internal/errors"
)

// segMark records an inline tag: the instant at which the text starting at
// rune index charFrom becomes active.
type segMark struct {
	at       Timestamp
	charFrom int
}

// rawLine is one lyric line before the file-level offset is applied.
// A line with multiple leading timestamps carries one start per tag.
type rawLine struct {
	starts []Timestamp
	text   string
	marks  []segMark
}

type parser struct {
	offset  int64
	meta    map[string]string
	pending []rawLine
}

// Parse converts raw Enhanced-LRC text into a Document.
//
// The grammar is permissive: malformed tags are repaired into the
// surrounding text instead of aborting the parse. Parse fails only when
// the input is not valid text (errors.ErrDecode) or contains no lyric
// lines at all (errors.ErrNoContent).
func Parse(raw []byte) (*Document, error) {
	text, err := decode(raw)
	if err != nil {
		return nil, err
	}

	p := &parser{meta: make(map[string]string)}
	for _, line := range strings.Split(text, "\n") {
		p.parseLine(strings.TrimRight(line, "\r"))
	}
	return p.finish()
}

// ParsePlain builds a document from literal lyric text with no timing
// information: a single line starting at zero whose one segment spans the
// whole text. No time-based transitions ever fire past the initial
// activation.
func ParsePlain(text string) *Document {
	return &Document{
		Lines: []Line{{
			Start: 0,
			Text:  text,
			Segments: []Segment{
				{Start: 0, CharFrom: 0, CharTo: utf8.RuneCountInString(text)},
			},
		}},
	}
}

// decode validates the input as UTF-8 and strips a leading byte-order mark.
func decode(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", errors.Decode("lyrics file is not valid UTF-8")
	}
	text, err := unicode.UTF8BOM.NewDecoder().String(string(raw))
	if err != nil {
		return "", errors.ErrDecode.WithCause(err)
	}
	return text, nil
}

type tagKind int

const (
	tagBad tagKind = iota
	tagTime
	tagOffset
	tagMeta
)

type tag struct {
	kind  tagKind
	time  Timestamp
	value string // offset value or metadata value
	key   string // metadata key
}

// classifyTag interprets the content of one [...] group.
func classifyTag(content string) tag {
	if content == "" {
		return tag{kind: tagBad}
	}
	if content[0] >= '0' && content[0] <= '9' {
		if ts, ok := parseClock(content); ok {
			return tag{kind: tagTime, time: ts}
		}
		return tag{kind: tagBad}
	}

	key, value, found := strings.Cut(content, ":")
	if !found || !isAlpha(key) {
		return tag{kind: tagBad}
	}
	if strings.EqualFold(key, "offset") {
		if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
			return tag{kind: tagBad}
		}
		return tag{kind: tagOffset, value: strings.TrimSpace(value)}
	}
	return tag{kind: tagMeta, key: strings.ToLower(key), value: strings.TrimSpace(value)}
}

// parseClock parses a clock value of the form mm:ss.xx, mm:ss:xx or
// mm:ss.xxx. Two fractional digits are centiseconds, three are
// milliseconds; both normalize to milliseconds.
func parseClock(s string) (Timestamp, bool) {
	colon := strings.IndexByte(s, ':')
	if colon < 1 || colon > 3 || !isDigits(s[:colon]) {
		return 0, false
	}
	rest := s[colon+1:]
	if len(rest) != 5 && len(rest) != 6 {
		return 0, false
	}
	secStr, fracStr := rest[:2], rest[3:]
	if sep := rest[2]; sep != '.' && sep != ':' {
		return 0, false
	}
	if !isDigits(secStr) || !isDigits(fracStr) {
		return 0, false
	}

	minutes, _ := strconv.Atoi(s[:colon])
	seconds, _ := strconv.Atoi(secStr)
	frac, _ := strconv.Atoi(fracStr)
	if seconds >= 60 {
		return 0, false
	}
	ms := frac
	if len(fracStr) == 2 {
		ms = frac * 10
	}
	return Timestamp(int64(minutes*60+seconds)*1000 + int64(ms)), true
}

// parseLine consumes one input line, accumulating lyric lines, metadata
// and the offset value.
func (p *parser) parseLine(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	// Leading [...] tag groups.
	var starts []Timestamp
	i := 0
	for i < len(line) && line[i] == '[' {
		end := strings.IndexByte(line[i+1:], ']')
		if end < 0 {
			// Missing closing bracket: drop the marker, keep the rest
			// as body text.
			i++
			break
		}
		content := line[i+1 : i+1+end]
		next := i + end + 2

		t := classifyTag(content)
		switch t.kind {
		case tagTime:
			starts = append(starts, t.time)
			i = next
			continue
		case tagOffset:
			// Whole line is an offset tag; the last occurrence wins
			// and applies to every timestamp in the file.
			v, _ := strconv.ParseInt(t.value, 10, 64)
			p.offset = v
			return
		case tagMeta:
			p.meta[t.key] = t.value
			return
		default:
			// A malformed timestamp tag is skipped. Anything else in
			// brackets is not a tag at all; it stays in the body with
			// only the markup stripped.
			if content != "" && content[0] >= '0' && content[0] <= '9' {
				i = next
			}
		}
		break
	}

	if len(starts) == 0 {
		// No timestamp tag: freeform content, not a lyric line.
		return
	}

	text, marks := parseBody(line[i:])
	p.pending = append(p.pending, rawLine{starts: starts, text: text, marks: marks})
}

// parseBody strips markup from a line body and collects inline <mm:ss.xx>
// segment marks with their rune offsets into the stripped text.
func parseBody(body string) (string, []segMark) {
	var sb strings.Builder
	var marks []segMark
	chars := 0

	for k := 0; k < len(body); {
		switch c := body[k]; c {
		case '<':
			end := strings.IndexByte(body[k+1:], '>')
			if end < 0 {
				// Unterminated tag marker: strip it, keep the rest.
				k++
				continue
			}
			if ts, ok := parseClock(body[k+1 : k+1+end]); ok {
				marks = append(marks, segMark{at: ts, charFrom: chars})
			}
			// Malformed inline tags are dropped with their markup.
			k += end + 2
		case '[', ']', '>':
			// Stray markup characters are stripped from the text.
			k++
		default:
			r, size := utf8.DecodeRuneInString(body[k:])
			sb.WriteRune(r)
			chars++
			k += size
		}
	}
	return sb.String(), marks
}

// finish applies the file offset, expands repeated timestamps into
// separate lines, normalizes segments, and sorts everything.
func (p *parser) finish() (*Document, error) {
	var lines []Line
	for _, raw := range p.pending {
		for _, start := range raw.starts {
			lines = append(lines, p.buildLine(start, raw))
		}
	}
	if len(lines) == 0 {
		return nil, errors.ErrNoContent
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Start < lines[j].Start
	})

	return &Document{
		Title:    p.metaValue("ti", "title"),
		Artist:   p.metaValue("ar", "artist"),
		Album:    p.metaValue("al", "album"),
		OffsetMS: p.offset,
		Lines:    lines,
	}, nil
}

// metaValue returns the first recognized spelling of a metadata key.
func (p *parser) metaValue(keys ...string) string {
	for _, key := range keys {
		if v, ok := p.meta[key]; ok {
			return v
		}
	}
	return ""
}

func (p *parser) buildLine(start Timestamp, raw rawLine) Line {
	line := Line{Start: p.shift(start), Text: raw.text}

	segs := make([]Segment, 0, len(raw.marks)+1)
	for _, m := range raw.marks {
		segs = append(segs, Segment{Start: p.shift(m.at), CharFrom: m.charFrom})
	}
	// Text before the first inline tag forms an implicit first segment at
	// the line's own start. The segment is kept even when that text is
	// empty so that Segments[0].Start always equals the line start.
	if len(segs) == 0 || segs[0].CharFrom > 0 || segs[0].Start != line.Start {
		segs = append([]Segment{{Start: line.Start, CharFrom: 0}}, segs...)
	}

	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start < segs[j].Start
	})

	// Repair ordering quirks deterministically: rune offsets must be
	// monotonic and within the text, and each segment extends exactly to
	// the next segment's start offset.
	textLen := utf8.RuneCountInString(raw.text)
	segs[0].CharFrom = 0
	for i := 1; i < len(segs); i++ {
		if segs[i].CharFrom < segs[i-1].CharFrom {
			segs[i].CharFrom = segs[i-1].CharFrom
		}
		if segs[i].CharFrom > textLen {
			segs[i].CharFrom = textLen
		}
	}
	for i := 0; i < len(segs)-1; i++ {
		segs[i].CharTo = segs[i+1].CharFrom
	}
	segs[len(segs)-1].CharTo = textLen

	line.Segments = segs
	return line
}

// shift folds the file offset into a timestamp, clamping at zero.
func (p *parser) shift(t Timestamp) Timestamp {
	v := int64(t) + p.offset
	if v < 0 {
		v = 0
	}
	return Timestamp(v)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
