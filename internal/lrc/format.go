package lrc

import "fmt"

// FormatTimestamp renders a timestamp in the minutes, seconds and
// centiseconds format used by LRC files, e.g. "01:02.55".
// Centiseconds are rounded to nearest.
func FormatTimestamp(t Timestamp) string {
	cs := (int64(t) + 5) / 10
	minutes := cs / 6000
	cs -= minutes * 6000
	return fmt.Sprintf("%02d:%02d.%02d", minutes, cs/100, cs%100)
}
