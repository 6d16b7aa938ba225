// Package marker encodes and decodes the invisible entry boundary lines
// embedded in thread documents. The encoded form is a markdown reference
// definition, which renders to nothing in every common markdown viewer.
package marker

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Marker is the decoded metadata of one entry boundary line.
type Marker struct {
	ID           string
	CreatedAt    time.Time
	CreatedAtRaw string
	IsAI         bool
}

// linePattern matches the full marker line and nothing else. Field order is
// fixed; trailing characters after the closing paren disqualify the line.
var linePattern = regexp.MustCompile(
	`^\[//\]: # \(idea:id=([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}) created_at=(\S+?)( is_ai=true)?\)$`,
)

// timeLayouts are the ISO-8601 shapes accepted for created_at. Zone-less
// stamps are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Encode renders a marker line. createdAt must contain no whitespace.
func Encode(id, createdAt string, isAI bool) string {
	if isAI {
		return fmt.Sprintf("[//]: # (idea:id=%s created_at=%s is_ai=true)", id, createdAt)
	}
	return fmt.Sprintf("[//]: # (idea:id=%s created_at=%s)", id, createdAt)
}

// Decode parses a single line. The second return is false for anything that
// is not a bit-exact marker line, including lines whose timestamp does not
// parse; callers treat such lines as ordinary content.
func Decode(line string) (Marker, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return Marker{}, false
	}
	ts, ok := parseStamp(m[2])
	if !ok {
		return Marker{}, false
	}
	return Marker{
		ID:           m[1],
		CreatedAt:    ts,
		CreatedAtRaw: m[2],
		IsAI:         m[3] != "",
	}, true
}

func parseStamp(raw string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatStamp renders a timestamp the way newly created entries store it:
// UTC with millisecond precision.
func FormatStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewID returns a fresh lowercase UUID v4 in the canonical 8-4-4-4-12 form.
func NewID() string {
	return uuid.NewString()
}
