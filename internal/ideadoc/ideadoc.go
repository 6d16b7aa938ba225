// Package ideadoc converts between a thread document's flat text form and its
// ordered entry list. A document is a sequence of marker lines, each followed
// by that entry's content; text before the first marker is not representable
// and is dropped on parse.
package ideadoc

import (
	"errors"
	"strings"
	"time"

	"muse/api/internal/marker"
)

// Entry is one unit of content inside a thread document.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	// CreatedAtRaw is the exact timestamp text from the marker line. It is
	// kept so serialization reproduces foreign precision and zone offsets
	// byte for byte. Empty for entries created in-process.
	CreatedAtRaw string `json:"-"`
	Content      string `json:"content"`
	IsAI         bool   `json:"isAi"`
}

// Stamp returns the timestamp text used when encoding this entry's marker.
func (e Entry) Stamp() string {
	if e.CreatedAtRaw != "" {
		return e.CreatedAtRaw
	}
	return marker.FormatStamp(e.CreatedAt)
}

// ErrContentCollision is returned by Serialize when an entry's content holds
// a line that itself decodes as a marker. Such content cannot survive a
// round trip, so it is rejected rather than silently corrupted.
var ErrContentCollision = errors.New("ideadoc: entry content contains a marker line")

// Parse scans text left to right and returns the entries in marker order.
// It is total: any input yields a (possibly empty) entry list.
func Parse(text string) []Entry {
	if text == "" {
		return nil
	}

	var (
		entries []Entry
		current *Entry
		buf     []string
	)

	closeCurrent := func() {
		if current == nil {
			return
		}
		current.Content = trimBlankEdges(buf)
		entries = append(entries, *current)
		current = nil
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if m, ok := marker.Decode(line); ok {
			closeCurrent()
			current = &Entry{
				ID:           m.ID,
				CreatedAt:    m.CreatedAt,
				CreatedAtRaw: m.CreatedAtRaw,
				IsAI:         m.IsAI,
			}
			continue
		}
		if current != nil {
			buf = append(buf, line)
		}
		// Lines before the first marker are dropped.
	}
	closeCurrent()
	return entries
}

// Serialize renders entries back to document text: each entry's marker line
// followed by its content, entries separated by exactly one blank line, with
// a trailing newline. An empty entry list serializes to the empty string.
func Serialize(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		if hasMarkerLine(e.Content) {
			return "", ErrContentCollision
		}
		block := marker.Encode(e.ID, e.Stamp(), e.IsAI)
		if e.Content != "" {
			block += "\n" + e.Content
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n") + "\n", nil
}

func hasMarkerLine(content string) bool {
	if content == "" {
		return false
	}
	for _, line := range strings.Split(content, "\n") {
		if _, ok := marker.Decode(line); ok {
			return true
		}
	}
	return false
}

// trimBlankEdges joins accumulated content lines, dropping leading and
// trailing blank lines while preserving interior ones.
func trimBlankEdges(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}
