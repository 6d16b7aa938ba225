package search

import (
	"sort"
	"strings"

	"muse/api/internal/store"
)

const snippetRunes = 160

// SnapshotFunc supplies the current in-memory thread collection.
type SnapshotFunc func() []store.Thread

// Scan is the library-free fallback searcher for the file-backed store: a
// case-insensitive substring scan over the in-memory collection. Fine at
// personal-archive scale.
type Scan struct {
	snapshot SnapshotFunc
}

func NewScan(snapshot SnapshotFunc) *Scan {
	return &Scan{snapshot: snapshot}
}

func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(strings.ToLower(q.Text))
	if text == "" {
		return nil, 0, nil
	}

	var results []Result
	for _, t := range s.snapshot() {
		for _, e := range t.Entries {
			if !strings.Contains(strings.ToLower(e.Content), text) &&
				!strings.Contains(strings.ToLower(t.Title), text) {
				continue
			}
			results = append(results, Result{
				ID:          e.ID,
				ThreadID:    t.ID,
				ThreadTitle: t.Title,
				Snippet:     snippet(e.Content),
				CreatedAt:   e.CreatedAt,
				IsAI:        e.IsAI,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[j].CreatedAt.Before(results[i].CreatedAt)
	})

	total := len(results)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return results[offset:end], total, nil
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes]) + "…"
}
