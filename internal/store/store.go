// Package store defines the thread storage contract and its relational
// backend. Every backend exposes the same capability surface; the service
// layer is polymorphic over it and never inspects backend internals.
package store

import (
	"context"
	"errors"
	"strings"

	"muse/api/internal/ideadoc"
)

// ErrNotFound is returned by every backend when a thread or entry id is
// unknown. Callers must treat it as a complete failure, never as partial
// success.
var ErrNotFound = errors.New("store: not found")

// Adapter is the full capability surface the idea service requires from a
// storage backend. Each call is independently failable; failures propagate
// to the caller unchanged.
type Adapter interface {
	ListThreads(ctx context.Context, filter ListFilter) ([]Thread, error)
	GetThread(ctx context.Context, id string) (Thread, error)
	CreateThread(ctx context.Context, in CreateThreadInput) (Thread, error)
	AddEntry(ctx context.Context, in AddEntryInput) (ideadoc.Entry, error)
	UpdateEntry(ctx context.Context, entryID, content string) (ideadoc.Entry, error)
	DeleteEntry(ctx context.Context, entryID string) error
	DeleteThread(ctx context.Context, threadID string) error
	Sync(ctx context.Context) (SyncResult, error)
	Type() string
}

// MatchesFilter reports whether a thread passes the filter.
func MatchesFilter(t Thread, filter ListFilter) bool {
	if filter.Query == "" {
		return true
	}
	if containsFold(t.Title, filter.Query) {
		return true
	}
	for _, e := range t.Entries {
		if containsFold(e.Content, filter.Query) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
