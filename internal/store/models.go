package store

import (
	"time"

	"muse/api/internal/ideadoc"
)

// Thread is one idea document: an ordered chain of entries. ID is the
// thread's storage path (or an equivalent stable handle for non-file
// backends); it never changes for the life of the thread.
type Thread struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"createdAt"`
	Entries   []ideadoc.Entry `json:"entries"`
}

// FirstEntryAt returns the timestamp of the thread's first entry, falling
// back to the thread's own creation time when it has no entries.
func (t Thread) FirstEntryAt() time.Time {
	if len(t.Entries) > 0 {
		return t.Entries[0].CreatedAt
	}
	return t.CreatedAt
}

// SyncResult reports what a backend's Sync pass did.
type SyncResult struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
}

// CreateThreadInput carries everything needed to start a new thread. Content
// is the first entry's body and must be non-blank (enforced by the service,
// assumed here).
type CreateThreadInput struct {
	Content string
	Title   string
	IsAI    bool
}

// AddEntryInput appends one entry to an existing thread.
type AddEntryInput struct {
	ThreadID string
	Content  string
	IsAI     bool
}

// ListFilter narrows ListThreads. The zero value matches everything.
type ListFilter struct {
	// Query, when set, keeps only threads whose title or entry content
	// contains the string (case-insensitive).
	Query string
}

// AppendTime picks the timestamp for a new entry: now, clamped so the
// sequence stays nondecreasing even when the clock steps backwards.
func AppendTime(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}
