// Package grouping derives the two presentation views over the thread
// collection. Both are pure projections: they never mutate their input and
// are cheap enough to recompute on every read.
package grouping

import (
	"sort"
	"time"

	"muse/api/internal/store"
)

const dateKeyLayout = "2006-01-02"

// DateKey renders a timestamp as the canonical YYYY-MM-DD bucket key (UTC).
func DateKey(t time.Time) string {
	return t.UTC().Format(dateKeyLayout)
}

// EntryView is one entry annotated with its position inside its thread.
type EntryView struct {
	ID              string    `json:"id"`
	ThreadID        string    `json:"threadId"`
	ThreadTitle     string    `json:"threadTitle"`
	CreatedAt       time.Time `json:"createdAt"`
	Content         string    `json:"content"`
	IsAI            bool      `json:"isAi"`
	IsFirstInThread bool      `json:"isFirstInThread"`
	IsLastInThread  bool      `json:"isLastInThread"`
}

// ThreadView is a thread with its entries in chronological read order.
type ThreadView struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	CreatedAt time.Time   `json:"createdAt"`
	Entries   []EntryView `json:"entries"`
}

// ThreadBucket is one calendar day of the by-thread-date view.
type ThreadBucket struct {
	DateKey string       `json:"dateKey"`
	Threads []ThreadView `json:"threads"`
}

// EntryBucket is one calendar day of the by-entry-date view.
type EntryBucket struct {
	DateKey string `json:"dateKey"`
	// RelativeDate is "today", "yesterday", or the literal DateKey.
	RelativeDate string      `json:"relativeDate"`
	Entries      []EntryView `json:"entries"`
}

// ByThreadDate groups threads by the calendar day of their first entry
// (falling back to the thread's own creation time). Buckets come newest day
// first; threads within a bucket newest first; entries within a thread in
// chronological order. Equal timestamps keep the input order.
func ByThreadDate(threads []store.Thread) []ThreadBucket {
	byKey := make(map[string][]ThreadView)
	var keys []string

	for _, t := range threads {
		key := DateKey(t.FirstEntryAt())
		if _, seen := byKey[key]; !seen {
			keys = append(keys, key)
		}
		byKey[key] = append(byKey[key], threadView(t))
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	buckets := make([]ThreadBucket, 0, len(keys))
	for _, key := range keys {
		views := byKey[key]
		sort.SliceStable(views, func(i, j int) bool {
			return firstEntryAt(views[j]).Before(firstEntryAt(views[i]))
		})
		buckets = append(buckets, ThreadBucket{DateKey: key, Threads: views})
	}
	return buckets
}

// ByEntryDate groups every entry by the calendar day of its own timestamp,
// regardless of which thread it belongs to. Buckets come newest day first;
// entries within a bucket newest first. The bucket matching now's date is
// labeled "today", the day before "yesterday".
func ByEntryDate(threads []store.Thread, now time.Time) []EntryBucket {
	todayKey := DateKey(now)
	yesterdayKey := DateKey(now.UTC().AddDate(0, 0, -1))

	byKey := make(map[string][]EntryView)
	var keys []string

	for _, t := range threads {
		for _, view := range threadView(t).Entries {
			key := DateKey(view.CreatedAt)
			if _, seen := byKey[key]; !seen {
				keys = append(keys, key)
			}
			byKey[key] = append(byKey[key], view)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	buckets := make([]EntryBucket, 0, len(keys))
	for _, key := range keys {
		views := byKey[key]
		sort.SliceStable(views, func(i, j int) bool {
			return views[j].CreatedAt.Before(views[i].CreatedAt)
		})
		label := key
		switch key {
		case todayKey:
			label = "today"
		case yesterdayKey:
			label = "yesterday"
		}
		buckets = append(buckets, EntryBucket{DateKey: key, RelativeDate: label, Entries: views})
	}
	return buckets
}

func threadView(t store.Thread) ThreadView {
	entries := make([]EntryView, 0, len(t.Entries))
	for _, e := range t.Entries {
		entries = append(entries, EntryView{
			ID:          e.ID,
			ThreadID:    t.ID,
			ThreadTitle: t.Title,
			CreatedAt:   e.CreatedAt,
			Content:     e.Content,
			IsAI:        e.IsAI,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	for i := range entries {
		entries[i].IsFirstInThread = i == 0
		entries[i].IsLastInThread = i == len(entries)-1
	}
	return ThreadView{ID: t.ID, Title: t.Title, CreatedAt: t.CreatedAt, Entries: entries}
}

func firstEntryAt(v ThreadView) time.Time {
	if len(v.Entries) > 0 {
		return v.Entries[0].CreatedAt
	}
	return v.CreatedAt
}
