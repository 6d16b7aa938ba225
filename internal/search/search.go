// Package search finds entries across all threads. Meilisearch serves
// queries when it is up; otherwise a fallback searcher answers from the
// active storage backend.
package search

import "time"

// Result is a single matching entry.
type Result struct {
	ID          string    `json:"id"`
	ThreadID    string    `json:"threadId"`
	ThreadTitle string    `json:"threadTitle"`
	Snippet     string    `json:"snippet"`
	CreatedAt   time.Time `json:"createdAt"`
	IsAI        bool      `json:"isAi"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned to the caller.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher executes a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// EntryRecord is the shape pushed into the search index. The entry's UUID is
// the primary key; thread ids contain slashes and ride along as a filterable
// attribute instead.
type EntryRecord struct {
	ID          string `json:"id"`
	ThreadID    string `json:"threadId"`
	ThreadTitle string `json:"threadTitle"`
	Content     string `json:"content"`
	IsAI        bool   `json:"isAi"`
	CreatedAt   int64  `json:"createdAt"`
}
