package search

import (
	"go.uber.org/zap"

	"muse/api/internal/ideadoc"
	"muse/api/internal/store"
)

// Service tries Meilisearch first and falls back to the local searcher. It
// never fails a query; degraded results beat an error for this surface.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      *zap.Logger
}

// NewService creates the facade. meili may be nil when Meilisearch is not
// configured; fallback must not be.
func NewService(meili *Meili, fallback Searcher, log *zap.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log}
}

// Search answers from Meilisearch when healthy, otherwise the fallback.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, using fallback", zap.Error(err))
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error("fallback search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexEntry pushes one entry into the index, fire and forget.
func (s *Service) IndexEntry(rec EntryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEntry(rec); err != nil {
			s.log.Warn("index entry", zap.String("id", rec.ID), zap.Error(err))
		}
	}()
}

// DeleteEntry removes one entry from the index, fire and forget.
func (s *Service) DeleteEntry(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteEntry(id); err != nil {
			s.log.Warn("unindex entry", zap.String("id", id), zap.Error(err))
		}
	}()
}

// DeleteThread removes a whole thread's entries from the index.
func (s *Service) DeleteThread(threadID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteThread(threadID); err != nil {
			s.log.Warn("unindex thread", zap.String("threadId", threadID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes the whole collection into Meilisearch. Called on
// bootstrap so a cold index catches up with disk.
func (s *Service) ReindexAll(threads []store.Thread) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	var recs []EntryRecord
	for _, t := range threads {
		for _, e := range t.Entries {
			recs = append(recs, Record(t, e))
		}
	}
	if err := s.meili.IndexEntries(recs); err != nil {
		s.log.Warn("reindex all", zap.Error(err))
	}
}

// Record builds the indexable shape for one entry of a thread.
func Record(t store.Thread, e ideadoc.Entry) EntryRecord {
	return EntryRecord{
		ID:          e.ID,
		ThreadID:    t.ID,
		ThreadTitle: t.Title,
		Content:     e.Content,
		IsAI:        e.IsAI,
		CreatedAt:   e.CreatedAt.UnixMilli(),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
