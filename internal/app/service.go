package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"muse/api/internal/attachments"
	"muse/api/internal/export"
	"muse/api/internal/grouping"
	"muse/api/internal/ideadoc"
	"muse/api/internal/marker"
	"muse/api/internal/recents"
	"muse/api/internal/search"
	"muse/api/internal/store"
)

// ImageUpload is one image attached to a new entry.
type ImageUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// ImageStore uploads attachments and returns public URLs.
type ImageStore interface {
	Put(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Service owns the in-memory thread collection and coordinates the storage
// adapter, search index and activity tracker around it. The collection is
// loaded once at startup and reconciled on every mutation, so reads never
// touch storage.
type Service struct {
	store   store.Adapter
	search  *search.Service
	recents recents.Tracker
	images  ImageStore
	export  *export.Service
	log     *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	threads []store.Thread
	loading bool
}

// NewService wires the service. images may be nil when attachments are not
// configured.
func NewService(adapter store.Adapter, searchSvc *search.Service, tracker recents.Tracker, images ImageStore, log *zap.Logger) *Service {
	return &Service{
		store:   adapter,
		search:  searchSvc,
		recents: tracker,
		images:  images,
		export:  export.NewService(),
		log:     log,
		now:     time.Now,
	}
}

// LoadThreads replaces the in-memory collection from storage. A second call
// while one is running is rejected rather than queued.
func (s *Service) LoadThreads(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrLoadInProgress
	}
	s.loading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	threads, err := s.store.ListThreads(ctx, store.ListFilter{})
	if err != nil {
		return fmt.Errorf("load threads: %w", err)
	}

	s.mu.Lock()
	s.threads = threads
	s.mu.Unlock()

	s.log.Info("thread collection loaded", zap.Int("threads", len(threads)))
	return nil
}

// Threads returns a copy of the collection, oldest thread first. The
// optional query filters on title and entry content.
func (s *Service) Threads(query string) []store.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := store.ListFilter{Query: query}
	out := make([]store.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		if store.MatchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return out
}

// GetThread reads one thread from the collection.
func (s *Service) GetThread(threadID string) (store.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.threads {
		if t.ID == threadID {
			return t, nil
		}
	}
	return store.Thread{}, store.ErrNotFound
}

// CreateIdea starts a new thread from one entry. Images, when present and
// configured, are uploaded first and linked at the end of the content.
func (s *Service) CreateIdea(ctx context.Context, in store.CreateThreadInput, images []ImageUpload) (store.Thread, error) {
	content, err := s.prepareContent(ctx, in.Content, images)
	if err != nil {
		return store.Thread{}, err
	}
	in.Content = content

	t, err := s.store.CreateThread(ctx, in)
	if err != nil {
		return store.Thread{}, fmt.Errorf("create thread: %w", err)
	}

	s.upsertThread(t)
	for _, e := range t.Entries {
		s.search.IndexEntry(search.Record(t, e))
	}
	s.touchActive(ctx, t.ID)
	return t, nil
}

// ContinueThread appends an entry to an existing thread.
func (s *Service) ContinueThread(ctx context.Context, in store.AddEntryInput, images []ImageUpload) (store.Thread, error) {
	content, err := s.prepareContent(ctx, in.Content, images)
	if err != nil {
		return store.Thread{}, err
	}
	in.Content = content

	entry, err := s.store.AddEntry(ctx, in)
	if err != nil {
		return store.Thread{}, err
	}

	t, err := s.refreshThread(ctx, in.ThreadID)
	if err != nil {
		return store.Thread{}, err
	}
	s.search.IndexEntry(search.Record(t, entry))
	s.touchActive(ctx, t.ID)
	return t, nil
}

// AddAIReflection appends an AI-attributed entry to a thread.
func (s *Service) AddAIReflection(ctx context.Context, threadID, content string) (store.Thread, error) {
	return s.ContinueThread(ctx, store.AddEntryInput{ThreadID: threadID, Content: content, IsAI: true}, nil)
}

// UpdateEntry rewrites the content of one entry, addressed by entry id.
func (s *Service) UpdateEntry(ctx context.Context, entryID, content string) (store.Thread, error) {
	if err := validateContent(content); err != nil {
		return store.Thread{}, err
	}

	entry, err := s.store.UpdateEntry(ctx, entryID, content)
	if err != nil {
		return store.Thread{}, err
	}

	host, ok := s.threadForEntry(entryID)
	if !ok {
		if err := s.LoadThreads(ctx); err != nil && !errors.Is(err, ErrLoadInProgress) {
			s.log.Warn("reload after update", zap.Error(err))
		}
		host, ok = s.threadForEntry(entryID)
		if !ok {
			return store.Thread{}, store.ErrNotFound
		}
		s.search.IndexEntry(search.Record(host, entry))
		return host, nil
	}

	t, err := s.refreshThread(ctx, host.ID)
	if err != nil {
		return store.Thread{}, err
	}
	s.search.IndexEntry(search.Record(t, entry))
	return t, nil
}

// DeleteEntry removes one entry. Deleting the last entry of a thread
// removes the thread as well.
func (s *Service) DeleteEntry(ctx context.Context, entryID string) error {
	host, ok := s.threadForEntry(entryID)

	if err := s.store.DeleteEntry(ctx, entryID); err != nil {
		return err
	}

	if !ok {
		// Entry was not in the snapshot; resync the affected state wholesale.
		if err := s.LoadThreads(ctx); err != nil && !errors.Is(err, ErrLoadInProgress) {
			s.log.Warn("reload after delete", zap.Error(err))
		}
		s.search.DeleteEntry(entryID)
		return nil
	}

	if len(host.Entries) <= 1 {
		s.removeThread(host.ID)
		s.search.DeleteThread(host.ID)
		s.clearActiveIf(ctx, host.ID)
		return nil
	}

	kept := host
	kept.Entries = nil
	for _, e := range host.Entries {
		if e.ID != entryID {
			kept.Entries = append(kept.Entries, e)
		}
	}
	s.upsertThread(kept)
	s.search.DeleteEntry(entryID)
	return nil
}

// DeleteThread removes a thread and all of its entries.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	s.removeThread(threadID)
	s.search.DeleteThread(threadID)
	s.clearActiveIf(ctx, threadID)
	return nil
}

// ByThreadDate groups the collection by the day each thread started.
func (s *Service) ByThreadDate() []grouping.ThreadBucket {
	return grouping.ByThreadDate(s.Threads(""))
}

// ByEntryDate flattens the collection into per-day entry buckets.
func (s *Service) ByEntryDate() []grouping.EntryBucket {
	return grouping.ByEntryDate(s.Threads(""), s.now())
}

// Search queries the search facade.
func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// ReindexAll pushes the whole collection into the search index.
func (s *Service) ReindexAll() {
	s.search.ReindexAll(s.Threads(""))
}

// Sync flushes outstanding storage changes, records the outcome and reloads
// the collection so out-of-band edits become visible.
func (s *Service) Sync(ctx context.Context) (store.SyncResult, error) {
	result, err := s.store.Sync(ctx)
	if err != nil {
		return store.SyncResult{}, fmt.Errorf("sync: %w", err)
	}

	if err := s.recents.RecordSync(ctx, result, s.now()); err != nil {
		s.log.Warn("record sync outcome", zap.Error(err))
	}
	if err := s.LoadThreads(ctx); err != nil && !errors.Is(err, ErrLoadInProgress) {
		s.log.Warn("reload after sync", zap.Error(err))
	}
	return result, nil
}

// Export renders one thread in the requested format.
func (s *Service) Export(ctx context.Context, threadID string, format export.Format) (*export.Result, error) {
	t, err := s.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, t, format)
}

// UploadImage stores a standalone image and returns its public URL.
func (s *Service) UploadImage(ctx context.Context, img ImageUpload) (string, error) {
	if s.images == nil {
		return "", domainError(503, "IMAGES_DISABLED", "Image storage is not configured", nil)
	}
	return s.images.Put(ctx, img.Name, img.ContentType, img.Data)
}

// Recent reports the last active thread and the last sync outcome.
func (s *Service) Recent(ctx context.Context) (string, recents.SyncRecord, bool, error) {
	active, err := s.recents.ActiveThread(ctx)
	if err != nil {
		return "", recents.SyncRecord{}, false, err
	}
	rec, ok, err := s.recents.LastSync(ctx)
	if err != nil {
		return "", recents.SyncRecord{}, false, err
	}
	return active, rec, ok, nil
}

// StoreType names the active storage backend.
func (s *Service) StoreType() string {
	return s.store.Type()
}

// prepareContent validates the entry text and appends uploaded image links.
func (s *Service) prepareContent(ctx context.Context, content string, images []ImageUpload) (string, error) {
	if err := validateContent(content); err != nil {
		return "", err
	}
	if len(images) == 0 {
		return content, nil
	}
	if s.images == nil {
		return "", domainError(503, "IMAGES_DISABLED", "Image storage is not configured", nil)
	}

	var links []string
	for _, img := range images {
		url, err := s.images.Put(ctx, img.Name, img.ContentType, img.Data)
		if err != nil {
			return "", fmt.Errorf("upload image %q: %w", img.Name, err)
		}
		links = append(links, attachments.MarkdownLink(img.Name, url))
	}
	return strings.TrimRight(content, "\n") + "\n\n" + strings.Join(links, "\n"), nil
}

// validateContent rejects blank entries and content that would be parsed
// back as an encoding marker.
func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	for _, line := range strings.Split(content, "\n") {
		if _, ok := marker.Decode(line); ok {
			return ideadoc.ErrContentCollision
		}
	}
	return nil
}

// refreshThread replaces the snapshot copy of one thread from storage.
func (s *Service) refreshThread(ctx context.Context, threadID string) (store.Thread, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return store.Thread{}, err
	}
	s.upsertThread(t)
	return t, nil
}

// upsertThread replaces or inserts a thread, keeping ascending order by
// first entry time.
func (s *Service) upsertThread(t store.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.threads {
		if s.threads[i].ID == t.ID {
			s.threads[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.threads = append(s.threads, t)
	}
	sort.SliceStable(s.threads, func(i, j int) bool {
		return s.threads[i].FirstEntryAt().Before(s.threads[j].FirstEntryAt())
	})
}

func (s *Service) removeThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.threads {
		if s.threads[i].ID == threadID {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			return
		}
	}
}

func (s *Service) threadForEntry(entryID string) (store.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.threads {
		for _, e := range t.Entries {
			if e.ID == entryID {
				return t, true
			}
		}
	}
	return store.Thread{}, false
}

func (s *Service) touchActive(ctx context.Context, threadID string) {
	if err := s.recents.SetActiveThread(ctx, threadID); err != nil {
		s.log.Warn("record active thread", zap.Error(err))
	}
}

func (s *Service) clearActiveIf(ctx context.Context, threadID string) {
	active, err := s.recents.ActiveThread(ctx)
	if err != nil || active != threadID {
		return
	}
	if err := s.recents.SetActiveThread(ctx, ""); err != nil {
		s.log.Warn("clear active thread", zap.Error(err))
	}
}
