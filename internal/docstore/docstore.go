// Package docstore persists threads as markdown documents in a git
// repository rooted at the ideas directory: one file per thread under
// <root>/<YYYY>/<MM>/, every mutation committed. This is the backend that
// maps onto the native document store's folder layout.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"muse/api/internal/ideadoc"
	"muse/api/internal/ideapath"
	"muse/api/internal/marker"
	"muse/api/internal/store"
)

// Store is a git-backed thread store. Thread ids are file paths relative to
// the root, using forward slashes on every platform.
type Store struct {
	root   string
	author string

	mu    sync.Mutex
	index map[string]string // entry id -> thread id
	now   func() time.Time
}

// New opens (or initializes) the git repository at root.
func New(root, author string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create ideas root: %w", err)
	}
	if _, err := git.PlainOpen(root); err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("open ideas repo: %w", err)
		}
		if _, err := git.PlainInit(root, false); err != nil {
			return nil, fmt.Errorf("init ideas repo: %w", err)
		}
	}
	if author == "" {
		author = "muse"
	}
	return &Store{
		root:   root,
		author: author,
		index:  make(map[string]string),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

func (s *Store) Type() string { return "git" }

func (s *Store) ListThreads(ctx context.Context, filter store.ListFilter) ([]store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := s.scan()
	if err != nil {
		return nil, err
	}

	if filter.Query == "" {
		return threads, nil
	}
	filtered := make([]store.Thread, 0, len(threads))
	for _, t := range threads {
		if store.MatchesFilter(t, filter) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *Store) GetThread(ctx context.Context, id string) (store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readThread(id)
}

func (s *Store) CreateThread(ctx context.Context, in store.CreateThreadInput) (store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := ideapath.ForNewThread("", in.Title, now)
	// Same title in the same millisecond would reuse a path; step forward
	// until the path is free.
	for {
		if _, err := os.Stat(s.filePath(id)); errors.Is(err, os.ErrNotExist) {
			break
		}
		now = now.Add(time.Millisecond)
		id = ideapath.ForNewThread("", in.Title, now)
	}
	entry := ideadoc.Entry{
		ID:           marker.NewID(),
		CreatedAt:    now,
		CreatedAtRaw: marker.FormatStamp(now),
		Content:      in.Content,
		IsAI:         in.IsAI,
	}
	thread := store.Thread{
		ID:        id,
		Title:     ideapath.Title(id),
		CreatedAt: now,
		Entries:   []ideadoc.Entry{entry},
	}

	if err := s.writeThread(thread); err != nil {
		return store.Thread{}, err
	}
	if err := s.commit(id, "New idea: "+thread.Title); err != nil {
		return store.Thread{}, err
	}
	s.index[entry.ID] = id
	return thread, nil
}

func (s *Store) AddEntry(ctx context.Context, in store.AddEntryInput) (ideadoc.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.readThread(in.ThreadID)
	if err != nil {
		return ideadoc.Entry{}, err
	}

	at := s.now()
	if n := len(thread.Entries); n > 0 {
		at = store.AppendTime(thread.Entries[n-1].CreatedAt, at)
	}
	entry := ideadoc.Entry{
		ID:           marker.NewID(),
		CreatedAt:    at,
		CreatedAtRaw: marker.FormatStamp(at),
		Content:      in.Content,
		IsAI:         in.IsAI,
	}
	thread.Entries = append(thread.Entries, entry)

	if err := s.writeThread(thread); err != nil {
		return ideadoc.Entry{}, err
	}
	if err := s.commit(thread.ID, "Continue idea: "+thread.Title); err != nil {
		return ideadoc.Entry{}, err
	}
	s.index[entry.ID] = thread.ID
	return entry, nil
}

func (s *Store) UpdateEntry(ctx context.Context, entryID, content string) (ideadoc.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.threadForEntry(entryID)
	if err != nil {
		return ideadoc.Entry{}, err
	}

	var updated ideadoc.Entry
	found := false
	for i, e := range thread.Entries {
		if e.ID == entryID {
			thread.Entries[i].Content = content
			updated = thread.Entries[i]
			found = true
			break
		}
	}
	if !found {
		return ideadoc.Entry{}, store.ErrNotFound
	}

	if err := s.writeThread(thread); err != nil {
		return ideadoc.Entry{}, err
	}
	if err := s.commit(thread.ID, "Edit entry in: "+thread.Title); err != nil {
		return ideadoc.Entry{}, err
	}
	return updated, nil
}

func (s *Store) DeleteEntry(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.threadForEntry(entryID)
	if err != nil {
		return err
	}

	kept := thread.Entries[:0:0]
	found := false
	for _, e := range thread.Entries {
		if e.ID == entryID {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return store.ErrNotFound
	}
	delete(s.index, entryID)

	// Removing the last entry removes the thread document itself.
	if len(kept) == 0 {
		return s.removeThread(thread.ID, "Delete idea: "+thread.Title)
	}

	thread.Entries = kept
	if err := s.writeThread(thread); err != nil {
		return err
	}
	return s.commit(thread.ID, "Delete entry in: "+thread.Title)
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, err := s.readThread(threadID)
	if err != nil {
		return err
	}
	for _, e := range thread.Entries {
		delete(s.index, e.ID)
	}
	return s.removeThread(threadID, "Delete idea: "+thread.Title)
}

// Sync commits anything in the worktree that escaped a per-mutation commit
// (files dropped in by hand, editors, or a previous crash). Conflicts are
// always zero: a single-writer worktree has nothing to conflict with.
func (s *Store) Sync(ctx context.Context) (store.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := git.PlainOpen(s.root)
	if err != nil {
		return store.SyncResult{}, fmt.Errorf("open ideas repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return store.SyncResult{}, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return store.SyncResult{}, fmt.Errorf("read status: %w", err)
	}
	if status.IsClean() {
		return store.SyncResult{}, nil
	}

	dirty := 0
	for file, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if _, err := wt.Add(file); err != nil {
			return store.SyncResult{}, fmt.Errorf("stage %s: %w", file, err)
		}
		dirty++
	}
	if _, err := wt.Commit("Sync outstanding changes", &git.CommitOptions{Author: s.signature()}); err != nil {
		return store.SyncResult{}, fmt.Errorf("commit sync: %w", err)
	}
	return store.SyncResult{Synced: dirty}, nil
}

func (s *Store) scan() ([]store.Thread, error) {
	var threads []store.Thread
	index := make(map[string]string)

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == git.GitDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		thread, err := s.readThread(id)
		if err != nil {
			return err
		}
		threads = append(threads, thread)
		for _, e := range thread.Entries {
			index[e.ID] = id
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ideas root: %w", err)
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].FirstEntryAt().Before(threads[j].FirstEntryAt())
	})
	s.index = index
	return threads, nil
}

func (s *Store) readThread(id string) (store.Thread, error) {
	data, err := os.ReadFile(s.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return store.Thread{}, store.ErrNotFound
	}
	if err != nil {
		return store.Thread{}, fmt.Errorf("read thread %s: %w", id, err)
	}

	thread := store.Thread{
		ID:      id,
		Title:   ideapath.Title(id),
		Entries: ideadoc.Parse(string(data)),
	}
	if at, ok := ideapath.CreatedAt(id); ok {
		thread.CreatedAt = at
	} else if len(thread.Entries) > 0 {
		thread.CreatedAt = thread.Entries[0].CreatedAt
	}
	return thread, nil
}

func (s *Store) writeThread(t store.Thread) error {
	text, err := ideadoc.Serialize(t.Entries)
	if err != nil {
		return fmt.Errorf("serialize thread %s: %w", t.ID, err)
	}
	full := s.filePath(t.ID)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create thread dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write thread %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) removeThread(id, message string) error {
	repo, err := git.PlainOpen(s.root)
	if err != nil {
		return fmt.Errorf("open ideas repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := wt.Remove(id); err != nil {
		return fmt.Errorf("remove thread %s: %w", id, err)
	}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: s.signature()}); err != nil {
		return fmt.Errorf("commit removal: %w", err)
	}
	return nil
}

func (s *Store) commit(id, message string) error {
	repo, err := git.PlainOpen(s.root)
	if err != nil {
		return fmt.Errorf("open ideas repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := wt.Add(id); err != nil {
		return fmt.Errorf("stage thread %s: %w", id, err)
	}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: s.signature()}); err != nil {
		return fmt.Errorf("commit thread %s: %w", id, err)
	}
	return nil
}

func (s *Store) threadForEntry(entryID string) (store.Thread, error) {
	if id, ok := s.index[entryID]; ok {
		if t, err := s.readThread(id); err == nil {
			return t, nil
		}
	}
	// Index miss or stale entry: rebuild from disk once.
	if _, err := s.scan(); err != nil {
		return store.Thread{}, err
	}
	id, ok := s.index[entryID]
	if !ok {
		return store.Thread{}, store.ErrNotFound
	}
	return s.readThread(id)
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id))
}

func (s *Store) signature() *object.Signature {
	return &object.Signature{
		Name:  s.author,
		Email: s.author + "@local.muse.dev",
		When:  time.Now(),
	}
}
