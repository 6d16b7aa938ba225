package app

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"muse/api/internal/docstore"
	"muse/api/internal/ideadoc"
	"muse/api/internal/recents"
	"muse/api/internal/search"
	"muse/api/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	ds, err := docstore.New(t.TempDir(), "tester")
	if err != nil {
		t.Fatalf("docstore.New failed: %v", err)
	}

	var svc *Service
	scan := search.NewScan(func() []store.Thread { return svc.Threads("") })
	svc = NewService(ds, search.NewService(nil, scan, zap.NewNop()), recents.NewMemoryTracker(), nil, zap.NewNop())

	if err := svc.LoadThreads(context.Background()); err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	return svc
}

func mustCreate(t *testing.T, svc *Service, content, title string) store.Thread {
	t.Helper()
	thread, err := svc.CreateIdea(context.Background(), store.CreateThreadInput{Content: content, Title: title}, nil)
	if err != nil {
		t.Fatalf("CreateIdea failed: %v", err)
	}
	return thread
}

func TestCreateIdea(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "A first thought.", "first thought")
	if len(thread.Entries) != 1 || thread.Entries[0].Content != "A first thought." {
		t.Fatalf("thread entries = %+v", thread.Entries)
	}
	if thread.Title != "first-thought" {
		t.Fatalf("title = %q", thread.Title)
	}

	all := svc.Threads("")
	if len(all) != 1 || all[0].ID != thread.ID {
		t.Fatalf("snapshot = %+v", all)
	}

	active, _, _, err := svc.Recent(ctx)
	if err != nil || active != thread.ID {
		t.Fatalf("active thread = %q, %v", active, err)
	}
}

func TestCreateIdeaValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateIdea(ctx, store.CreateThreadInput{Content: "   \n  "}, nil)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank content error = %v", err)
	}

	markerLine := "[//]: # (idea:id=0196c5a8-0000-7000-8000-0000000000aa created_at=2024-01-15T09:00:00.000Z)"
	_, err = svc.CreateIdea(ctx, store.CreateThreadInput{Content: "before\n" + markerLine + "\nafter"}, nil)
	if !errors.Is(err, ideadoc.ErrContentCollision) {
		t.Fatalf("marker content error = %v", err)
	}
}

func TestContinueThreadAndReflection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "Seed.", "seed")

	thread, err := svc.ContinueThread(ctx, store.AddEntryInput{ThreadID: thread.ID, Content: "Growth."}, nil)
	if err != nil {
		t.Fatalf("ContinueThread failed: %v", err)
	}
	thread, err = svc.AddAIReflection(ctx, thread.ID, "A reflection on growth.")
	if err != nil {
		t.Fatalf("AddAIReflection failed: %v", err)
	}

	if len(thread.Entries) != 3 {
		t.Fatalf("entries = %d", len(thread.Entries))
	}
	if thread.Entries[1].Content != "Growth." || thread.Entries[1].IsAI {
		t.Fatalf("second entry = %+v", thread.Entries[1])
	}
	if !thread.Entries[2].IsAI {
		t.Fatal("reflection entry not marked as AI")
	}

	if _, err := svc.ContinueThread(ctx, store.AddEntryInput{ThreadID: "nope.md", Content: "x"}, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown thread error = %v", err)
	}
}

func TestUpdateEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "Draft wording.", "draft")
	entryID := thread.Entries[0].ID

	updated, err := svc.UpdateEntry(ctx, entryID, "Final wording.")
	if err != nil {
		t.Fatalf("UpdateEntry failed: %v", err)
	}
	if updated.Entries[0].Content != "Final wording." {
		t.Fatalf("content = %q", updated.Entries[0].Content)
	}

	if _, err := svc.UpdateEntry(ctx, entryID, ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank update error = %v", err)
	}
	if _, err := svc.UpdateEntry(ctx, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown entry error = %v", err)
	}
}

func TestDeleteEntryCascade(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "Only entry.", "solo")
	if err := svc.DeleteEntry(ctx, thread.Entries[0].ID); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	if got := svc.Threads(""); len(got) != 0 {
		t.Fatalf("thread should be gone, snapshot = %+v", got)
	}
	active, _, _, err := svc.Recent(ctx)
	if err != nil || active != "" {
		t.Fatalf("active thread after cascade = %q, %v", active, err)
	}
}

func TestDeleteEntryKeepsSiblings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "Keep me.", "keep")
	thread, err := svc.ContinueThread(ctx, store.AddEntryInput{ThreadID: thread.ID, Content: "Drop me."}, nil)
	if err != nil {
		t.Fatalf("ContinueThread failed: %v", err)
	}

	if err := svc.DeleteEntry(ctx, thread.Entries[1].ID); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	got, err := svc.GetThread(thread.ID)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}
	if len(got.Entries) != 1 || got.Entries[0].Content != "Keep me." {
		t.Fatalf("surviving entries = %+v", got.Entries)
	}
}

func TestDeleteThread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	thread := mustCreate(t, svc, "Short lived.", "short")
	if err := svc.DeleteThread(ctx, thread.ID); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if _, err := svc.GetThread(thread.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetThread after delete = %v", err)
	}
	if err := svc.DeleteThread(ctx, thread.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestLoadThreadsGuard(t *testing.T) {
	svc := newTestService(t)

	svc.mu.Lock()
	svc.loading = true
	svc.mu.Unlock()

	if err := svc.LoadThreads(context.Background()); !errors.Is(err, ErrLoadInProgress) {
		t.Fatalf("concurrent load error = %v", err)
	}

	svc.mu.Lock()
	svc.loading = false
	svc.mu.Unlock()

	if err := svc.LoadThreads(context.Background()); err != nil {
		t.Fatalf("load after guard release failed: %v", err)
	}
}

func TestSyncRecordsOutcome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mustCreate(t, svc, "Synced thought.", "sync")
	if _, err := svc.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	_, rec, ok, err := svc.Recent(ctx)
	if err != nil || !ok {
		t.Fatalf("sync record = ok %v, err %v", ok, err)
	}
	if rec.At.IsZero() {
		t.Fatal("sync record missing timestamp")
	}
}

func TestViews(t *testing.T) {
	svc := newTestService(t)

	mustCreate(t, svc, "Bucketed thought.", "bucket")

	threadBuckets := svc.ByThreadDate()
	if len(threadBuckets) != 1 || len(threadBuckets[0].Threads) != 1 {
		t.Fatalf("thread buckets = %+v", threadBuckets)
	}
	entryBuckets := svc.ByEntryDate()
	if len(entryBuckets) != 1 || entryBuckets[0].RelativeDate != "today" {
		t.Fatalf("entry buckets = %+v", entryBuckets)
	}
}

func TestSearchFallback(t *testing.T) {
	svc := newTestService(t)

	mustCreate(t, svc, "The lighthouse keeper kept a journal.", "lighthouse")

	resp := svc.Search(search.Query{Text: "lighthouse keeper"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("search response = %+v", resp)
	}
}

type fakeImages struct {
	names []string
}

func (f *fakeImages) Put(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	f.names = append(f.names, filename)
	return "http://cdn.local/muse/" + filename, nil
}

func TestCreateIdeaWithImages(t *testing.T) {
	svc := newTestService(t)
	fake := &fakeImages{}
	svc.images = fake
	ctx := context.Background()

	thread, err := svc.CreateIdea(ctx, store.CreateThreadInput{Content: "A sketch idea.", Title: "sketch"}, []ImageUpload{
		{Name: "sketch.png", ContentType: "image/png", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("CreateIdea with image failed: %v", err)
	}

	want := "A sketch idea.\n\n![sketch.png](http://cdn.local/muse/sketch.png)"
	if thread.Entries[0].Content != want {
		t.Fatalf("content = %q", thread.Entries[0].Content)
	}
	if len(fake.names) != 1 {
		t.Fatalf("uploads = %v", fake.names)
	}
}

func TestImagesDisabled(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateIdea(context.Background(), store.CreateThreadInput{Content: "x"}, []ImageUpload{
		{Name: "a.png", Data: []byte{1}},
	})
	var de *DomainError
	if !errors.As(err, &de) || de.Status != 503 {
		t.Fatalf("images disabled error = %v", err)
	}
}
