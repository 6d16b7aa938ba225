package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"muse/api/internal/apitoken"
	"muse/api/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	svc := newTestService(t)
	server := NewHTTPServer(svc, apitoken.NewVerifier(""), "*", zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	return resp
}

func decodeThread(t *testing.T, resp *http.Response) store.Thread {
	t.Helper()
	defer resp.Body.Close()
	var thread store.Thread
	if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
		t.Fatalf("decode thread: %v", err)
	}
	return thread
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestIdeaLifecycleHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/ideas", map[string]any{
		"content": "A seed of a thought.",
		"title":   "seed",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	thread := decodeThread(t, resp)
	if thread.ID == "" || len(thread.Entries) != 1 {
		t.Fatalf("created thread = %+v", thread)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/ideas/"+thread.ID+"/entries", map[string]any{
		"content": "It grows.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("continue status = %d", resp.StatusCode)
	}
	thread = decodeThread(t, resp)
	if len(thread.Entries) != 2 {
		t.Fatalf("entries after continue = %d", len(thread.Entries))
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/ideas/"+thread.ID+"/reflect", map[string]any{
		"content": "Growth follows attention.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reflect status = %d", resp.StatusCode)
	}
	thread = decodeThread(t, resp)
	if len(thread.Entries) != 3 || !thread.Entries[2].IsAI {
		t.Fatalf("reflection entry = %+v", thread.Entries)
	}

	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/entries/"+thread.Entries[1].ID, map[string]any{
		"content": "It grows slowly.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	thread = decodeThread(t, resp)
	if thread.Entries[1].Content != "It grows slowly." {
		t.Fatalf("updated content = %q", thread.Entries[1].Content)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/entries/"+thread.Entries[2].ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete entry status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/ideas/" + thread.ID)
	if err != nil {
		t.Fatalf("get thread failed: %v", err)
	}
	thread = decodeThread(t, resp)
	if len(thread.Entries) != 2 {
		t.Fatalf("entries after delete = %d", len(thread.Entries))
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/ideas/"+thread.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete thread status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/ideas/" + thread.ID)
	if err != nil {
		t.Fatalf("get deleted thread failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted thread status = %d", resp.StatusCode)
	}
}

func TestListAndFilterIdeas(t *testing.T) {
	ts, svc := newTestServer(t)

	mustCreate(t, svc, "Notes about sourdough starters.", "baking")
	mustCreate(t, svc, "Sketches for the shed.", "woodwork")

	resp, err := http.Get(ts.URL + "/api/ideas?q=sourdough")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Threads []store.Thread `json:"threads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(payload.Threads) != 1 || payload.Threads[0].Title != "baking" {
		t.Fatalf("filtered threads = %+v", payload.Threads)
	}
}

func TestEmptyContentRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/ideas", map[string]any{"content": "   "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "EMPTY_CONTENT" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestViewsEndpoints(t *testing.T) {
	ts, svc := newTestServer(t)
	mustCreate(t, svc, "A bucketed thought.", "bucket")

	for _, path := range []string{"/api/views/by-thread-date", "/api/views/by-entry-date"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("%s failed: %v", path, err)
		}
		var payload struct {
			Buckets []json.RawMessage `json:"buckets"`
		}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s decode: %v", path, err)
		}
		if len(payload.Buckets) != 1 {
			t.Fatalf("%s buckets = %d", path, len(payload.Buckets))
		}
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	mustCreate(t, svc, "The tide tables for March.", "tides")

	resp, err := http.Get(ts.URL + "/api/search?q=tide")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Total   int    `json:"total"`
		Query   string `json:"query"`
		Results []struct {
			ThreadID string `json:"threadId"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if payload.Total != 1 || payload.Query != "tide" {
		t.Fatalf("search payload = %+v", payload)
	}
}

func TestExportEndpoint(t *testing.T) {
	ts, svc := newTestServer(t)
	thread := mustCreate(t, svc, "Exported thought.", "export me")

	resp, err := http.Get(ts.URL + "/api/ideas/" + thread.ID + "/export?format=markdown")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".md") {
		t.Fatalf("disposition = %q", cd)
	}

	resp, err = http.Get(ts.URL + "/api/ideas/" + thread.ID + "/export?format=docx")
	if err != nil {
		t.Fatalf("bad format request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format status = %d", resp.StatusCode)
	}
}

func TestSyncAndRecentEndpoints(t *testing.T) {
	ts, svc := newTestServer(t)
	thread := mustCreate(t, svc, "Tracked thought.", "tracked")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sync", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d", resp.StatusCode)
	}

	recent, err := http.Get(ts.URL + "/api/recent")
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	defer recent.Body.Close()
	var payload struct {
		ActiveThreadID string          `json:"activeThreadId"`
		LastSync       json.RawMessage `json:"lastSync"`
	}
	if err := json.NewDecoder(recent.Body).Decode(&payload); err != nil {
		t.Fatalf("decode recent: %v", err)
	}
	if payload.ActiveThreadID != thread.ID {
		t.Fatalf("active thread = %q", payload.ActiveThreadID)
	}
	if string(payload.LastSync) == "null" {
		t.Fatal("last sync missing after sync")
	}
}

func TestBearerTokenRequired(t *testing.T) {
	svc := newTestService(t)
	hash, err := apitoken.HashToken("letmein")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}
	server := NewHTTPServer(svc, apitoken.NewVerifier(hash), "*", zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	// Reads stay open.
	resp, err := http.Get(ts.URL + "/api/ideas")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unauthenticated read status = %d", resp.StatusCode)
	}

	// Writes need the token.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/ideas", map[string]any{"content": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated write status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/ideas", strings.NewReader(`{"content":"With token."}`))
	req.Header.Set("Authorization", "Bearer letmein")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed request failed: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusCreated {
		t.Fatalf("authed write status = %d", authed.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
