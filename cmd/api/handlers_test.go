package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/ingest"
	"github.com/vidmem/vidmem/engine/search"
)

type fakeIndexer struct {
	result ingest.BatchResult
	err    error
	last   domain.Video
}

func (f *fakeIndexer) IndexVideo(_ context.Context, v domain.Video, _ []domain.TranscriptSegment) (ingest.BatchResult, error) {
	f.last = v
	return f.result, f.err
}

type fakeSearcher struct {
	resp search.Response
	err  error
	last search.Request
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (search.Response, error) {
	f.last = req
	return f.resp, f.err
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteVideo(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeRelater struct {
	items     []graph.RelatedChunk
	err       error
	lastID    string
	lastLimit int
}

func (f *fakeRelater) Neighbors(_ context.Context, id string, limit int) ([]graph.RelatedChunk, error) {
	f.lastID, f.lastLimit = id, limit
	return f.items, f.err
}

type fakeAvail struct{ ready bool }

func (f *fakeAvail) Available() bool { return f.ready }

func newTestServer(idx *fakeIndexer, s *fakeSearcher, d *fakeDeleter) (*server, *http.ServeMux) {
	return newTestServerWith(serverDeps{indexer: idx, searcher: s, deleter: d, related: &fakeRelater{}})
}

func newTestServerWith(deps serverDeps) (*server, *http.ServeMux) {
	srv := newServer(deps)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("GET /api/search", srv.handleSearch)
	mux.HandleFunc("POST /api/videos", srv.handleIndexVideo)
	mux.HandleFunc("DELETE /api/videos/{id}", srv.handleDeleteVideo)
	mux.HandleFunc("GET /api/chunks/{id}/related", srv.handleRelatedChunks)
	return srv, mux
}

func TestHandleHealth(t *testing.T) {
	_, mux := newTestServerWith(serverDeps{embedder: &fakeAvail{ready: true}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if ready, ok := body["embedding_ready"].(bool); !ok || !ready {
		t.Fatalf("embedding_ready = %v", body["embedding_ready"])
	}
}

func TestHandleSearch_PassesParams(t *testing.T) {
	searcher := &fakeSearcher{resp: search.Response{Query: "go", Mode: search.ModeHybrid}}
	_, mux := newTestServer(&fakeIndexer{}, searcher, &fakeDeleter{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/search?q=go&mode=keyword&limit=5&focus_area=ml", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if searcher.last.Query != "go" || searcher.last.Mode != search.ModeKeyword ||
		searcher.last.Limit != 5 || searcher.last.FocusAreaID != "ml" {
		t.Fatalf("request = %+v", searcher.last)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	for _, key := range []string{"chunks", "videos", "query", "mode", "timing_ms", "has_embeddings", "degraded"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %v", key, body)
		}
	}
}

func TestHandleSearch_BadInputs(t *testing.T) {
	searcher := &fakeSearcher{err: domain.NewValidationError("query", "", domain.ErrEmptyQuery)}
	_, mux := newTestServer(&fakeIndexer{}, searcher, &fakeDeleter{})

	cases := []string{
		"/api/search?q=go&mode=fuzzy",
		"/api/search?q=go&limit=abc",
		"/api/search?q=",
	}
	for _, url := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rec.Code)
		}
	}
}

func TestHandleIndexVideo(t *testing.T) {
	idx := &fakeIndexer{result: ingest.BatchResult{TotalChunks: 2, SuccessCount: 2, DurationMs: 1500}}
	_, mux := newTestServer(idx, &fakeSearcher{}, &fakeDeleter{})

	body := `{"video":{"id":"v1","title":"Go Talk"},"segments":[{"text":"hi","offset_ms":0}]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if idx.last.ID != "v1" {
		t.Fatalf("indexed video = %+v", idx.last)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	// The wire field is milliseconds, not a raw Duration.
	if ms, ok := resp["duration_ms"].(float64); !ok || ms != 1500 {
		t.Fatalf("duration_ms = %v, want 1500", resp["duration_ms"])
	}
}

func TestHandleRelatedChunks(t *testing.T) {
	rel := &fakeRelater{items: []graph.RelatedChunk{
		{Chunk: domain.PersistedChunk{ID: "c2", VideoID: "v1"}, Similarity: 0.85},
	}}
	_, mux := newTestServerWith(serverDeps{related: rel})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chunks/c1/related?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rel.lastID != "c1" || rel.lastLimit != 5 {
		t.Fatalf("neighbors called with (%q, %d)", rel.lastID, rel.lastLimit)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	related, ok := body["related"].([]any)
	if !ok || len(related) != 1 {
		t.Fatalf("related = %v", body["related"])
	}
	first, _ := related[0].(map[string]any)
	if first["similarity"] != 0.85 {
		t.Fatalf("similarity = %v, want 0.85", first["similarity"])
	}
}

func TestHandleRelatedChunks_InvalidLimit(t *testing.T) {
	_, mux := newTestServerWith(serverDeps{related: &fakeRelater{}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chunks/c1/related?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleIndexVideo_RejectsInvalid(t *testing.T) {
	_, mux := newTestServer(&fakeIndexer{}, &fakeSearcher{}, &fakeDeleter{})

	for _, body := range []string{`not json`, `{"video":{"id":"","title":""}}`} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestHandleIndexVideo_ServiceFailure(t *testing.T) {
	idx := &fakeIndexer{err: errors.New("neo4j down")}
	_, mux := newTestServer(idx, &fakeSearcher{}, &fakeDeleter{})

	body := `{"video":{"id":"v1","title":"t"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandleDeleteVideo(t *testing.T) {
	d := &fakeDeleter{}
	_, mux := newTestServer(&fakeIndexer{}, &fakeSearcher{}, d)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/videos/v42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(d.deleted) != 1 || d.deleted[0] != "v42" {
		t.Fatalf("deleted = %v", d.deleted)
	}
}
