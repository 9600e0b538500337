package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/ingest"
	"github.com/vidmem/vidmem/engine/search"
)

// indexer, searcher, deleter, and relater are the service surfaces the
// handlers use; tests substitute fakes.
type indexer interface {
	IndexVideo(ctx context.Context, video domain.Video, segments []domain.TranscriptSegment) (ingest.BatchResult, error)
}

type searcher interface {
	Search(ctx context.Context, req search.Request) (search.Response, error)
}

type deleter interface {
	DeleteVideo(ctx context.Context, videoID string) error
}

type relater interface {
	Neighbors(ctx context.Context, chunkID string, limit int) ([]graph.RelatedChunk, error)
}

// availability reports whether the embedding engine is loaded.
type availability interface {
	Available() bool
}

type serverDeps struct {
	indexer    indexer
	searcher   searcher
	deleter    deleter
	related    relater
	embedder   availability
	nats       *nats.Conn
	asyncIndex bool
	logger     *slog.Logger
}

type server struct {
	serverDeps
}

func newServer(deps serverDeps) *server {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	return &server{serverDeps: deps}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{"status": "ok"}
	if s.embedder != nil {
		payload["embedding_ready"] = s.embedder.Available()
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleSearch serves GET /api/search?q=...&mode=...&limit=...&focus_area=...
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	mode, err := search.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mode")
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	resp, err := s.searcher.Search(r.Context(), search.Request{
		Query:       q.Get("q"),
		Mode:        mode,
		Limit:       limit,
		FocusAreaID: q.Get("focus_area"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuery) || errors.Is(err, domain.ErrInvalidMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, searchPayload(resp))
}

// handleIndexVideo serves POST /api/videos. With async indexing enabled the
// request is queued on NATS; otherwise it is processed inline.
func (s *server) handleIndexVideo(w http.ResponseWriter, r *http.Request) {
	var req ingest.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateVideo(req.Video); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.asyncIndex {
		if err := ingest.PublishIndexRequest(r.Context(), s.nats, req); err != nil {
			s.logger.Error("index enqueue failed", "video_id", req.Video.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "video_id": req.Video.ID})
		return
	}

	result, err := s.indexer.IndexVideo(r.Context(), req.Video, req.Segments)
	if err != nil {
		s.logger.Error("index failed", "video_id", req.Video.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRelatedChunks serves GET /api/chunks/{id}/related?limit=...
// It traverses the precomputed similarity graph, strongest edges first.
func (s *server) handleRelatedChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing chunk id")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	related, err := s.related.Neighbors(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("related chunks failed", "chunk_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if related == nil {
		related = []graph.RelatedChunk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunk_id": id, "related": related})
}

// handleDeleteVideo serves DELETE /api/videos/{id}.
func (s *server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}
	if err := s.deleter.DeleteVideo(r.Context(), id); err != nil {
		s.logger.Error("delete failed", "video_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "video_id": id})
}

// searchPayload shapes the query entry point response.
func searchPayload(resp search.Response) map[string]any {
	results := resp.Results
	if results == nil {
		results = []search.Result{}
	}
	return map[string]any{
		"chunks":         results,
		"videos":         resp.Videos,
		"query":          resp.Query,
		"mode":           resp.Mode,
		"timing_ms":      resp.Timing.Milliseconds(),
		"has_embeddings": resp.HasEmbeddings,
		"degraded":       resp.Degraded,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
