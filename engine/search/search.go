// Package search answers queries against the stored index, fusing keyword
// and vector signals into one ranked list.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/semantic"
	"github.com/vidmem/vidmem/pkg/fn"
	"github.com/vidmem/vidmem/pkg/metrics"
	"github.com/vidmem/vidmem/pkg/resilience"
)

// DefaultLimit caps result lists when the caller doesn't set one.
const DefaultLimit = 20

// KeywordStore is the graph-store surface the searcher reads.
type KeywordStore interface {
	KeywordSearch(ctx context.Context, query string, limit int, focusAreaID string) ([]graph.KeywordHit, error)
	VideosByID(ctx context.Context, ids []string) (map[string]domain.Video, error)
	HasEmbeddings(ctx context.Context) (bool, error)
}

// VectorSearcher is the vector-index surface the searcher reads.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, focusAreaID string) ([]semantic.Hit, error)
}

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps holds the external dependencies of the Service.
type Deps struct {
	Store    KeywordStore
	Vectors  VectorSearcher
	Embedder Embedder
	Breaker  *resilience.Breaker
	Logger   *slog.Logger
	Registry *metrics.Registry
}

// Service runs keyword, vector, and hybrid searches.
type Service struct {
	store    KeywordStore
	vectors  VectorSearcher
	embedder Embedder
	logger   *slog.Logger

	// vectorStage is the vector leg behind the circuit breaker, so a
	// struggling model or index stops being probed on every request.
	vectorStage fn.Stage[Request, []Result]

	registry *metrics.Registry
	degraded *metrics.Counter
	latency  *metrics.Histogram
}

// NewService creates a Service. Nil breaker, logger, or registry fall back to
// defaults.
func NewService(deps Deps) *Service {
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = metrics.New()
	}
	s := &Service{
		store:    deps.Store,
		vectors:  deps.Vectors,
		embedder: deps.Embedder,
		logger:   deps.Logger,
		registry: deps.Registry,
		degraded: deps.Registry.Counter("searches_degraded_total", "Hybrid searches served keyword-only."),
		latency:  deps.Registry.Histogram("search_seconds", "Search wall time.", nil),
	}
	s.vectorStage = resilience.BreakerStage(deps.Breaker, s.vectorSearch)
	return s
}

// Search runs one query. Hybrid mode runs both legs concurrently and fuses
// them; if the vector leg is unavailable it degrades silently to keyword-only
// and flags the response rather than failing.
func (s *Service) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return Response{}, domain.NewValidationError("query", req.Query, domain.ErrEmptyQuery)
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	resp := Response{Query: req.Query, Mode: req.Mode, Videos: map[string]domain.Video{}}

	switch req.Mode {
	case ModeKeyword:
		results, err := s.keywordLeg(ctx, req)
		if err != nil {
			return Response{}, err
		}
		resp.Results = results

	case ModeVector:
		result := s.vectorStage(ctx, req)
		results, err := result.Unwrap()
		if err != nil {
			return Response{}, err
		}
		resp.Results = clip(results, req.Limit)

	case ModeHybrid:
		legs := fn.FanOut(
			func() fn.Result[[]Result] {
				return fn.FromPair(s.keywordLeg(ctx, req))
			},
			func() fn.Result[[]Result] {
				return s.vectorStage(ctx, req)
			},
		)
		keyword, kwErr := legs[0].Unwrap()
		if kwErr != nil {
			return Response{}, kwErr
		}
		vector, vecErr := legs[1].Unwrap()
		if vecErr != nil {
			// Semantic ranking is temporarily unavailable; retrieval must
			// still answer.
			s.logger.Warn("search: vector leg unavailable, serving keyword-only",
				"query", req.Query, "error", vecErr)
			s.degraded.Inc()
			resp.Degraded = true
			resp.Results = keyword
		} else {
			resp.Results = fuse(req.Limit, keyword, vector)
		}

	default:
		return Response{}, domain.NewValidationError("mode", string(req.Mode), domain.ErrInvalidMode)
	}

	if err := s.joinVideos(ctx, &resp); err != nil {
		return Response{}, err
	}
	if has, err := s.store.HasEmbeddings(ctx); err == nil {
		resp.HasEmbeddings = has
	} else {
		s.logger.Warn("search: embeddings probe failed", "error", err)
	}

	resp.Timing = time.Since(start)
	s.registry.Counter(
		metrics.Labeled("searches_total", "mode", string(req.Mode)),
		"Search requests served.",
	).Inc()
	s.latency.Since(start)
	return resp, nil
}

// keywordLeg pattern-matches the query against chunk content and video
// titles, ranked by video recency. The native score is position-derived so
// hybrid fusion has a raw tie-breaker.
func (s *Service) keywordLeg(ctx context.Context, req Request) ([]Result, error) {
	hits, err := s.store.KeywordSearch(ctx, req.Query, req.Limit, req.FocusAreaID)
	if err != nil {
		return nil, fmt.Errorf("search: keyword leg: %w", err)
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ChunkID: h.Chunk.ID,
			VideoID: h.Video.ID,
			Content: h.Chunk.Content,
			StartMs: h.Chunk.StartMs,
			EndMs:   h.Chunk.EndMs,
			Score:   1.0 / float64(i+1),
		}
	}
	return results, nil
}

// vectorSearch embeds the query and ranks stored vectors by cosine
// similarity. Callers reach it through vectorStage.
func (s *Service) vectorSearch(ctx context.Context, req Request) fn.Result[[]Result] {
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return fn.Errf[[]Result]("search: embed query: %w", err)
	}
	hits, err := s.vectors.Search(ctx, vec, req.Limit, req.FocusAreaID)
	if err != nil {
		return fn.Errf[[]Result]("search: vector leg: %w", err)
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ChunkID: h.ChunkID,
			VideoID: h.VideoID,
			Content: h.Content,
			StartMs: h.StartMs,
			EndMs:   h.EndMs,
			Score:   float64(h.Score),
		}
	}
	return fn.Ok(results)
}

// joinVideos attaches display metadata for every video in the result set.
func (s *Service) joinVideos(ctx context.Context, resp *Response) error {
	ids := fn.UniqueBy(
		fn.Map(resp.Results, func(r Result) string { return r.VideoID }),
		func(id string) string { return id },
	)
	if len(ids) == 0 {
		return nil
	}
	videos, err := s.store.VideosByID(ctx, ids)
	if err != nil {
		return fmt.Errorf("search: join videos: %w", err)
	}
	resp.Videos = videos
	return nil
}

func clip(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
