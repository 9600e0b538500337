// Package ingest turns transcripts into stored, searchable embeddings: chunk,
// embed in batches, persist transactionally, then trigger relationship-graph
// computation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vidmem/vidmem/engine/chunker"
	"github.com/vidmem/vidmem/engine/domain"
	"github.com/vidmem/vidmem/engine/graph"
	"github.com/vidmem/vidmem/engine/semantic"
	"github.com/vidmem/vidmem/pkg/fn"
	"github.com/vidmem/vidmem/pkg/metrics"
)

// EmbedBatchSize is the number of chunks embedded concurrently per batch.
// Batches run sequentially, bounding peak concurrency and memory.
const EmbedBatchSize = 32

// chunkNamespace derives deterministic chunk IDs from (video, position), so a
// re-embed of the same video proposes the same IDs.
var chunkNamespace = uuid.MustParse("3fb2d631-8a4e-4db0-bd1f-77a4c20e6f52")

// Embedder produces a fixed-dimension vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore is the graph-store surface the service writes through.
type ChunkStore interface {
	SaveVideo(ctx context.Context, v domain.Video) error
	ReplaceChunks(ctx context.Context, videoID string, chunks []domain.PersistedChunk) error
}

// VectorIndex mirrors persisted embeddings into the vector store.
type VectorIndex interface {
	DeleteByVideoID(ctx context.Context, videoID string) error
	Upsert(ctx context.Context, records []semantic.Record) error
}

// EdgeComputer builds the similarity graph for a video's stored chunks.
type EdgeComputer interface {
	Compute(ctx context.Context, videoID string) (graph.Stats, error)
}

// Deps holds the external dependencies of the Service.
type Deps struct {
	Embedder Embedder
	Chunks   ChunkStore
	Vectors  VectorIndex
	Edges    EdgeComputer
	Logger   *slog.Logger
	Registry *metrics.Registry
}

// Service orchestrates batch embedding and persistence for videos.
type Service struct {
	embedder Embedder
	chunks   ChunkStore
	vectors  VectorIndex
	edges    EdgeComputer
	logger   *slog.Logger

	embedded  *metrics.Counter
	failed    *metrics.Counter
	videos    *metrics.Counter
	inflight  *metrics.Gauge
	embedTime *metrics.Histogram

	now func() time.Time // for testing
}

// NewService creates a Service. A nil logger or registry falls back to defaults.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = metrics.New()
	}
	return &Service{
		embedder:  deps.Embedder,
		chunks:    deps.Chunks,
		vectors:   deps.Vectors,
		edges:     deps.Edges,
		logger:    deps.Logger,
		embedded:  deps.Registry.Counter("chunks_embedded_total", "Chunks embedded successfully."),
		failed:    deps.Registry.Counter("chunks_embed_failed_total", "Chunks whose embedding failed."),
		videos:    deps.Registry.Counter("videos_indexed_total", "Videos indexed end to end."),
		inflight:  deps.Registry.Gauge("embed_inflight", "EmbedChunks calls currently running."),
		embedTime: deps.Registry.Histogram("embed_batch_seconds", "EmbedChunks wall time.", nil),
		now:       time.Now,
	}
}

// EmbedChunks embeds chunks in sequential batches of EmbedBatchSize with
// concurrent calls inside a batch. Per-chunk failures are recorded inline and
// never abort siblings; result order matches input order. With a video ID,
// successful chunks replace the video's stored set in one transaction and
// relationship computation runs afterwards (its failure downgrades to a
// warning on the result).
func (s *Service) EmbedChunks(ctx context.Context, chunks []domain.Chunk, opts EmbedOpts) (BatchResult, error) {
	start := s.now()
	s.inflight.Inc()
	defer s.inflight.Dec()
	result := BatchResult{TotalChunks: len(chunks)}

	if len(chunks) == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	done := 0
	for _, batch := range fn.Chunk(chunks, EmbedBatchSize) {
		outcomes := fn.ParMapResult(batch, len(batch), func(c domain.Chunk) fn.Result[[]float32] {
			return fn.FromPair(s.embedder.Embed(ctx, c.Content))
		})
		for i, r := range outcomes {
			ec := EmbeddedChunk{Chunk: batch[i]}
			if vec, err := r.Unwrap(); err != nil {
				ec.Error = err.Error()
				result.ErrorCount++
				s.failed.Inc()
			} else {
				ec.Embedding = vec
				result.SuccessCount++
				s.embedded.Inc()
			}
			result.Chunks = append(result.Chunks, ec)
		}

		done += len(batch)
		if done > result.TotalChunks {
			done = result.TotalChunks
		}
		if opts.OnProgress != nil {
			opts.OnProgress(done, result.TotalChunks)
		}
	}

	if opts.VideoID != "" {
		if err := s.persist(ctx, opts, &result); err != nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	s.embedTime.Since(start)
	return result, nil
}

// persist replaces the video's stored chunk set with the successfully
// embedded chunks, mirrors them into the vector index, and computes
// similarity edges. Store failures are fatal; edge failures are not.
func (s *Service) persist(ctx context.Context, opts EmbedOpts, result *BatchResult) error {
	videoID := opts.VideoID
	persisted := make([]domain.PersistedChunk, 0, result.SuccessCount)
	records := make([]semantic.Record, 0, result.SuccessCount)
	createdAt := s.now()

	for i, ec := range result.Chunks {
		if ec.Error != "" {
			continue
		}
		id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", videoID, i))).String()
		persisted = append(persisted, domain.PersistedChunk{
			ID:        id,
			VideoID:   videoID,
			Chunk:     ec.Chunk,
			Embedding: ec.Embedding,
			CreatedAt: createdAt,
		})
		records = append(records, semantic.Record{
			PointID:   id,
			ChunkID:   id,
			VideoID:   videoID,
			FocusArea: opts.FocusAreaID,
			Content:   ec.Content,
			StartMs:   ec.StartMs,
			EndMs:     ec.EndMs,
			Embedding: ec.Embedding,
		})
	}

	if err := s.chunks.ReplaceChunks(ctx, videoID, persisted); err != nil {
		return fmt.Errorf("ingest: replace chunks for %s: %w", videoID, err)
	}
	if err := s.vectors.DeleteByVideoID(ctx, videoID); err != nil {
		return fmt.Errorf("ingest: clear vector index for %s: %w", videoID, err)
	}
	if err := s.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("ingest: mirror vectors for %s: %w", videoID, err)
	}

	stats, err := s.edges.Compute(ctx, videoID)
	if err != nil {
		// The embeddings are stored and searchable; graph construction is a
		// secondary feature and its failure must not fail the run.
		result.Warning = fmt.Sprintf("relationship computation failed: %v", err)
		s.logger.Warn("ingest: relationship computation failed",
			"video_id", videoID, "error", err)
		return nil
	}
	result.RelationshipsCreated = stats.Created
	return nil
}

// chunked is the intermediate value between the chunk and embed stages.
type chunked struct {
	video  domain.Video
	chunks []domain.Chunk
}

// IndexStage returns the full pipeline as a traced stage:
// validate → chunk → embed+store.
func (s *Service) IndexStage() fn.Stage[IndexRequest, BatchResult] {
	validate := fn.TracedStage("index.validate", func(_ context.Context, req IndexRequest) fn.Result[IndexRequest] {
		if err := domain.ValidateVideo(req.Video); err != nil {
			return fn.Err[IndexRequest](err)
		}
		return fn.Ok(req)
	})

	split := fn.TracedStage("index.chunk", func(_ context.Context, req IndexRequest) fn.Result[chunked] {
		return fn.Ok(chunked{
			video:  req.Video,
			chunks: chunker.Split(req.Segments, chunker.DefaultOptions()),
		})
	})

	store := fn.TracedStage("index.embed_store", func(ctx context.Context, c chunked) fn.Result[BatchResult] {
		if err := s.chunks.SaveVideo(ctx, c.video); err != nil {
			return fn.Err[BatchResult](fmt.Errorf("ingest: save video %s: %w", c.video.ID, err))
		}
		result, err := s.EmbedChunks(ctx, c.chunks, EmbedOpts{
			VideoID:     c.video.ID,
			FocusAreaID: c.video.FocusAreaID,
		})
		if err != nil {
			return fn.Err[BatchResult](err)
		}
		s.videos.Inc()
		return fn.Ok(result)
	})

	return fn.Then(fn.Then(validate, split), store)
}

// IndexVideo runs the full pipeline for one video.
func (s *Service) IndexVideo(ctx context.Context, video domain.Video, segments []domain.TranscriptSegment) (BatchResult, error) {
	return s.IndexStage()(ctx, IndexRequest{Video: video, Segments: segments}).Unwrap()
}
