package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/vidmem/vidmem/engine/domain"
)

// DefaultThreshold is the cosine similarity a pair must exceed to earn an
// edge. At or below it the pair is skipped.
const DefaultThreshold = 0.7

// edgeNamespace derives deterministic edge IDs from (source, target), so a
// re-run proposes the same ID for the same pair.
var edgeNamespace = uuid.MustParse("9a7312a4-52b1-4b43-9d6b-5e27c94f3a11")

// EdgeStore is the persistence surface the builder needs.
type EdgeStore interface {
	EmbeddedChunks(ctx context.Context, videoID string) ([]domain.PersistedChunk, error)
	MergeSimilarityEdges(ctx context.Context, edges []EdgeCandidate) (int, error)
}

// Stats summarizes one relationship computation.
type Stats struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Builder computes the pairwise similarity graph for a video's chunks.
// Cost is quadratic in chunk count, acceptable at a few hundred chunks
// per video.
type Builder struct {
	store     EdgeStore
	threshold float64
	logger    *slog.Logger
}

// NewBuilder creates a builder with the given threshold; a non-positive
// threshold falls back to the default.
func NewBuilder(store EdgeStore, threshold float64, logger *slog.Logger) *Builder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, threshold: threshold, logger: logger}
}

// Compute loads the video's embedded chunks, scores every ordered pair, and
// merges an edge for each pair above the threshold — both directions, since
// each direction is an independently traversable edge. Pairs at or below the
// threshold, and pairs whose edge already exists, count as skipped:
// Created + Skipped always equals n*(n-1).
func (b *Builder) Compute(ctx context.Context, videoID string) (Stats, error) {
	chunks, err := b.store.EmbeddedChunks(ctx, videoID)
	if err != nil {
		return Stats{}, fmt.Errorf("graph: load chunks for %s: %w", videoID, err)
	}
	if len(chunks) < 2 {
		return Stats{}, nil
	}

	var candidates []EdgeCandidate
	skipped := 0
	for i := range chunks {
		for j := i + 1; j < len(chunks); j++ {
			sim := Cosine(chunks[i].Embedding, chunks[j].Embedding)
			if sim <= b.threshold {
				skipped += 2
				continue
			}
			candidates = append(candidates,
				newCandidate(chunks[i].ID, chunks[j].ID, sim),
				newCandidate(chunks[j].ID, chunks[i].ID, sim),
			)
		}
	}

	created, err := b.store.MergeSimilarityEdges(ctx, candidates)
	if err != nil {
		return Stats{}, fmt.Errorf("graph: persist edges for %s: %w", videoID, err)
	}
	// Candidates that already existed are skips, not errors.
	skipped += len(candidates) - created

	stats := Stats{Created: created, Skipped: skipped}
	b.logger.Info("graph: relationships computed",
		"video_id", videoID,
		"chunks", len(chunks),
		"created", stats.Created,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

func newCandidate(sourceID, targetID string, sim float64) EdgeCandidate {
	return EdgeCandidate{
		ID:         uuid.NewSHA1(edgeNamespace, []byte(sourceID+"->"+targetID)).String(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Similarity: sim,
	}
}

// Cosine computes cosine similarity between two vectors. Stored embeddings
// are L2-normalized, so this is effectively a dot product, but the norms are
// computed anyway to stay correct for arbitrary inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
