package ingest

import (
	"github.com/vidmem/vidmem/engine/domain"
)

// IndexRequest asks the pipeline to (re)index one video from its transcript.
type IndexRequest struct {
	Video    domain.Video               `json:"video"`
	Segments []domain.TranscriptSegment `json:"segments"`
}

// EmbeddedChunk is one chunk's embedding outcome. A failed chunk carries a
// non-empty Error and an empty embedding; it is never persisted.
type EmbeddedChunk struct {
	domain.Chunk
	Embedding []float32 `json:"embedding,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EmbedOpts configures one EmbedChunks call.
type EmbedOpts struct {
	// VideoID, when set, persists successful chunks against this video.
	VideoID string
	// FocusAreaID is carried into the vector index payload for filtered search.
	FocusAreaID string
	// OnProgress fires once per completed batch with (current, total).
	OnProgress func(current, total int)
}

// BatchResult reports a batch embedding run. Embedding is best-effort per
// item: SuccessCount + ErrorCount always equals TotalChunks.
type BatchResult struct {
	Chunks               []EmbeddedChunk `json:"chunks"`
	TotalChunks          int             `json:"total_chunks"`
	SuccessCount         int             `json:"success_count"`
	ErrorCount           int             `json:"error_count"`
	DurationMs           int64           `json:"duration_ms"`
	RelationshipsCreated int             `json:"relationships_created"`
	// Warning records a downgraded secondary failure (graph computation),
	// which never fails the run once embeddings are stored.
	Warning string `json:"warning,omitempty"`
}
