// Package domain defines core domain types, constants, and validation for the
// vidmem retrieval engine. It acts as the validation gate at pipeline entry points.
package domain

import "time"

// EmbeddingDim is the output dimensionality of the sentence-embedding model.
// Every consumer of stored vectors assumes this size.
const EmbeddingDim = 384

// TranscriptSegment is a single caption cue from a video transcript.
type TranscriptSegment struct {
	Text     string `json:"text"`
	OffsetMs int64  `json:"offset_ms"`
}

// Chunk is a bounded transcript span — the unit of embedding and retrieval.
// Content is an overlap-joined concatenation of one or more segments' text.
type Chunk struct {
	Content        string `json:"content"`
	StartMs        int64  `json:"start_ms"`
	EndMs          int64  `json:"end_ms"`
	SegmentIndices []int  `json:"segment_indices"`
}

// PersistedChunk is a chunk stored against its owning video.
// Embedding is nil until embedding succeeds; chunks whose embedding failed
// are never persisted.
type PersistedChunk struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Chunk
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Video holds the display metadata joined into search results. Chunks are
// owned by their video and cascade-deleted with it.
type Video struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Channel     string    `json:"channel,omitempty"`
	URL         string    `json:"url,omitempty"`
	FocusAreaID string    `json:"focus_area_id,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Relationship is a directed similarity edge between two chunks of the same
// video. (SourceChunkID, TargetChunkID) is unique; both directions are
// distinct edges.
type Relationship struct {
	ID            string    `json:"id"`
	SourceChunkID string    `json:"source_chunk_id"`
	TargetChunkID string    `json:"target_chunk_id"`
	Similarity    float64   `json:"similarity"`
	CreatedAt     time.Time `json:"created_at"`
}
