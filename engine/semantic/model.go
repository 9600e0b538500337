// Package semantic owns the Qdrant vector index mirroring stored chunk
// embeddings for query-time similarity search.
package semantic

// Hit is a single vector search result.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	VideoID string  `json:"video_id"`
	Content string  `json:"content"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Score   float32 `json:"score"`
}

// Record is a single vector to store.
type Record struct {
	// PointID must be a UUID; derive it deterministically from the chunk ID
	// so re-upserts overwrite rather than duplicate.
	PointID   string
	ChunkID   string
	VideoID   string
	FocusArea string
	Content   string
	StartMs   int64
	EndMs     int64
	Embedding []float32
}
