package domain

import (
	"strings"
)

// ValidateVideo checks the minimal invariants before a video is persisted.
func ValidateVideo(v Video) error {
	if strings.TrimSpace(v.ID) == "" {
		return NewValidationError("id", v.ID, ErrInvalidVideo)
	}
	if strings.TrimSpace(v.Title) == "" {
		return NewValidationError("title", v.Title, ErrInvalidVideo)
	}
	return nil
}

// ValidateChunk checks the chunk invariants: non-empty content, ordered
// timestamps, and an ascending non-empty segment index sequence.
func ValidateChunk(c Chunk) error {
	if strings.TrimSpace(c.Content) == "" {
		return NewValidationError("content", "", ErrInvalidChunk)
	}
	if c.StartMs > c.EndMs {
		return NewValidationError("start_ms", "", ErrInvalidChunk)
	}
	if len(c.SegmentIndices) == 0 {
		return NewValidationError("segment_indices", "", ErrInvalidChunk)
	}
	for i := 1; i < len(c.SegmentIndices); i++ {
		if c.SegmentIndices[i] <= c.SegmentIndices[i-1] {
			return NewValidationError("segment_indices", "", ErrInvalidChunk)
		}
	}
	return nil
}

// ValidateEmbedding checks a vector against the fixed model dimensionality.
func ValidateEmbedding(vec []float32) error {
	if len(vec) != EmbeddingDim {
		return NewValidationError("embedding", "", ErrInvalidEmbedding)
	}
	return nil
}
