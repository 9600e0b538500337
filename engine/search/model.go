package search

import (
	"time"

	"github.com/vidmem/vidmem/engine/domain"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode maps a query-string value to a Mode; empty defaults to hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeKeyword, ModeVector, ModeHybrid:
		return Mode(s), nil
	default:
		return "", domain.NewValidationError("mode", s, domain.ErrInvalidMode)
	}
}

// Request is one search query.
type Request struct {
	Query       string
	Mode        Mode
	Limit       int
	FocusAreaID string
}

// Result is one ranked chunk hit. Score is the native signal in single-signal
// modes and the fused RRF score in hybrid mode.
type Result struct {
	ChunkID string  `json:"chunk_id"`
	VideoID string  `json:"video_id"`
	Content string  `json:"content"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Score   float64 `json:"score"`
}

// Response is the query entry point's return shape.
type Response struct {
	Results       []Result                `json:"results"`
	Videos        map[string]domain.Video `json:"videos"`
	Query         string                  `json:"query"`
	Mode          Mode                    `json:"mode"`
	Timing        time.Duration           `json:"timing_ms"`
	HasEmbeddings bool                    `json:"has_embeddings"`
	Degraded      bool                    `json:"degraded"`
}
