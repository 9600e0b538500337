// Package graph owns persistence of videos, chunks, and similarity edges in
// Neo4j, and builds the per-video relationship graph used for related-moment
// traversal.
package graph

import (
	"time"

	"github.com/vidmem/vidmem/engine/domain"
)

// KeywordHit is a keyword-search match joined with its owning video.
type KeywordHit struct {
	Chunk domain.PersistedChunk
	Video domain.Video
}

// RelatedChunk is a chunk reached by traversing a similarity edge.
type RelatedChunk struct {
	Chunk      domain.PersistedChunk `json:"chunk"`
	Similarity float64               `json:"similarity"`
}

// EdgeCandidate is a directed similarity edge pending a MERGE.
type EdgeCandidate struct {
	ID         string
	SourceID   string
	TargetID   string
	Similarity float64
}

// --- property mapping ---

func videoToMap(v domain.Video) map[string]any {
	return map[string]any{
		"id":            v.ID,
		"title":         v.Title,
		"channel":       v.Channel,
		"url":           v.URL,
		"focus_area_id": v.FocusAreaID,
		"published_at":  v.PublishedAt,
	}
}

func videoFromProps(props map[string]any) domain.Video {
	return domain.Video{
		ID:          strProp(props, "id"),
		Title:       strProp(props, "title"),
		Channel:     strProp(props, "channel"),
		URL:         strProp(props, "url"),
		FocusAreaID: strProp(props, "focus_area_id"),
		PublishedAt: timeProp(props, "published_at"),
	}
}

func chunkToMap(c domain.PersistedChunk) map[string]any {
	indices := make([]any, len(c.SegmentIndices))
	for i, idx := range c.SegmentIndices {
		indices[i] = int64(idx)
	}
	m := map[string]any{
		"id":              c.ID,
		"content":         c.Content,
		"start_ms":        c.StartMs,
		"end_ms":          c.EndMs,
		"segment_indices": indices,
		"created_at":      c.CreatedAt,
	}
	if c.Embedding != nil {
		emb := make([]any, len(c.Embedding))
		for i, v := range c.Embedding {
			emb[i] = float64(v)
		}
		m["embedding"] = emb
	}
	return m
}

func chunkFromProps(props map[string]any) domain.PersistedChunk {
	c := domain.PersistedChunk{
		ID: strProp(props, "id"),
		Chunk: domain.Chunk{
			Content: strProp(props, "content"),
			StartMs: intProp(props, "start_ms"),
			EndMs:   intProp(props, "end_ms"),
		},
		CreatedAt: timeProp(props, "created_at"),
	}
	if raw, ok := props["segment_indices"].([]any); ok {
		c.SegmentIndices = make([]int, 0, len(raw))
		for _, v := range raw {
			if n, ok := v.(int64); ok {
				c.SegmentIndices = append(c.SegmentIndices, int(n))
			}
		}
	}
	if raw, ok := props["embedding"].([]any); ok {
		c.Embedding = make([]float32, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				c.Embedding = append(c.Embedding, float32(f))
			}
		}
	}
	return c
}

func strProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func intProp(props map[string]any, key string) int64 {
	n, _ := props[key].(int64)
	return n
}

func timeProp(props map[string]any, key string) time.Time {
	t, _ := props[key].(time.Time)
	return t
}
