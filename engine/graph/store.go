package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/vidmem/vidmem/engine/domain"
)

// Store is the sole owner of all Neo4j operations. Videos own their chunks
// through HAS_CHUNK; chunks connect through directed SIMILAR_TO edges.
type Store struct {
	driver neo4j.DriverWithContext
}

// New creates a Store over an established Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// SaveVideo creates or updates a video node.
func (s *Store) SaveVideo(ctx context.Context, v domain.Video) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (v:Video {id: $id}) SET v += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    v.ID,
		"props": videoToMap(v),
	})
	if err != nil {
		return fmt.Errorf("graph: save video %s: %w", v.ID, err)
	}
	return nil
}

// DeleteVideo removes a video and cascades to its chunks; similarity edges
// attached to those chunks go with them.
func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (v:Video {id: $id})
	           OPTIONAL MATCH (v)-[:HAS_CHUNK]->(c:Chunk)
	           DETACH DELETE v, c`
	_, err := sess.Run(ctx, cypher, map[string]any{"id": videoID})
	if err != nil {
		return fmt.Errorf("graph: delete video %s: %w", videoID, err)
	}
	return nil
}

// ReplaceChunks replaces a video's entire chunk set in one transaction:
// delete all existing chunks, then bulk-insert the new ones. Readers never
// observe a partially replaced set.
func (s *Store) ReplaceChunks(ctx context.Context, videoID string, chunks []domain.PersistedChunk) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	rows := make([]any, len(chunks))
	for i, c := range chunks {
		rows[i] = chunkToMap(c)
	}

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		del := `MATCH (:Video {id: $vid})-[:HAS_CHUNK]->(c:Chunk) DETACH DELETE c`
		if _, err := tx.Run(ctx, del, map[string]any{"vid": videoID}); err != nil {
			return nil, err
		}
		ins := `MERGE (v:Video {id: $vid})
		        WITH v
		        UNWIND $chunks AS ch
		        CREATE (c:Chunk)
		        SET c = ch
		        CREATE (v)-[:HAS_CHUNK]->(c)`
		if _, err := tx.Run(ctx, ins, map[string]any{"vid": videoID, "chunks": rows}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: replace chunks for video %s: %w", videoID, err)
	}
	return nil
}

// EmbeddedChunks returns the video's chunks that carry an embedding, in
// start-time order.
func (s *Store) EmbeddedChunks(ctx context.Context, videoID string) ([]domain.PersistedChunk, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (:Video {id: $vid})-[:HAS_CHUNK]->(c:Chunk)
	           WHERE c.embedding IS NOT NULL
	           RETURN c ORDER BY c.start_ms`
	result, err := sess.Run(ctx, cypher, map[string]any{"vid": videoID})
	if err != nil {
		return nil, fmt.Errorf("graph: embedded chunks for %s: %w", videoID, err)
	}

	var chunks []domain.PersistedChunk
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "c")
		if err != nil {
			return nil, err
		}
		c := chunkFromProps(node.Props)
		c.VideoID = videoID
		chunks = append(chunks, c)
	}
	return chunks, result.Err()
}

// MergeSimilarityEdges inserts directed similarity edges, deduplicated by the
// (source, target) uniqueness of the MERGE. It returns how many edges were
// actually created; an existing pair is a no-op, not an error.
func (s *Store) MergeSimilarityEdges(ctx context.Context, edges []EdgeCandidate) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	rows := make([]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"id":         e.ID,
			"source":     e.SourceID,
			"target":     e.TargetID,
			"similarity": e.Similarity,
		}
	}

	created, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := `UNWIND $edges AS e
		           MATCH (a:Chunk {id: e.source}), (b:Chunk {id: e.target})
		           MERGE (a)-[r:SIMILAR_TO]->(b)
		           ON CREATE SET r.id = e.id, r.similarity = e.similarity, r.created_at = datetime()`
		result, err := tx.Run(ctx, cypher, map[string]any{"edges": rows})
		if err != nil {
			return 0, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return 0, err
		}
		return summary.Counters().RelationshipsCreated(), nil
	})
	if err != nil {
		return 0, fmt.Errorf("graph: merge similarity edges: %w", err)
	}
	return created.(int), nil
}

// Neighbors returns chunks connected to chunkID by outgoing similarity edges,
// strongest first. This backs "related moments" traversal without re-scanning
// the corpus at read time.
func (s *Store) Neighbors(ctx context.Context, chunkID string, limit int) ([]RelatedChunk, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (:Chunk {id: $id})-[r:SIMILAR_TO]->(n:Chunk)
	           RETURN n, r.similarity AS similarity
	           ORDER BY r.similarity DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": chunkID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors of %s: %w", chunkID, err)
	}

	var related []RelatedChunk
	for result.Next(ctx) {
		rec := result.Record()
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
		if err != nil {
			return nil, err
		}
		sim, _, _ := neo4j.GetRecordValue[float64](rec, "similarity")
		related = append(related, RelatedChunk{Chunk: chunkFromProps(node.Props), Similarity: sim})
	}
	return related, result.Err()
}

// KeywordSearch pattern-matches the query against chunk content and video
// titles, ranked by video recency. An empty focusAreaID matches all videos.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, focusAreaID string) ([]KeywordHit, error) {
	if limit <= 0 {
		limit = 20
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (v:Video)-[:HAS_CHUNK]->(c:Chunk)
	           WHERE (toLower(c.content) CONTAINS $q OR toLower(v.title) CONTAINS $q)
	             AND ($focus = '' OR v.focus_area_id = $focus)
	           RETURN c, v
	           ORDER BY v.published_at DESC
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"q":     strings.ToLower(strings.TrimSpace(query)),
		"focus": focusAreaID,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("graph: keyword search: %w", err)
	}

	var hits []KeywordHit
	for result.Next(ctx) {
		rec := result.Record()
		cNode, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "c")
		if err != nil {
			return nil, err
		}
		vNode, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "v")
		if err != nil {
			return nil, err
		}
		video := videoFromProps(vNode.Props)
		chunk := chunkFromProps(cNode.Props)
		chunk.VideoID = video.ID
		hits = append(hits, KeywordHit{Chunk: chunk, Video: video})
	}
	return hits, result.Err()
}

// VideosByID fetches display metadata for a set of videos.
func (s *Store) VideosByID(ctx context.Context, ids []string) (map[string]domain.Video, error) {
	if len(ids) == 0 {
		return map[string]domain.Video{}, nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (v:Video) WHERE v.id IN $ids RETURN v`
	result, err := sess.Run(ctx, cypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("graph: videos by id: %w", err)
	}

	videos := make(map[string]domain.Video, len(ids))
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "v")
		if err != nil {
			return nil, err
		}
		v := videoFromProps(node.Props)
		videos[v.ID] = v
	}
	return videos, result.Err()
}

// VideoIDs lists every stored video id.
func (s *Store) VideoIDs(ctx context.Context) ([]string, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (v:Video) RETURN v.id AS id ORDER BY id`, nil)
	if err != nil {
		return nil, fmt.Errorf("graph: list video ids: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		id, _, _ := neo4j.GetRecordValue[string](result.Record(), "id")
		ids = append(ids, id)
	}
	return ids, result.Err()
}

// HasEmbeddings reports whether any stored chunk carries an embedding.
func (s *Store) HasEmbeddings(ctx context.Context) (bool, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (c:Chunk) WHERE c.embedding IS NOT NULL
	           WITH c LIMIT 1 RETURN count(c) > 0 AS has`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return false, fmt.Errorf("graph: has embeddings: %w", err)
	}
	if !result.Next(ctx) {
		return false, result.Err()
	}
	has, _, err := neo4j.GetRecordValue[bool](result.Record(), "has")
	return has, err
}
