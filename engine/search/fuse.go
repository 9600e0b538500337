package search

import "sort"

// rrfK dampens the reciprocal-rank contribution so deep ranks still matter.
const rrfK = 60

// fuse combines ranked lists with Reciprocal Rank Fusion: each item's score
// is the sum, over lists containing it, of 1/(k+rank) with 1-based ranks.
// Final order is fused score descending; ties break on the higher raw score
// the item achieved in any list.
func fuse(limit int, lists ...[]Result) []Result {
	type fused struct {
		Result
		score float64
		raw   float64
	}

	byChunk := make(map[string]*fused)
	var order []string
	for _, list := range lists {
		for rank, r := range list {
			f, ok := byChunk[r.ChunkID]
			if !ok {
				f = &fused{Result: r}
				byChunk[r.ChunkID] = f
				order = append(order, r.ChunkID)
			}
			f.score += 1.0 / float64(rrfK+rank+1)
			if r.Score > f.raw {
				f.raw = r.Score
			}
		}
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		f := byChunk[id]
		f.Result.Score = f.score
		out = append(out, f.Result)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return byChunk[out[i].ChunkID].raw > byChunk[out[j].ChunkID].raw
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
