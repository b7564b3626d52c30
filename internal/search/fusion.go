package search

import (
	"sort"

	"github.com/hyperjump/nyaya/internal/keyword"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/vector"
)

type hit struct {
	key      models.PassageKey
	lexical  float64
	semantic float64
}

// joinHits merges keyword and vector hits by passage key, keeping the best score from each
// side. Output is ordered by key so results are deterministic.
func joinHits(keywordResults []*keyword.KeywordResult, semanticResults []*vector.VectorResult) []hit {
	byKey := make(map[models.PassageKey]*hit)
	get := func(k models.PassageKey) *hit {
		h, ok := byKey[k]
		if !ok {
			h = &hit{key: k}
			byKey[k] = h
		}
		return h
	}
	for _, r := range keywordResults {
		h := get(r.Key)
		h.lexical = max(h.lexical, r.Score)
	}
	for _, r := range semanticResults {
		k, ok := models.ParsePassageKey(r.ID)
		if !ok {
			continue
		}
		h := get(k)
		h.semantic = max(h.semantic, r.Score)
	}
	out := make([]hit, 0, len(byKey))
	for _, h := range byKey {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}
