package embedding

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/hyperjump/nyaya/pkg/utils"
)

// HashingEmbedder embeds text by feature hashing word unigrams, bigrams and character
// trigrams into a fixed number of signed buckets. It needs no model file, is deterministic,
// and gives texts sharing vocabulary a high cosine similarity.
type HashingEmbedder struct {
	dimensions int
	cache      *EmbeddingCache
}

// NewHashingEmbedder returns a hashing embedder with the given dimensions (default 384).
func NewHashingEmbedder(dimensions, cacheSize int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	return &HashingEmbedder{dimensions: dimensions, cache: NewEmbeddingCache(cacheSize)}
}

// Embed returns the unit-length embedding of text. Empty text yields the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	vec := make([]float32, e.dimensions)
	words := SplitWords(text)
	for i, w := range words {
		e.add(vec, "w:"+w, 1.0)
		if i > 0 {
			e.add(vec, "b:"+words[i-1]+" "+w, 0.5)
		}
		r := []rune("^" + w + "$")
		for j := 0; j+3 <= len(r); j++ {
			e.add(vec, "c:"+string(r[j:j+3]), 0.25)
		}
	}
	utils.NormalizeL2(vec)
	e.cache.Set(text, vec)
	return vec, nil
}

func (e *HashingEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// EmbedBatch embeds each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashingEmbedder) Close() error {
	return nil
}

// SplitWords lowercases text and splits it into runs of letters, combining marks and digits.
func SplitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isWordSeparator)
}
