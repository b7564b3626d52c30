// Package vector provides vector index and similarity search over passage embeddings.
package vector

import "context"

// VectorIndex defines vector storage and similarity search. Adding an existing ID replaces
// its vector.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single vector search hit. ID is the passage key.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity clamped to [0,1]
}
