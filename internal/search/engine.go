// Package search provides the local hybrid (lexical + semantic) passage index used by retrieval.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hyperjump/nyaya/internal/embedding"
	"github.com/hyperjump/nyaya/internal/keyword"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/storage"
	"github.com/hyperjump/nyaya/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tunes lexical search.
type Options struct {
	TitleBoost   float64
	FuzzyEnabled bool
}

// HybridIndex stores passages in SQLite and searches them through a Bleve keyword index and
// a vector index side by side. It returns raw scores; weighting is the caller's concern.
type HybridIndex struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	opts         Options
	logger       *zap.Logger
}

// IndexOption configures a HybridIndex.
type IndexOption func(*HybridIndex)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexOption {
	return func(h *HybridIndex) { h.logger = l }
}

// NewHybridIndex creates a hybrid index over the given stores.
func NewHybridIndex(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	opts Options,
	options ...IndexOption,
) *HybridIndex {
	h := &HybridIndex{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		opts:         opts,
		logger:       zap.NewNop(),
	}
	for _, o := range options {
		o(h)
	}
	return h
}

// Search runs keyword and vector search concurrently and joins the hits with stored passages.
// Each candidate carries its cosine similarity and raw lexical score; a passage found by only
// one side has zero for the other.
func (h *HybridIndex) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	var (
		keywordResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := h.keywordIndex.Search(gctx, query, limit, &keyword.SearchOptions{
			TitleBoost:   h.opts.TitleBoost,
			FuzzyEnabled: h.opts.FuzzyEnabled,
		})
		if err != nil {
			return fmt.Errorf("keyword search failed: %w", err)
		}
		keywordResults = results
		return nil
	})
	g.Go(func() error {
		queryEmbedding, err := h.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		results, err := h.vectorIndex.Search(gctx, queryEmbedding, limit)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		semanticResults = results
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := joinHits(keywordResults, semanticResults)
	keys := make([]models.PassageKey, 0, len(hits))
	for _, hit := range hits {
		keys = append(keys, hit.key)
	}
	passages, err := h.storage.GetPassages(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}

	out := make([]models.Candidate, 0, len(hits))
	for _, hit := range hits {
		p, ok := passages[hit.key]
		if !ok {
			h.logger.Debug("index hit without stored passage", zap.String("key", hit.key.String()))
			continue
		}
		out = append(out, models.Candidate{Passage: p, Semantic: hit.semantic, Lexical: hit.lexical})
	}
	return out, nil
}

// Add stores, embeds and indexes passages. Re-adding a key replaces the passage everywhere.
func (h *HybridIndex) Add(ctx context.Context, passages []models.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	if err := h.storage.BatchUpsertPassages(ctx, passages); err != nil {
		return fmt.Errorf("failed to store passages: %w", err)
	}
	texts := make([]string, len(passages))
	ids := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = embeddingText(p)
		ids[i] = p.Key().String()
	}
	embeddings, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if err := h.vectorIndex.Add(ctx, ids, embeddings); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	for i := range passages {
		if err := h.keywordIndex.Index(ctx, &passages[i]); err != nil {
			return fmt.Errorf("failed to index keywords for %s: %w", ids[i], err)
		}
	}
	h.logger.Debug("indexed passages", zap.Int("count", len(passages)))
	return nil
}

// Remove deletes a passage from storage and both indices.
func (h *HybridIndex) Remove(ctx context.Context, key models.PassageKey) error {
	var result *multierror.Error
	if err := h.storage.DeletePassage(ctx, key); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage: %w", err))
	}
	if err := h.vectorIndex.Remove(ctx, []string{key.String()}); err != nil {
		result = multierror.Append(result, fmt.Errorf("vector index: %w", err))
	}
	if err := h.keywordIndex.Delete(ctx, key); err != nil {
		result = multierror.Append(result, fmt.Errorf("keyword index: %w", err))
	}
	return result.ErrorOrNil()
}

// Count returns the number of stored passages.
func (h *HybridIndex) Count(ctx context.Context) (int64, error) {
	return h.storage.CountPassages(ctx)
}

// SaveVectors persists the vector index to path.
func (h *HybridIndex) SaveVectors(path string) error {
	return h.vectorIndex.Save(path)
}

// Close closes every underlying store and reports all failures.
func (h *HybridIndex) Close() error {
	var result *multierror.Error
	if err := h.keywordIndex.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("keyword index: %w", err))
	}
	if err := h.vectorIndex.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("vector index: %w", err))
	}
	if err := h.embedder.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("embedder: %w", err))
	}
	if err := h.storage.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("storage: %w", err))
	}
	return result.ErrorOrNil()
}

func embeddingText(p models.Passage) string {
	return strings.Join([]string{p.ActName, p.Title, p.Text}, " ")
}
