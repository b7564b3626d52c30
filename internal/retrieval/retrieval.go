// Package retrieval ranks passages from a hybrid index by a weighted blend of semantic and
// lexical relevance.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/pkg/utils"
	"go.uber.org/zap"
)

// ErrKnowledgeGap means no passage cleared the relevance threshold. It is an outcome, not a
// dependency failure.
var ErrKnowledgeGap = errors.New("knowledge gap: no sufficiently relevant passages")

// Index is the hybrid search collaborator.
type Index interface {
	Search(ctx context.Context, query string, limit int) ([]models.Candidate, error)
}

// Caller runs a call to an external service under circuit breaking.
type Caller interface {
	Call(ctx context.Context, s health.Service, fn func(ctx context.Context) error) error
}

type directCaller struct{}

func (directCaller) Call(ctx context.Context, _ health.Service, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Config holds fusion weights and limits.
type Config struct {
	SemanticWeight float64
	LexicalWeight  float64
	MinRelevance   float64
	// LexicalSaturation is the raw lexical score that maps to 0.5. Lexical scores are
	// saturated as s/(s+LexicalSaturation) so a weak hit stays weak whatever else matched.
	LexicalSaturation float64
	TopK              int
	// Candidates is how many raw hits to request from the index.
	Candidates int
}

// DefaultConfig returns semantic-heavy defaults.
func DefaultConfig() Config {
	return Config{SemanticWeight: 0.7, LexicalWeight: 0.3, MinRelevance: 0.35, LexicalSaturation: 1, TopK: 5, Candidates: 50}
}

// Engine retrieves ranked passages.
type Engine struct {
	index  Index
	caller Caller
	cfg    Config
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCaller routes index calls through c, normally the degradation controller.
func WithCaller(c Caller) Option {
	return func(e *Engine) { e.caller = c }
}

// NewEngine creates a retrieval engine over index.
func NewEngine(index Index, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.SemanticWeight+cfg.LexicalWeight <= 0 {
		cfg.SemanticWeight, cfg.LexicalWeight = def.SemanticWeight, def.LexicalWeight
	}
	if cfg.LexicalSaturation <= 0 {
		cfg.LexicalSaturation = def.LexicalSaturation
	}
	e := &Engine{index: index, caller: directCaller{}, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns at most k passages (TopK when k <= 0) ordered by combined score.
// It returns ErrKnowledgeGap when nothing clears MinRelevance.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	limit := max(e.cfg.Candidates, k)

	var candidates []models.Candidate
	err := e.caller.Call(ctx, health.ServiceRetrieval, func(ctx context.Context) error {
		var err error
		candidates, err = e.index.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	passages := Fuse(candidates, e.cfg, k)
	e.logger.Debug("retrieval fused",
		zap.Int("candidates", len(candidates)),
		zap.Int("passages", len(passages)))
	if len(passages) == 0 {
		return nil, ErrKnowledgeGap
	}
	return passages, nil
}

// Fuse scores candidates and returns the top k above cfg.MinRelevance.
//
// Lexical scores are saturated on an absolute scale, s/(s+LexicalSaturation); semantic scores
// are clamped to [0,1]. The combined score is the weight-normalized sum of the two. Candidates
// sharing a documentId#section keep only their best-scoring entry. Ties order by key.
func Fuse(candidates []models.Candidate, cfg Config, k int) []models.Passage {
	if len(candidates) == 0 || k <= 0 {
		return nil
	}
	sat := cfg.LexicalSaturation
	if sat <= 0 {
		sat = DefaultConfig().LexicalSaturation
	}
	wsum := cfg.SemanticWeight + cfg.LexicalWeight
	if wsum <= 0 {
		return nil
	}

	best := make(map[models.PassageKey]models.Passage, len(candidates))
	for _, c := range candidates {
		p := c.Passage
		if p.Key().IsZero() {
			continue
		}
		p.Relevance = utils.Clamp01(c.Semantic)
		p.Lexical = 0
		if c.Lexical > 0 {
			p.Lexical = c.Lexical / (c.Lexical + sat)
		}
		p.Combined = (cfg.SemanticWeight*p.Relevance + cfg.LexicalWeight*p.Lexical) / wsum
		if prev, ok := best[p.Key()]; !ok || p.Combined > prev.Combined {
			best[p.Key()] = p
		}
	}

	out := make([]models.Passage, 0, len(best))
	for _, p := range best {
		if p.Combined >= cfg.MinRelevance {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
