// Package generation builds grounded prompts, calls the generation service and scores the
// citations in its answer.
package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/llm"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/pkg/utils"
	"go.uber.org/zap"
)

// ErrGenerationUnavailable is returned when the generation service fails, times out or is
// short-circuited.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// ErrNoPassages is returned when Generate is asked to answer without sources.
var ErrNoPassages = errors.New("no passages to ground on")

// Config weighs the model's own confidence against citation coverage.
type Config struct {
	ModelWeight            float64
	CoverageWeight         float64
	DefaultModelConfidence float64
	MaxPassageChars        int
}

// DefaultConfig returns equal weights and a neutral default model confidence.
func DefaultConfig() Config {
	return Config{ModelWeight: 0.5, CoverageWeight: 0.5, DefaultModelConfidence: 0.5, MaxPassageChars: 2000}
}

// Caller runs a call to an external service under circuit breaking.
type Caller interface {
	Call(ctx context.Context, s health.Service, fn func(ctx context.Context) error) error
}

type directCaller struct{}

func (directCaller) Call(ctx context.Context, _ health.Service, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Engine produces candidate answers.
type Engine struct {
	completer llm.Completer
	caller    Caller
	cfg       Config
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCaller routes completions through c, normally the degradation controller.
func WithCaller(c Caller) Option {
	return func(e *Engine) { e.caller = c }
}

// NewEngine creates a generation engine.
func NewEngine(completer llm.Completer, cfg Config, opts ...Option) *Engine {
	if cfg.ModelWeight+cfg.CoverageWeight <= 0 {
		def := DefaultConfig()
		cfg.ModelWeight, cfg.CoverageWeight = def.ModelWeight, def.CoverageWeight
	}
	e := &Engine{completer: completer, caller: directCaller{}, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate answers query in lang from passages. Any failure of the service is reported as
// ErrGenerationUnavailable wrapping the cause.
func (e *Engine) Generate(ctx context.Context, query string, passages []models.Passage, lang string) (models.CandidateAnswer, error) {
	if len(passages) == 0 {
		return models.CandidateAnswer{}, ErrNoPassages
	}
	prompt := BuildPrompt(query, passages, lang, e.cfg.MaxPassageChars)

	var completion llm.Completion
	err := e.caller.Call(ctx, health.ServiceGeneration, func(ctx context.Context) error {
		var err error
		completion, err = e.completer.Complete(ctx, prompt)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.CandidateAnswer{}, ctx.Err()
		}
		return models.CandidateAnswer{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	answer := Score(completion.Text, e.cfg)
	answer.Language = lang
	answer.TokensUsed = completion.PromptTokens + completion.CompletionTokens
	e.logger.Debug("answer generated",
		zap.Int("citations", len(answer.CitedPassages)),
		zap.Float64("coverage", answer.CitationCoverage),
		zap.Float64("confidence", answer.Confidence))
	return answer, nil
}

// Score parses raw model output into a candidate answer: it strips the confidence line,
// collects citations and combines model confidence with citation coverage.
func Score(raw string, cfg Config) models.CandidateAnswer {
	body, modelConf, ok := ExtractConfidence(raw)
	if !ok {
		modelConf = cfg.DefaultModelConfidence
	}
	keys, _ := ParseCitations(body)
	coverage := Coverage(body)

	total := cfg.ModelWeight + cfg.CoverageWeight
	conf := 0.0
	if total > 0 {
		conf = (cfg.ModelWeight*modelConf + cfg.CoverageWeight*coverage) / total
	}
	return models.CandidateAnswer{
		Text:             body,
		CitedPassages:    keys,
		ModelConfidence:  modelConf,
		CitationCoverage: coverage,
		Confidence:       utils.Clamp01(conf),
	}
}
