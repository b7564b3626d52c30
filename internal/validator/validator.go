// Package validator accepts a generated answer only when every citation it makes refers to a
// passage that was supplied to generation.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/nyaya/internal/generation"
	"github.com/hyperjump/nyaya/internal/messages"
	"github.com/hyperjump/nyaya/internal/models"
	"go.uber.org/zap"
)

// Outcome is the validator decision.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonKnowledgeGap      Reason = "knowledge_gap"
	ReasonUnmatchedCitation Reason = "unmatched_citation"
	ReasonMalformedCitation Reason = "malformed_citation"
	ReasonNoCitations       Reason = "no_citations"
	ReasonLowConfidence     Reason = "low_confidence"
)

// Config holds acceptance rules.
type Config struct {
	MinConfidence float64
	// RequireCitation rejects answers that cite nothing.
	RequireCitation bool
}

// DefaultConfig returns a 0.6 confidence floor with citations required.
func DefaultConfig() Config {
	return Config{MinConfidence: 0.6, RequireCitation: true}
}

// Verdict is the result of validating one candidate. Response is the knowledge-gap response
// when the candidate is rejected.
type Verdict struct {
	Outcome   Outcome
	Reason    Reason
	Response  models.LegalResponse
	Unmatched []models.PassageKey
}

// Validator checks candidates against the passages they were generated from.
type Validator struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a validator.
func New(cfg Config, opts ...Option) *Validator {
	v := &Validator{cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks c against passages and returns the response to deliver in lang.
func (v *Validator) Validate(c models.CandidateAnswer, passages []models.Passage, lang string) Verdict {
	if len(passages) == 0 {
		return v.reject(ReasonKnowledgeGap, lang, nil)
	}
	set := models.NewPassageSet(passages)

	keys, malformed := generation.ParseCitations(c.Text)
	if len(malformed) > 0 {
		return v.reject(ReasonMalformedCitation, lang, nil)
	}
	keys = union(keys, c.CitedPassages)

	var unmatched []models.PassageKey
	for _, k := range keys {
		if !set.Contains(k) {
			unmatched = append(unmatched, k)
		}
	}
	if len(unmatched) > 0 {
		return v.reject(ReasonUnmatchedCitation, lang, unmatched)
	}
	if v.cfg.RequireCitation && len(keys) == 0 {
		return v.reject(ReasonNoCitations, lang, nil)
	}
	if c.Confidence < v.cfg.MinConfidence {
		return v.reject(ReasonLowConfidence, lang, nil)
	}

	ref := make(map[models.PassageKey]int, len(keys))
	citations := make([]models.Citation, 0, len(keys))
	for i, k := range keys {
		ref[k] = i + 1
		p := set[k]
		citations = append(citations, models.Citation{Act: p.ActName, Section: p.Section, Title: p.Title, DocumentID: p.DocumentID})
	}
	text := generation.ReplaceMarkers(c.Text, func(k models.PassageKey) string {
		return fmt.Sprintf("[%d]", ref[k])
	})

	resp := Attach(models.LegalResponse{
		Kind:        models.KindAnswer,
		Answer:      tidy(text),
		Citations:   citations,
		Language:    lang,
		Confidence:  c.Confidence,
		GeneratedAt: v.now(),
	}, lang)
	return Verdict{Outcome: Accepted, Response: resp}
}

func (v *Validator) reject(reason Reason, lang string, unmatched []models.PassageKey) Verdict {
	v.logger.Debug("answer rejected", zap.String("reason", string(reason)), zap.Int("unmatched", len(unmatched)))
	resp := KnowledgeGap(lang)
	resp.GeneratedAt = v.now()
	return Verdict{Outcome: Rejected, Reason: reason, Response: resp, Unmatched: unmatched}
}

// KnowledgeGap returns the fixed limitation response in lang. It never carries citations.
func KnowledgeGap(lang string) models.LegalResponse {
	return Attach(models.LegalResponse{
		Kind:      models.KindKnowledgeGap,
		Answer:    messages.Text(messages.KnowledgeGap, lang),
		Citations: []models.Citation{},
		Language:  lang,
	}, lang)
}

// Attach sets the mandatory disclaimer and referral when they are missing.
func Attach(r models.LegalResponse, lang string) models.LegalResponse {
	if strings.TrimSpace(r.Disclaimer) == "" {
		r.Disclaimer = messages.Text(messages.Disclaimer, lang)
	}
	if strings.TrimSpace(r.Referral) == "" {
		r.Referral = messages.Text(messages.Referral, lang)
	}
	return r
}

func union(a, b []models.PassageKey) []models.PassageKey {
	seen := make(map[models.PassageKey]struct{}, len(a)+len(b))
	out := make([]models.PassageKey, 0, len(a)+len(b))
	for _, list := range [][]models.PassageKey{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// tidy removes the spaces left before punctuation and collapses repeated blanks.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		for _, p := range []string{".", ",", "?", "!", "।"} {
			l = strings.ReplaceAll(l, " "+p, p)
		}
		lines[i] = l
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
