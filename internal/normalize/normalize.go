// Package normalize detects query language and classifies whether a query is a legal
// question the engine should try to answer.
package normalize

import (
	"errors"
	"strings"
	"unicode"

	"github.com/hyperjump/nyaya/internal/models"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyQuery is returned when a query has no usable text.
var ErrEmptyQuery = errors.New("empty query")

// Domain is the outcome of intent classification.
type Domain string

const (
	DomainIn          Domain = "in"
	DomainAmbiguous   Domain = "ambiguous"
	DomainOutOfDomain Domain = "out_of_domain"
)

// Policy sets the boundary between in-domain, ambiguous and out-of-domain queries.
//
// A query with fewer than MinTokens content tokens is ambiguous. A query with no legal
// term and no legal entity is out of domain. Otherwise its score is
//
//	KeywordWeight*density + QuestionWeight*question + EntityWeight*entity
//
// where density is min(1, 2*legalTerms/contentTokens). Queries scoring below
// InDomainThreshold are ambiguous, as are statements (not questions) shorter than
// MinSpecificTokens that name no legal entity.
type Policy struct {
	MinTokens         int
	MinSpecificTokens int
	InDomainThreshold float64
	KeywordWeight     float64
	QuestionWeight    float64
	EntityWeight      float64
	// FuzzyMinLength is the shortest token matched against the lexicon with one typo.
	// Zero disables fuzzy matching.
	FuzzyMinLength int
}

// DefaultPolicy returns the default classifier policy.
func DefaultPolicy() Policy {
	return Policy{
		MinTokens:         2,
		MinSpecificTokens: 3,
		InDomainThreshold: 0.3,
		KeywordWeight:     0.6,
		QuestionWeight:    0.15,
		EntityWeight:      0.25,
		FuzzyMinLength:    6,
	}
}

// Signals are the classifier inputs observed for one query.
type Signals struct {
	ContentTokens int
	LegalTerms    []string
	Entities      []string
	Question      bool
	Score         float64
}

// Result is a normalized, classified query.
type Result struct {
	// Text is the NFKC-normalized query with collapsed whitespace, suitable for prompts.
	Text string
	// Normalized is the lowercase token form used for cache fingerprints.
	Normalized     string
	Tokens         []string
	Language       string
	LanguageSource LanguageSource
	Domain         Domain
	Signals        Signals
}

// Normalizer classifies queries. It never calls external services.
type Normalizer struct {
	policy      Policy
	lexicon     *Lexicon
	supported   map[string]struct{}
	defaultLang string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLexicon replaces the default legal lexicon.
func WithLexicon(l *Lexicon) Option {
	return func(n *Normalizer) { n.lexicon = l }
}

// WithSupportedLanguages restricts the languages accepted from explicit tags.
func WithSupportedLanguages(langs ...string) Option {
	return func(n *Normalizer) {
		n.supported = make(map[string]struct{}, len(langs))
		for _, l := range langs {
			n.supported[l] = struct{}{}
		}
	}
}

// WithDefaultLanguage sets the language used when none is given or detectable.
func WithDefaultLanguage(lang string) Option {
	return func(n *Normalizer) { n.defaultLang = lang }
}

// New creates a Normalizer.
func New(policy Policy, opts ...Option) *Normalizer {
	n := &Normalizer{policy: policy, defaultLang: "en"}
	for _, opt := range opts {
		opt(n)
	}
	if n.lexicon == nil {
		n.lexicon = NewLexicon()
	}
	if n.supported == nil {
		WithSupportedLanguages(DefaultLanguages...)(n)
	}
	return n
}

// Lexicon returns the lexicon in use, so callers can register glossary terms.
func (n *Normalizer) Lexicon() *Lexicon {
	return n.lexicon
}

// DefaultLanguage is the language used when none is given or detectable.
func (n *Normalizer) DefaultLanguage() string {
	return n.defaultLang
}

// Supports reports whether lang is served.
func (n *Normalizer) Supports(lang string) bool {
	_, ok := n.supported[lang]
	return ok
}

// Normalize normalizes q's text, decides its language and classifies its domain.
func (n *Normalizer) Normalize(q models.Query) (Result, error) {
	text := strings.Join(strings.Fields(norm.NFKC.String(q.Text)), " ")
	lower := strings.ToLower(text)
	tokens := Tokenize(lower)
	if len(tokens) == 0 {
		return Result{}, ErrEmptyQuery
	}

	res := Result{Text: text, Normalized: strings.Join(tokens, " "), Tokens: tokens}
	lang, src, err := n.language(q.Language, text, tokens)
	if err != nil {
		return Result{}, err
	}
	res.Language, res.LanguageSource = lang, src
	res.Signals = n.signals(lower, tokens)
	res.Domain = n.classify(&res.Signals)
	return res, nil
}

func (n *Normalizer) language(tag, text string, tokens []string) (string, LanguageSource, error) {
	if strings.TrimSpace(tag) != "" {
		lang, err := ParseLanguage(tag)
		if err != nil {
			return "", "", err
		}
		if !n.Supports(lang) {
			return "", "", ErrUnsupportedLanguage
		}
		return lang, SourceExplicit, nil
	}
	if lang, ok := DetectLanguage(text, tokens); ok && n.Supports(lang) {
		return lang, SourceDetected, nil
	}
	return n.defaultLang, SourceDefault, nil
}

func (n *Normalizer) signals(lower string, tokens []string) Signals {
	var s Signals
	for _, t := range tokens {
		if _, stop := stopwords[t]; !stop {
			s.ContentTokens++
		}
	}
	s.LegalTerms = n.lexicon.Match(tokens, n.policy.FuzzyMinLength)
	s.Entities = findEntities(lower)
	s.Question = isQuestion(lower, tokens)
	return s
}

func (n *Normalizer) classify(s *Signals) Domain {
	p := n.policy
	if s.ContentTokens < p.MinTokens {
		return DomainAmbiguous
	}
	if len(s.LegalTerms) == 0 && len(s.Entities) == 0 {
		return DomainOutOfDomain
	}

	density := min(1, 2*float64(len(s.LegalTerms))/float64(s.ContentTokens))
	s.Score = p.KeywordWeight * density
	if s.Question {
		s.Score += p.QuestionWeight
	}
	if len(s.Entities) > 0 {
		s.Score += p.EntityWeight
	}
	if s.Score < p.InDomainThreshold {
		return DomainAmbiguous
	}
	if s.ContentTokens < p.MinSpecificTokens && len(s.Entities) == 0 && !s.Question {
		return DomainAmbiguous
	}
	return DomainIn
}

func isQuestion(lower string, tokens []string) bool {
	if strings.HasSuffix(lower, "?") || strings.HasSuffix(lower, "؟") {
		return true
	}
	_, ok := interrogatives[tokens[0]]
	return ok
}

// Tokenize splits text into runs of letters, combining marks and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsMark(r) && !unicode.IsNumber(r)
	})
}
