// Package translate crosses the language boundary around retrieval and generation while keeping
// legal terms fixed to their canonical translations.
package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/remote"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// ErrUnavailable is returned when no machine-translation service is configured.
var ErrUnavailable = errors.New("translation unavailable")

// MachineTranslator is the machine-translation collaborator.
type MachineTranslator interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Caller runs a call to an external service under circuit breaking.
type Caller interface {
	Call(ctx context.Context, s health.Service, fn func(ctx context.Context) error) error
}

type directCaller struct{}

func (directCaller) Call(ctx context.Context, _ health.Service, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var placeholderRe = regexp.MustCompile(`\[\[\s*term\s*:\s*(\d+)\s*\]\]`)

// Translator translates text through a MachineTranslator, protecting glossary terms and caching
// results until the glossary changes.
type Translator struct {
	mt     MachineTranslator
	caller Caller
	mu     sync.RWMutex
	gloss  *Glossary
	// gen counts glossary swaps. It is part of every cache key, so a translation that was
	// in flight during a swap is stored under a key no reader asks for.
	gen    uint64
	cache  *gocache.Cache
	logger *zap.Logger
}

// Option configures a Translator.
type Option func(*Translator)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// WithCaller routes translation calls through c, normally the degradation controller.
func WithCaller(c Caller) Option {
	return func(t *Translator) { t.caller = c }
}

// New creates a translator. mt may be nil, in which case only identity translations succeed.
func New(mt MachineTranslator, g *Glossary, opts ...Option) *Translator {
	if g == nil {
		g = NewGlossary()
	}
	t := &Translator{
		mt:     mt,
		caller: directCaller{},
		gloss:  g,
		cache:  gocache.New(gocache.NoExpiration, 0),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Available reports whether a machine-translation service is configured.
func (t *Translator) Available() bool {
	return t.mt != nil
}

// Glossary returns the current glossary.
func (t *Translator) Glossary() *Glossary {
	g, _ := t.current()
	return g
}

func (t *Translator) current() (*Glossary, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gloss, t.gen
}

// SetGlossary replaces the glossary and invalidates cached translations.
func (t *Translator) SetGlossary(g *Glossary) {
	if g == nil {
		g = NewGlossary()
	}
	t.mu.Lock()
	t.gloss = g
	t.gen++
	t.mu.Unlock()
	t.Invalidate()
	t.logger.Info("glossary updated", zap.Int("terms", g.Len()), zap.String("version", g.Version))
}

// Invalidate drops every cached translation.
func (t *Translator) Invalidate() {
	t.cache.Flush()
}

// CacheLen returns the number of cached translations.
func (t *Translator) CacheLen() int {
	return t.cache.ItemCount()
}

// CacheKey identifies a translation by text hash and language pair.
func CacheKey(text, src, dst string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + "|" + src + "|" + dst
}

// Translate returns text rendered in dst. Identical languages return text unchanged.
func (t *Translator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	if src == dst || strings.TrimSpace(text) == "" {
		return text, nil
	}
	if t.mt == nil {
		return "", ErrUnavailable
	}
	g, gen := t.current()
	key := strconv.FormatUint(gen, 10) + "|" + CacheKey(text, src, dst)
	if v, ok := t.cache.Get(key); ok {
		return v.(string), nil
	}

	protected, terms := protect(norm.NFC.String(text), g, src)

	var out string
	err := t.caller.Call(ctx, health.ServiceTranslation, func(ctx context.Context) error {
		var err error
		out, err = t.mt.Translate(ctx, protected, src, dst)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", src, dst, err)
	}

	out = restore(out, g, terms, dst)
	out = PreserveTerms(out, g, dst)
	t.cache.Set(key, out, gocache.NoExpiration)
	return out, nil
}

// PreserveTerms rewrites known variants and literal mistranslations of glossary terms in text
// to their canonical form in lang. Matching is whole-word, and case-insensitive for Latin script.
func PreserveTerms(text string, g *Glossary, lang string) string {
	text = norm.NFC.String(text)
	matches := g.find(text, lang)
	return replace(text, matches, func(term int, original string) string {
		if canon, ok := g.Terms[term].Forms[lang]; ok && !strings.EqualFold(canon, original) {
			return canon
		}
		return original
	})
}

// PreserveTerms applies the current glossary.
func (t *Translator) PreserveTerms(text, lang string) string {
	return PreserveTerms(text, t.Glossary(), lang)
}

// protected records the source text behind each placeholder.
type protected struct {
	term     int
	original string
}

// protect swaps glossary terms in src-language text for numbered placeholders.
func protect(text string, g *Glossary, src string) (string, []protected) {
	var terms []protected
	out := replace(text, g.find(text, src), func(term int, original string) string {
		terms = append(terms, protected{term: term, original: original})
		return "[[term:" + strconv.Itoa(len(terms)-1) + "]]"
	})
	return out, terms
}

// restore puts the canonical dst form (or the original text when the term has none) back in
// place of each placeholder.
func restore(text string, g *Glossary, terms []protected, dst string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(placeholderRe.FindStringSubmatch(m)[1])
		if err != nil || n < 0 || n >= len(terms) {
			return m
		}
		p := terms[n]
		if canon, ok := g.Terms[p.term].Forms[dst]; ok {
			return canon
		}
		return p.original
	})
}

type mtRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type mtResponse struct {
	Text string `json:"text"`
}

// HTTPTranslator calls a JSON machine-translation endpoint.
type HTTPTranslator struct {
	client *remote.Client
}

// NewHTTPTranslator creates a machine translator over client.
func NewHTTPTranslator(client *remote.Client) *HTTPTranslator {
	return &HTTPTranslator{client: client}
}

// Translate posts text to the translate endpoint.
func (h *HTTPTranslator) Translate(ctx context.Context, text, src, dst string) (string, error) {
	var out mtResponse
	if err := h.client.PostJSON(ctx, "translate", mtRequest{Text: text, Source: src, Target: dst}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", errors.New("empty translation")
	}
	return out.Text, nil
}
