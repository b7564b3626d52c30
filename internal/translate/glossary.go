package translate

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Term is one legal concept with its canonical form per language and the variants or literal
// mistranslations that should be rewritten to it.
type Term struct {
	ID       string              `yaml:"id"`
	Forms    map[string]string   `yaml:"forms"`
	Variants map[string][]string `yaml:"variants"`
}

// Glossary is an immutable set of terms. Replace it wholesale to update.
type Glossary struct {
	Version string `yaml:"version"`
	Terms   []Term `yaml:"terms"`

	// per language: surface form -> term index, longest forms first
	surfaces map[string][]surface
}

type surface struct {
	text string
	term int
	re   *regexp.Regexp
}

// LoadGlossary reads a YAML glossary file.
func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read glossary: %w", err)
	}
	return ParseGlossary(data)
}

// ParseGlossary decodes and indexes a YAML glossary.
func ParseGlossary(data []byte) (*Glossary, error) {
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse glossary: %w", err)
	}
	for i, t := range g.Terms {
		if t.ID == "" {
			return nil, fmt.Errorf("glossary term %d: missing id", i)
		}
		if len(t.Forms) == 0 {
			return nil, fmt.Errorf("glossary term %q: no forms", t.ID)
		}
	}
	g.index()
	return &g, nil
}

// NewGlossary builds a glossary from terms.
func NewGlossary(terms ...Term) *Glossary {
	g := &Glossary{Terms: terms}
	g.index()
	return g
}

func (g *Glossary) index() {
	g.surfaces = make(map[string][]surface)
	for i, t := range g.Terms {
		for lang, form := range t.Forms {
			g.addSurface(lang, form, i)
		}
		for lang, vs := range t.Variants {
			for _, v := range vs {
				g.addSurface(lang, v, i)
			}
		}
	}
	for lang := range g.surfaces {
		s := g.surfaces[lang]
		sort.SliceStable(s, func(a, b int) bool { return len(s[a].text) > len(s[b].text) })
	}
}

func (g *Glossary) addSurface(lang, text string, term int) {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return
	}
	pattern := regexp.QuoteMeta(text)
	if isLatin(text) {
		pattern = "(?i)" + pattern
	}
	g.surfaces[lang] = append(g.surfaces[lang], surface{text: text, term: term, re: regexp.MustCompile(pattern)})
}

// Canonical returns the canonical form of term id in lang.
func (g *Glossary) Canonical(id, lang string) (string, bool) {
	if g == nil {
		return "", false
	}
	for _, t := range g.Terms {
		if t.ID == id {
			s, ok := t.Forms[lang]
			return s, ok
		}
	}
	return "", false
}

// Keywords returns every canonical form and variant, for extending the domain lexicon.
func (g *Glossary) Keywords() []string {
	if g == nil {
		return nil
	}
	var out []string
	for _, t := range g.Terms {
		for _, f := range t.Forms {
			out = append(out, f)
		}
		for _, vs := range t.Variants {
			out = append(out, vs...)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of terms.
func (g *Glossary) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Terms)
}

// match is a whole-word occurrence of a glossary surface form.
type match struct {
	start, end int
	term       int
}

// find returns non-overlapping whole-word matches of lang surface forms, preferring longer forms.
func (g *Glossary) find(text, lang string) []match {
	if g == nil {
		return nil
	}
	var out []match
	taken := func(s, e int) bool {
		for _, m := range out {
			if s < m.end && e > m.start {
				return true
			}
		}
		return false
	}
	for _, s := range g.surfaces[lang] {
		for _, loc := range s.re.FindAllStringIndex(text, -1) {
			if !wordBoundary(text, loc[0], loc[1]) || taken(loc[0], loc[1]) {
				continue
			}
			out = append(out, match{start: loc[0], end: loc[1], term: s.term})
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].start < out[b].start })
	return out
}

// replace substitutes each match with repl(term index).
func replace(text string, matches []match, repl func(term int, original string) string) string {
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.start])
		b.WriteString(repl(m.term, text[m.start:m.end]))
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) || r == '_'
}

func isLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}
