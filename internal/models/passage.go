package models

import "strings"

// PassageKey is the stable identity of a legal passage: documentId plus section.
type PassageKey struct {
	DocumentID string `json:"document_id"`
	Section    string `json:"section"`
}

// String renders the key as documentId#section.
func (k PassageKey) String() string {
	return k.DocumentID + "#" + k.Section
}

// IsZero reports whether the key is empty.
func (k PassageKey) IsZero() bool {
	return k.DocumentID == "" && k.Section == ""
}

// ParsePassageKey parses documentId#section. Both parts must be non-empty.
func ParsePassageKey(s string) (PassageKey, bool) {
	doc, section, ok := strings.Cut(strings.TrimSpace(s), "#")
	doc = strings.TrimSpace(doc)
	section = strings.TrimSpace(section)
	if !ok || doc == "" || section == "" {
		return PassageKey{}, false
	}
	return PassageKey{DocumentID: doc, Section: section}, true
}

// Passage is a retrieved statute or regulation excerpt. Scores are set by retrieval
// and are zero for passages read straight from storage.
type Passage struct {
	DocumentID    string  `json:"document_id" yaml:"document_id"`
	ActName       string  `json:"act_name" yaml:"act_name"`
	Section       string  `json:"section" yaml:"section"`
	Title         string  `json:"title" yaml:"title"`
	Text          string  `json:"text" yaml:"text"`
	Language      string  `json:"language" yaml:"language"`
	SourceVersion string  `json:"source_version,omitempty" yaml:"source_version"`
	Relevance     float64 `json:"relevance_score" yaml:"-"`
	Lexical       float64 `json:"lexical_score" yaml:"-"`
	Combined      float64 `json:"combined_score" yaml:"-"`
}

// Key returns the passage identity.
func (p Passage) Key() PassageKey {
	return PassageKey{DocumentID: p.DocumentID, Section: p.Section}
}

// Candidate is a raw hit from a retrieval index before fusion: semantic similarity in [0,1]
// and an unnormalized lexical score.
type Candidate struct {
	Passage  Passage `json:"passage"`
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

// PassageSet indexes passages by key for membership checks.
type PassageSet map[PassageKey]Passage

// NewPassageSet builds a set from passages. Later duplicates do not replace earlier entries.
func NewPassageSet(passages []Passage) PassageSet {
	set := make(PassageSet, len(passages))
	for _, p := range passages {
		if _, ok := set[p.Key()]; !ok {
			set[p.Key()] = p
		}
	}
	return set
}

// Contains reports whether key is in the set.
func (s PassageSet) Contains(key PassageKey) bool {
	_, ok := s[key]
	return ok
}
