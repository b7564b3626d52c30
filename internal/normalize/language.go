package normalize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// ErrUnsupportedLanguage is returned for explicit language tags the engine does not serve.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// LanguageSource records how the query language was decided.
type LanguageSource string

const (
	SourceExplicit LanguageSource = "explicit"
	SourceDetected LanguageSource = "detected"
	SourceDefault  LanguageSource = "default"
)

// DefaultLanguages are the languages served out of the box.
var DefaultLanguages = []string{"en", "hi", "mr", "bn", "gu", "pa", "ta", "te", "kn", "ml", "or", "ur"}

type scriptLang struct {
	table *unicode.RangeTable
	lang  string
}

// Devanagari is resolved separately (Hindi vs Marathi).
var scripts = []scriptLang{
	{unicode.Latin, "en"},
	{unicode.Bengali, "bn"},
	{unicode.Gujarati, "gu"},
	{unicode.Gurmukhi, "pa"},
	{unicode.Tamil, "ta"},
	{unicode.Telugu, "te"},
	{unicode.Kannada, "kn"},
	{unicode.Malayalam, "ml"},
	{unicode.Oriya, "or"},
	{unicode.Arabic, "ur"},
}

var marathiMarkers = map[string]struct{}{
	"आहे": {}, "आहेत": {}, "काय": {}, "मला": {}, "माझ्या": {}, "माझे": {}, "माझा": {}, "माझी": {},
	"आणि": {}, "नाही": {}, "कसे": {}, "करावे": {}, "होते": {}, "कोणते": {}, "तुम्ही": {}, "मी": {},
	"आम्ही": {}, "त्याने": {}, "कधी": {}, "कुठे": {}, "केले": {}, "पाहिजे": {},
}

var hindiMarkers = map[string]struct{}{
	"है": {}, "हैं": {}, "क्या": {}, "मुझे": {}, "मेरे": {}, "मेरा": {}, "मेरी": {}, "और": {},
	"नहीं": {}, "कैसे": {}, "का": {}, "की": {}, "के": {}, "में": {}, "मैं": {}, "हम": {},
	"आप": {}, "उसने": {}, "कब": {}, "कहाँ": {}, "किया": {}, "चाहिए": {}, "को": {}, "से": {},
}

// ParseLanguage canonicalizes an explicit BCP 47 tag to its base language code.
func ParseLanguage(tag string) (string, error) {
	t, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
	base, _ := t.Base()
	return base.String(), nil
}

// DetectLanguage guesses the language of text from its dominant script. ok is false when
// text contains no letters.
func DetectLanguage(text string, tokens []string) (lang string, ok bool) {
	counts := make(map[string]int)
	devanagari := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsMark(r) {
			continue
		}
		if unicode.Is(unicode.Devanagari, r) {
			devanagari++
			continue
		}
		for _, s := range scripts {
			if unicode.Is(s.table, r) {
				counts[s.lang]++
				break
			}
		}
	}

	best, bestCount := "", 0
	for _, s := range scripts {
		if n := counts[s.lang]; n > bestCount {
			best, bestCount = s.lang, n
		}
	}
	if devanagari > bestCount {
		return devanagariLanguage(tokens), true
	}
	if bestCount == 0 {
		return "", false
	}
	return best, true
}

// devanagariLanguage separates Marathi from Hindi by counting function words.
func devanagariLanguage(tokens []string) string {
	mr, hi := 0, 0
	for _, t := range tokens {
		if _, ok := marathiMarkers[t]; ok {
			mr++
		}
		if _, ok := hindiMarkers[t]; ok {
			hi++
		}
	}
	if mr > hi {
		return "mr"
	}
	return "hi"
}
