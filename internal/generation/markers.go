package generation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperjump/nyaya/internal/models"
)

var (
	markerRe     = regexp.MustCompile(`\[\[\s*cite\s*:\s*([^\]]*?)\s*\]\]`)
	confidenceRe = regexp.MustCompile(`(?im)^[ \t*_>-]*confidence[ \t*_]*[:=][ \t*_]*([0-9]*\.?[0-9]+)[ \t]*(%?)[ \t*_.]*$`)
)

// Marker renders the citation marker for a passage key.
func Marker(k models.PassageKey) string {
	return "[[cite:" + k.String() + "]]"
}

// ParseCitations returns the passage keys of every citation marker in text, deduplicated in
// order of first appearance. Markers whose body is not documentId#section are returned in
// malformed.
func ParseCitations(text string) (keys []models.PassageKey, malformed []string) {
	seen := make(map[models.PassageKey]struct{})
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		k, ok := models.ParsePassageKey(m[1])
		if !ok {
			malformed = append(malformed, m[0])
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, malformed
}

// ReplaceMarkers rewrites each marker with repl(key). Malformed markers are passed to repl as
// the zero key.
func ReplaceMarkers(text string, repl func(models.PassageKey) string) string {
	return markerRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerRe.FindStringSubmatch(m)
		k, _ := models.ParsePassageKey(sub[1])
		return repl(k)
	})
}

// ExtractConfidence finds the last CONFIDENCE line, removes every such line from text and
// returns the value clamped to [0,1]. Percentages and values above one are read as percent.
func ExtractConfidence(text string) (body string, confidence float64, ok bool) {
	matches := confidenceRe.FindAllStringSubmatch(text, -1)
	body = strings.TrimSpace(confidenceRe.ReplaceAllString(text, ""))
	if len(matches) == 0 {
		return body, 0, false
	}
	last := matches[len(matches)-1]
	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return body, 0, false
	}
	if last[2] == "%" || v > 1 {
		v /= 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return body, v, true
}

// SplitSentences splits text at '.', '?', '!', the danda and line breaks. Citation markers
// that directly follow a terminator stay with the sentence before it. Fragments with no
// letters or digits outside markers are dropped.
func SplitSentences(text string) []string {
	var out []string
	flush := func(s string) {
		if hasContent(markerRe.ReplaceAllString(s, "")) {
			out = append(out, strings.TrimSpace(s))
		}
	}

	rs := []rune(text)
	start := 0
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if !isTerminator(r) {
			continue
		}
		if r == '.' && i+1 < len(rs) && isDigit(rs[i+1]) && i > 0 && isDigit(rs[i-1]) {
			continue // decimal, as in "section 4.2"
		}
		end := i + 1
		for end < len(rs) && isTerminator(rs[end]) && rs[end] != '\n' {
			end++
		}
		end = absorbMarkers(rs, end)
		flush(string(rs[start:end]))
		start = end
		i = end - 1
	}
	if start < len(rs) {
		flush(string(rs[start:]))
	}
	return out
}

func absorbMarkers(rs []rune, pos int) int {
	for {
		j := pos
		for j < len(rs) && (rs[j] == ' ' || rs[j] == '\t') {
			j++
		}
		loc := markerRe.FindStringIndex(string(rs[j:]))
		if loc == nil || loc[0] != 0 {
			return pos
		}
		pos = j + len([]rune(string(rs[j:])[:loc[1]]))
	}
}

// Coverage returns the fraction of sentences that carry at least one well-formed marker.
func Coverage(text string) float64 {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return 0
	}
	cited := 0
	for _, s := range sentences {
		if keys, _ := ParseCitations(s); len(keys) > 0 {
			cited++
		}
	}
	return float64(cited) / float64(len(sentences))
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '?', '!', '।', '\n':
		return true
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func hasContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
