package normalize

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// defaultLegalTerms are single-token and multi-token legal cues in English, Hindi and Marathi.
var defaultLegalTerms = []string{
	// en
	"law", "laws", "legal", "legally", "illegal", "section", "article", "clause", "court", "judge",
	"lawyer", "advocate", "police", "fir", "complaint", "bail", "arrest", "arrested", "rights",
	"tenant", "landlord", "rent", "lease", "eviction", "evict", "deposit", "property", "inheritance",
	"divorce", "marriage", "custody", "maintenance", "alimony", "dowry", "contract", "agreement",
	"employer", "employee", "employment", "worker", "workers", "wage", "wages", "salary", "labour", "labor", "consumer", "refund", "warranty", "fraud", "cheating",
	"theft", "assault", "harassment", "defamation", "penalty", "punishment", "offence", "offense",
	"crime", "criminal", "civil", "petition", "appeal", "hearing", "summons", "notice", "rti", "tax",
	"pension", "gratuity", "compensation", "insurance", "cyber", "ipc", "crpc", "bns", "constitution",
	"fundamental", "violence", "sue", "sued", "lawsuit", "warrant", "evidence", "witness", "tribunal",
	"statute", "regulation", "liable", "liability", "bribe", "dismissal",
	"legal aid", "minimum wage", "last will", "fundamental right", "domestic violence", "consumer protection", "sexual harassment", "security deposit",
	// hi
	"कानून", "कानूनी", "अधिनियम", "धारा", "अनुच्छेद", "अदालत", "न्यायालय", "वकील", "पुलिस", "शिकायत",
	"जमानत", "गिरफ्तारी", "अधिकार", "किरायेदार", "किराया", "बेदखली", "संपत्ति", "विरासत", "वसीयत",
	"तलाक", "विवाह", "शादी", "दहेज", "अनुबंध", "मजदूरी", "वेतन", "उपभोक्ता", "धोखाधड़ी", "चोरी",
	"उत्पीड़न", "जुर्माना", "सजा", "अपराध", "मुकदमा", "याचिका", "अपील", "सूचना", "मुआवजा", "संविधान",
	"हिंसा", "एफआईआर", "नोटिस", "मकान मालिक", "घरेलू हिंसा",
	// mr
	"कायदा", "कायदेशीर", "कलम", "पोलीस", "तक्रार", "जामीन", "अटक", "हक्क", "भाडेकरू", "घरमालक",
	"भाडे", "मालमत्ता", "वारसा", "मृत्युपत्र", "घटस्फोट", "हुंडा", "करार", "पगार", "ग्राहक", "फसवणूक",
	"छळ", "दंड", "शिक्षा", "गुन्हा", "खटला", "माहिती", "नुकसानभरपाई", "हिंसाचार", "अधिकारी",
}

// stopwords are excluded when counting content tokens.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "am": {}, "are": {}, "was": {}, "were": {}, "be": {}, "to": {},
	"of": {}, "in": {}, "on": {}, "for": {}, "my": {}, "me": {}, "i": {}, "you": {}, "your": {}, "it": {},
	"and": {}, "or": {}, "what": {}, "how": {}, "can": {}, "do": {}, "does": {}, "about": {}, "with": {},
	"this": {}, "that": {}, "hi": {}, "hello": {}, "hey": {}, "please": {}, "tell": {}, "ok": {}, "okay": {},
	"thanks": {}, "thank": {}, "so": {}, "if": {}, "at": {}, "by": {}, "from": {}, "he": {}, "she": {},
	"s": {}, "t": {}, "they": {}, "we": {}, "us": {}, "our": {}, "his": {}, "her": {}, "their": {}, "there": {}, "any": {},
	"है": {}, "हैं": {}, "क्या": {}, "मुझे": {}, "मेरे": {}, "मेरा": {}, "मेरी": {}, "और": {}, "का": {},
	"की": {}, "के": {}, "में": {}, "मैं": {}, "को": {}, "से": {}, "पर": {}, "यह": {}, "वह": {}, "नमस्ते": {},
	"आहे": {}, "आहेत": {}, "काय": {}, "मला": {}, "माझ्या": {}, "माझे": {}, "आणि": {}, "मी": {}, "ला": {},
	"नमस्कार": {},
}

var interrogatives = map[string]struct{}{
	"what": {}, "how": {}, "can": {}, "is": {}, "am": {}, "are": {}, "do": {}, "does": {}, "should": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {}, "could": {}, "may": {},
	"must": {}, "क्या": {}, "कैसे": {}, "कब": {}, "कहाँ": {}, "कौन": {}, "क्यों": {}, "काय": {}, "कसे": {},
	"कधी": {}, "कुठे": {}, "कोण": {}, "कोणते": {},
}

var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(section|sec\.?|s\.)\s*\d+[a-z]?\b`),
	regexp.MustCompile(`\barticle\s*\d+[a-z]?\b`),
	regexp.MustCompile(`\b[a-z]+\s+act\s*,?\s*\d{4}\b`),
	regexp.MustCompile(`\b(protection|rights|prevention|procedure|contract|marriage|succession|tenancy|rent|consumer|information|evidence|companies|disputes|wages|maintenance|technology)\s+act\b`),
	regexp.MustCompile(`\b(ipc|crpc|cpc|bns|bnss|bsa|rti|posh|pocso|ndps|rera)\b`),
	regexp.MustCompile(`\b(supreme|high|district|family|consumer|sessions)\s+court\b`),
	regexp.MustCompile(`(धारा|कलम|अनुच्छेद)\s*\d+`),
	regexp.MustCompile(`(\S+\s+){0,3}(अधिनियम|कायदा)\s*,?\s*\d{4}`),
}

// Lexicon matches legal terms in token streams. Safe for concurrent use.
type Lexicon struct {
	mu      sync.RWMutex
	single  map[string]struct{}
	phrases map[string][][]string // first token -> remaining tokens of each phrase
	byLen   map[int][]string      // single terms by rune length, for fuzzy matching
}

// NewLexicon returns a lexicon with the default legal terms plus extra.
func NewLexicon(extra ...string) *Lexicon {
	l := &Lexicon{
		single:  make(map[string]struct{}),
		phrases: make(map[string][][]string),
		byLen:   make(map[int][]string),
	}
	l.Add(defaultLegalTerms...)
	l.Add(extra...)
	return l
}

// Add registers terms. Multi-word terms match as contiguous token sequences.
func (l *Lexicon) Add(terms ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, term := range terms {
		toks := Tokenize(strings.ToLower(norm.NFKC.String(term)))
		switch len(toks) {
		case 0:
			continue
		case 1:
			if _, ok := l.single[toks[0]]; !ok {
				l.single[toks[0]] = struct{}{}
				n := len([]rune(toks[0]))
				l.byLen[n] = append(l.byLen[n], toks[0])
			}
		default:
			l.phrases[toks[0]] = append(l.phrases[toks[0]], toks[1:])
		}
	}
}

// Match returns the distinct legal terms found in tokens. Tokens of at least fuzzyMin runes
// also match terms within edit distance one; fuzzyMin <= 0 disables fuzzy matching.
func (l *Lexicon) Match(tokens []string, fuzzyMin int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[string]struct{})
	var hits []string
	add := func(term string) {
		if _, ok := seen[term]; !ok {
			seen[term] = struct{}{}
			hits = append(hits, term)
		}
	}
	for i, tok := range tokens {
		for _, rest := range l.phrases[tok] {
			if hasPrefix(tokens[i+1:], rest) {
				add(tok + " " + strings.Join(rest, " "))
			}
		}
		if _, ok := l.single[tok]; ok {
			add(tok)
			continue
		}
		if fuzzyMin > 0 {
			if term, ok := l.fuzzyLocked(tok, fuzzyMin); ok {
				add(term)
			}
		}
	}
	return hits
}

func (l *Lexicon) fuzzyLocked(tok string, fuzzyMin int) (string, bool) {
	n := len([]rune(tok))
	if n < fuzzyMin {
		return "", false
	}
	for _, size := range []int{n, n - 1, n + 1} {
		if size < fuzzyMin {
			continue
		}
		for _, term := range l.byLen[size] {
			if LevenshteinDistance(tok, term) <= 1 {
				return term, true
			}
		}
	}
	return "", false
}

func hasPrefix(tokens, prefix []string) bool {
	if len(tokens) < len(prefix) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

// findEntities returns named legal references in lowercased text.
func findEntities(text string) []string {
	var out []string
	for _, re := range entityPatterns {
		for _, m := range re.FindAllString(text, -1) {
			out = append(out, strings.TrimSpace(m))
		}
	}
	return out
}
