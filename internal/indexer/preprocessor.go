package indexer

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// invisible runes dropped from passage text. Zero-width joiners are kept; Indic scripts need them.
var invisible = strings.NewReplacer("\u00ad", "", "\u200b", "", "\ufeff", "")

// Preprocess prepares passage text for indexing: NFKC folds the compatibility forms PDF
// extraction produces (ligatures, full-width digits), invisible runes are dropped and
// whitespace runs become single spaces.
func Preprocess(text string) string {
	return strings.Join(strings.Fields(invisible.Replace(norm.NFKC.String(text))), " ")
}
