// Package fileid derives stable identifiers for corpus sources.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
)

const versionPrefix = "sha256:"

// Slug lowercases s and joins its runs of letters and digits with single hyphens.
// Combining marks are kept so Devanagari and other Indic names survive intact.
func Slug(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// FileDocID returns the document ID for a source file: the slug of its base name without
// extension. The same file name always yields the same ID, so reloading replaces passages.
func FileDocID(path string) string {
	base := filepath.Base(filepath.Clean(path))
	return Slug(strings.TrimSuffix(base, filepath.Ext(base)))
}

// SourceVersion returns a short content hash identifying one revision of a source.
func SourceVersion(content []byte) string {
	hash := sha256.Sum256(content)
	return versionPrefix + hex.EncodeToString(hash[:8])
}
