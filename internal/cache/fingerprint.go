package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// Stage names a cacheable pipeline stage.
type Stage string

const (
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
	StageResponse   Stage = "response"
)

// Fingerprint returns a stable hex key for normalized text, language and stage, plus any scope
// fields such as a corpus version. Fields are length-prefixed so distinct tuples never collide
// by concatenation.
func Fingerprint(normalizedText, language string, stage Stage, scope ...string) string {
	h := sha256.New()
	writeField(h, string(stage))
	writeField(h, language)
	writeField(h, normalizedText)
	for _, s := range scope {
		writeField(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintParts hashes an arbitrary list of fields, for stages keyed on more than one text.
func FingerprintParts(stage Stage, parts ...string) string {
	h := sha256.New()
	writeField(h, string(stage))
	for _, p := range parts {
		writeField(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
