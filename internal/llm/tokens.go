package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts model tokens.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding or the encoding for a model name. If neither can
// be loaded (the BPE files are fetched on first use) the counter falls back to counting words,
// and err reports why.
func NewTokenCounter(name string) (*TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return &TokenCounter{}, err
		}
	}
	return &TokenCounter{enc: enc}, nil
}

// Exact reports whether counts come from a real encoding.
func (t *TokenCounter) Exact() bool {
	return t.enc != nil
}

// Count returns the number of tokens in text.
func (t *TokenCounter) Count(text string) int {
	if t.enc == nil {
		return wordTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// wordTokens approximates BPE counts at four tokens per three words.
func wordTokens(text string) int {
	n := len(strings.Fields(text))
	return (n*4 + 2) / 3
}
