// Package speech provides the speech-to-text and text-to-speech collaborators.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/nyaya/internal/remote"
)

// ErrLowConfidence is returned when a transcript is too uncertain to act on.
var ErrLowConfidence = errors.New("low confidence transcript")

// Transcript is recognized speech.
type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (Transcript, error)
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

type transcribeRequest struct {
	Audio    []byte `json:"audio"`
	Language string `json:"language,omitempty"`
}

// HTTPTranscriber posts audio to a JSON speech-to-text endpoint.
type HTTPTranscriber struct {
	client        *remote.Client
	minConfidence float64
}

// NewHTTPTranscriber creates a transcriber. Transcripts below minConfidence yield ErrLowConfidence.
func NewHTTPTranscriber(client *remote.Client, minConfidence float64) *HTTPTranscriber {
	return &HTTPTranscriber{client: client, minConfidence: minConfidence}
}

// Transcribe returns the transcript of audio spoken in lang. An empty lang asks the service
// to detect the language.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (Transcript, error) {
	var out Transcript
	if err := t.client.PostJSON(ctx, "transcribe", transcribeRequest{Audio: audio, Language: lang}, &out); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	return Check(out, lang, t.minConfidence)
}

// Check applies the confidence floor to a transcript and fills in the requested language
// when the service did not report one.
func Check(tr Transcript, lang string, minConfidence float64) (Transcript, error) {
	tr.Text = strings.TrimSpace(tr.Text)
	if tr.Language == "" {
		tr.Language = lang
	}
	if tr.Text == "" || tr.Confidence < minConfidence {
		return tr, fmt.Errorf("confidence %.2f below %.2f: %w", tr.Confidence, minConfidence, ErrLowConfidence)
	}
	return tr, nil
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type synthesizeResponse struct {
	Audio []byte `json:"audio"`
}

// HTTPSynthesizer posts text to a JSON text-to-speech endpoint.
type HTTPSynthesizer struct {
	client *remote.Client
}

// NewHTTPSynthesizer creates a synthesizer.
func NewHTTPSynthesizer(client *remote.Client) *HTTPSynthesizer {
	return &HTTPSynthesizer{client: client}
}

// Synthesize returns audio for text in lang.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	var out synthesizeResponse
	if err := s.client.PostJSON(ctx, "synthesize", synthesizeRequest{Text: text, Language: lang}, &out); err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(out.Audio) == 0 {
		return nil, errors.New("synthesize: empty audio")
	}
	return out.Audio, nil
}
