// Package models defines core data structures for queries, passages, answers, responses and sessions.
package models

import (
	"strings"
	"time"
)

// Modality is the input channel of a query.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// Query is a single user question. A Query is treated as immutable once created;
// helpers that change a field return a modified copy.
type Query struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Modality   Modality  `json:"modality"`
	SessionID  string    `json:"session_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	// Audio carries raw voice input when Modality is voice. Text may be empty in that case.
	Audio []byte `json:"audio,omitempty"`
}

// NewQuery returns a text query stamped with the current time.
func NewQuery(text, language, sessionID string) Query {
	return Query{
		Text:       text,
		Language:   strings.TrimSpace(language),
		Modality:   ModalityText,
		SessionID:  sessionID,
		ReceivedAt: time.Now(),
	}
}

// NewVoiceQuery returns a voice query carrying audio.
func NewVoiceQuery(audio []byte, language, sessionID string) Query {
	q := NewQuery("", language, sessionID)
	q.Modality = ModalityVoice
	q.Audio = append([]byte(nil), audio...)
	return q
}

// WithText returns a copy of q whose text is replaced. Audio is not copied into the result.
func (q Query) WithText(text string) Query {
	q.Text = text
	q.Audio = nil
	return q
}

// HasAudio reports whether the query carries voice input.
func (q Query) HasAudio() bool {
	return q.Modality == ModalityVoice && len(q.Audio) > 0
}

// IsVoice reports whether the query arrived over the voice channel.
func (q Query) IsVoice() bool {
	return q.Modality == ModalityVoice
}
