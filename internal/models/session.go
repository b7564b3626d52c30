package models

import "time"

// Turn is one query/response exchange within a session. Seq is reserved when the query is
// received, so history stays in receipt order even when responses complete out of order.
type Turn struct {
	Seq      uint64        `json:"seq"`
	Query    Query         `json:"query"`
	Response LegalResponse `json:"response"`
	At       time.Time     `json:"at"`
}

// Session holds the conversation state for one user.
type Session struct {
	ID             string    `json:"id"`
	Language       string    `json:"language"`
	History        []Turn    `json:"history"`
	NextSeq        uint64    `json:"next_seq"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		out.History[i] = t
		out.History[i].Query.Audio = append([]byte(nil), t.Query.Audio...)
		out.History[i].Response = t.Response.Clone()
	}
	return &out
}

// Wipe clears every field in place, including the contents of history buffers.
func (s *Session) Wipe() {
	for i := range s.History {
		wipeTurn(&s.History[i])
	}
	clear(s.History)
	*s = Session{}
}

func wipeTurn(t *Turn) {
	clear(t.Query.Audio)
	clear(t.Response.Audio)
	clear(t.Response.Citations)
	*t = Turn{}
}
