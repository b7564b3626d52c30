package models

import (
	"testing"
	"time"
)

func TestParsePassageKey(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   PassageKey
		wantOK bool
	}{
		{"valid", "ipc-1860#420", PassageKey{"ipc-1860", "420"}, true},
		{"trims spaces", " rti-2005 # 6(1) ", PassageKey{"rti-2005", "6(1)"}, true},
		{"missing section", "ipc-1860#", PassageKey{}, false},
		{"missing separator", "ipc-1860", PassageKey{}, false},
		{"empty", "", PassageKey{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePassageKey(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParsePassageKey(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPassageKey_StringRoundTrip(t *testing.T) {
	k := PassageKey{DocumentID: "cpa-2019", Section: "35"}
	got, ok := ParsePassageKey(k.String())
	if !ok || got != k {
		t.Errorf("round trip = %v, %v", got, ok)
	}
}

func TestPassageSet_KeepsFirst(t *testing.T) {
	set := NewPassageSet([]Passage{
		{DocumentID: "a", Section: "1", Title: "first"},
		{DocumentID: "a", Section: "1", Title: "second"},
		{DocumentID: "b", Section: "2"},
	})
	if len(set) != 2 {
		t.Fatalf("len = %d, want 2", len(set))
	}
	if set[PassageKey{"a", "1"}].Title != "first" {
		t.Error("expected first duplicate to win")
	}
	if set.Contains(PassageKey{"c", "1"}) {
		t.Error("unexpected membership")
	}
}

func TestQuery_WithTextCopies(t *testing.T) {
	q := NewVoiceQuery([]byte{1, 2, 3}, "hi", "s1")
	q2 := q.WithText("kya")
	if q.Text != "" {
		t.Error("original query text changed")
	}
	if len(q.Audio) != 3 {
		t.Error("original audio changed")
	}
	if q2.Audio != nil || q2.Text != "kya" {
		t.Errorf("unexpected copy: %+v", q2)
	}
	if !q.HasAudio() || q2.HasAudio() {
		t.Error("HasAudio mismatch")
	}
}

func TestSession_WipeClearsHistory(t *testing.T) {
	audio := []byte("secret")
	s := &Session{
		ID:       "s1",
		Language: "en",
		History: []Turn{
			{Seq: 1, Query: Query{Text: "my landlord", Audio: audio}, Response: LegalResponse{Answer: "x"}},
		},
		ExpiresAt: time.Now().Add(time.Minute),
	}
	history := s.History
	s.Wipe()
	if s.ID != "" || s.History != nil || !s.ExpiresAt.IsZero() {
		t.Errorf("session not wiped: %+v", s)
	}
	if history[0].Query.Text != "" || history[0].Response.Answer != "" {
		t.Error("history buffer still holds turn data")
	}
	for _, b := range audio {
		if b != 0 {
			t.Fatal("audio bytes not zeroed")
		}
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{ID: "s1", History: []Turn{{Seq: 1, Response: LegalResponse{Citations: []Citation{{Act: "A"}}}}}}
	c := s.Clone()
	c.History[0].Response.Citations[0].Act = "B"
	if s.History[0].Response.Citations[0].Act != "A" {
		t.Error("clone shares citations with original")
	}
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now}
	if !s.Expired(now) {
		t.Error("expected expired at boundary")
	}
	if s.Expired(now.Add(-time.Second)) {
		t.Error("expected not expired before boundary")
	}
}

func TestLegalResponse_Cacheable(t *testing.T) {
	tests := []struct {
		kind ResponseKind
		want bool
	}{
		{KindAnswer, true},
		{KindKnowledgeGap, true},
		{KindClarification, false},
		{KindRedirect, false},
		{KindSimplify, false},
		{KindBusy, false},
		{KindUnavailable, false},
	}
	for _, tt := range tests {
		if got := (LegalResponse{Kind: tt.kind}).Cacheable(); got != tt.want {
			t.Errorf("Cacheable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
