package messages

import "testing"

var allKeys = []Key{
	Disclaimer, Referral, KnowledgeGap, Clarification, ClarifyRepeat, ClarifyType, ClarifySession,
	ClarifyLanguage, Redirect, Simplify, Busy, Unavailable, NoticeNoTranslation, NoticeCachedOnly,
	NoticeVoiceDisabled,
}

func TestCatalogComplete(t *testing.T) {
	for _, lang := range Languages() {
		for _, k := range allKeys {
			if s, ok := Get(k, lang); !ok || s == "" {
				t.Errorf("%s: missing %s", lang, k)
			}
		}
	}
}

func TestGet_Fallback(t *testing.T) {
	if !Has("hi-IN") {
		t.Error("expected region tags to resolve to base language")
	}
	s, ok := Get(Redirect, "ta")
	if ok {
		t.Error("ta should not be bundled")
	}
	if s != catalog["en"][Redirect] {
		t.Errorf("fallback = %q", s)
	}
	if Text(Busy, "mr") == Text(Busy, "en") {
		t.Error("mr busy message should be localized")
	}
}
