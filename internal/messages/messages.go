// Package messages holds the fixed user-visible texts in every bundled language.
package messages

import "strings"

// Key identifies a fixed message.
type Key string

const (
	Disclaimer          Key = "disclaimer"
	Referral            Key = "referral"
	KnowledgeGap        Key = "knowledge_gap"
	Clarification       Key = "clarification"
	ClarifyRepeat       Key = "clarify_repeat"
	ClarifyType         Key = "clarify_type"
	ClarifySession      Key = "clarify_session"
	ClarifyLanguage     Key = "clarify_language"
	Redirect            Key = "redirect"
	Simplify            Key = "simplify"
	Busy                Key = "busy"
	Unavailable         Key = "unavailable"
	NoticeNoTranslation Key = "notice_no_translation"
	NoticeCachedOnly    Key = "notice_cached_only"
	NoticeVoiceDisabled Key = "notice_voice_disabled"
)

// Fallback is the language used when a message has no bundled translation.
const Fallback = "en"

var catalog = map[string]map[Key]string{
	"en": {
		Disclaimer:          "This is general legal information, not legal advice. Laws change and their application depends on your facts.",
		Referral:            "For advice on your situation, consult a qualified lawyer or contact your District Legal Services Authority (free legal aid helpline 15100).",
		KnowledgeGap:        "I could not find specific legal guidance on this in the sources available to me.",
		Clarification:       "Could you tell me a little more about your legal question? For example, what happened and which law or situation it concerns.",
		ClarifyRepeat:       "Sorry, I could not hear that clearly. Please repeat your question.",
		ClarifyType:         "Voice input is not available right now. Please type your question.",
		ClarifySession:      "Your session has ended. Please start a new session and ask again.",
		ClarifyLanguage:     "That language is not supported yet. Please ask in one of the supported languages.",
		Redirect:            "I can only help with questions about Indian law and legal rights. Please ask a legal question.",
		Simplify:            "Your question is too long or you have asked many questions. Please simplify your query and try again shortly.",
		Busy:                "The system is busy. Please try again shortly.",
		Unavailable:         "The service is unavailable right now. Please try again later.",
		NoticeNoTranslation: "Legal term translation is unavailable right now, so some terms may not be precise.",
		NoticeCachedOnly:    "The service is running in limited mode. Only previously answered questions can be served.",
		NoticeVoiceDisabled: "Voice output is unavailable right now.",
	},
	"hi": {
		Disclaimer:          "यह सामान्य कानूनी जानकारी है, कानूनी सलाह नहीं। कानून बदलते हैं और उनका लागू होना आपके तथ्यों पर निर्भर करता है।",
		Referral:            "अपनी स्थिति पर सलाह के लिए किसी योग्य वकील से मिलें या अपने जिला विधिक सेवा प्राधिकरण से संपर्क करें (निःशुल्क कानूनी सहायता हेल्पलाइन 15100)।",
		KnowledgeGap:        "मुझे उपलब्ध स्रोतों में इस विषय पर कोई विशिष्ट कानूनी मार्गदर्शन नहीं मिला।",
		Clarification:       "क्या आप अपने कानूनी प्रश्न के बारे में थोड़ा और बता सकते हैं? जैसे क्या हुआ और यह किस कानून या स्थिति से जुड़ा है।",
		ClarifyRepeat:       "क्षमा करें, मैं स्पष्ट रूप से सुन नहीं सका। कृपया अपना प्रश्न दोहराएं।",
		ClarifyType:         "अभी आवाज़ इनपुट उपलब्ध नहीं है। कृपया अपना प्रश्न लिखें।",
		ClarifySession:      "आपका सत्र समाप्त हो गया है। कृपया नया सत्र शुरू करें और फिर से पूछें।",
		ClarifyLanguage:     "यह भाषा अभी समर्थित नहीं है। कृपया किसी समर्थित भाषा में पूछें।",
		Redirect:            "मैं केवल भारतीय कानून और कानूनी अधिकारों से जुड़े प्रश्नों में मदद कर सकता हूं। कृपया कोई कानूनी प्रश्न पूछें।",
		Simplify:            "आपका प्रश्न बहुत लंबा है या आपने बहुत से प्रश्न पूछे हैं। कृपया प्रश्न को सरल करें और थोड़ी देर बाद फिर प्रयास करें।",
		Busy:                "सिस्टम अभी व्यस्त है। कृपया थोड़ी देर बाद प्रयास करें।",
		Unavailable:         "सेवा अभी उपलब्ध नहीं है। कृपया बाद में प्रयास करें।",
		NoticeNoTranslation: "अभी कानूनी शब्दों का अनुवाद उपलब्ध नहीं है, इसलिए कुछ शब्द सटीक न हों।",
		NoticeCachedOnly:    "सेवा सीमित मोड में चल रही है। केवल पहले उत्तर दिए गए प्रश्नों का उत्तर दिया जा सकता है।",
		NoticeVoiceDisabled: "अभी आवाज़ में उत्तर उपलब्ध नहीं है।",
	},
	"mr": {
		Disclaimer:          "ही सर्वसाधारण कायदेशीर माहिती आहे, कायदेशीर सल्ला नाही. कायदे बदलतात आणि त्यांचा वापर तुमच्या परिस्थितीवर अवलंबून असतो.",
		Referral:            "तुमच्या परिस्थितीबद्दल सल्ल्यासाठी पात्र वकिलाचा सल्ला घ्या किंवा जिल्हा विधी सेवा प्राधिकरणाशी संपर्क साधा (मोफत कायदेशीर मदत हेल्पलाइन 15100).",
		KnowledgeGap:        "उपलब्ध स्रोतांमध्ये मला या विषयावर विशिष्ट कायदेशीर मार्गदर्शन सापडले नाही.",
		Clarification:       "तुमच्या कायदेशीर प्रश्नाबद्दल थोडे अधिक सांगाल का? उदाहरणार्थ काय घडले आणि ते कोणत्या कायद्याशी किंवा परिस्थितीशी संबंधित आहे.",
		ClarifyRepeat:       "माफ करा, मला स्पष्ट ऐकू आले नाही. कृपया तुमचा प्रश्न पुन्हा सांगा.",
		ClarifyType:         "सध्या आवाज इनपुट उपलब्ध नाही. कृपया तुमचा प्रश्न टाइप करा.",
		ClarifySession:      "तुमचे सत्र संपले आहे. कृपया नवीन सत्र सुरू करा आणि पुन्हा विचारा.",
		ClarifyLanguage:     "ही भाषा अद्याप समर्थित नाही. कृपया समर्थित भाषेत विचारा.",
		Redirect:            "मी फक्त भारतीय कायदा आणि कायदेशीर हक्कांबद्दलच्या प्रश्नांमध्ये मदत करू शकतो. कृपया कायदेशीर प्रश्न विचारा.",
		Simplify:            "तुमचा प्रश्न खूप मोठा आहे किंवा तुम्ही बरेच प्रश्न विचारले आहेत. कृपया प्रश्न सोपा करा आणि थोड्या वेळाने पुन्हा प्रयत्न करा.",
		Busy:                "प्रणाली सध्या व्यस्त आहे. कृपया थोड्या वेळाने पुन्हा प्रयत्न करा.",
		Unavailable:         "सेवा सध्या उपलब्ध नाही. कृपया नंतर पुन्हा प्रयत्न करा.",
		NoticeNoTranslation: "सध्या कायदेशीर शब्दांचे भाषांतर उपलब्ध नाही, त्यामुळे काही शब्द अचूक नसतील.",
		NoticeCachedOnly:    "सेवा मर्यादित स्वरूपात सुरू आहे. फक्त आधी उत्तर दिलेल्या प्रश्नांची उत्तरे देता येतील.",
		NoticeVoiceDisabled: "सध्या आवाजात उत्तर उपलब्ध नाही.",
	},
}

// Has reports whether lang has a bundled translation of every message.
func Has(lang string) bool {
	_, ok := catalog[base(lang)]
	return ok
}

// Get returns the message in lang. ok is false when the English text was substituted.
func Get(key Key, lang string) (text string, ok bool) {
	if m, found := catalog[base(lang)]; found {
		if s, found := m[key]; found {
			return s, true
		}
	}
	return catalog[Fallback][key], false
}

// Text returns the message in lang, falling back to English.
func Text(key Key, lang string) string {
	s, _ := Get(key, lang)
	return s
}

// Languages returns the bundled languages.
func Languages() []string {
	out := make([]string, 0, len(catalog))
	for l := range catalog {
		out = append(out, l)
	}
	return out
}

func base(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
