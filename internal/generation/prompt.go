package generation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/nyaya/internal/llm"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/pkg/utils"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// BuildPrompt assembles a prompt from the query text and passages only. Each passage is
// truncated to maxChars runes (0 keeps full text).
func BuildPrompt(query string, passages []models.Passage, lang string, maxChars int) llm.Prompt {
	var sys strings.Builder
	sys.WriteString("<task>\n")
	sys.WriteString("You answer questions about Indian law for ordinary citizens using only the numbered legal passages supplied by the user.\n")
	sys.WriteString("</task>\n\n")
	sys.WriteString("<rules>\n")
	sys.WriteString("1. State only facts found in the passages. Do not use any other knowledge.\n")
	sys.WriteString("2. End every sentence that states a legal fact with the citation marker of the passage it comes from, exactly as shown, for example [[cite:doc#section]].\n")
	sys.WriteString("3. Never invent a marker. Use only markers that appear in the passages.\n")
	sys.WriteString("4. If the passages do not answer the question, say so in one sentence without a marker.\n")
	fmt.Fprintf(&sys, "5. Write the answer in %s.\n", LanguageName(lang))
	sys.WriteString("6. Keep the answer short and in plain words.\n")
	sys.WriteString("7. Finish with a final line of the form CONFIDENCE: <number between 0 and 1> giving how fully the passages support your answer.\n")
	sys.WriteString("</rules>\n")

	var user strings.Builder
	user.WriteString("<passages>\n")
	for i, p := range passages {
		fmt.Fprintf(&user, "[%d] %s\n", i+1, Marker(p.Key()))
		heading := strings.TrimSpace(strings.Join(nonEmpty(p.ActName, sectionLabel(p.Section), p.Title), ", "))
		if heading != "" {
			fmt.Fprintf(&user, "%s\n", heading)
		}
		text := p.Text
		if maxChars > 0 {
			text = utils.Truncate(text, maxChars)
		}
		fmt.Fprintf(&user, "%s\n\n", strings.TrimSpace(text))
	}
	user.WriteString("</passages>\n\n")
	user.WriteString("<question>\n")
	user.WriteString(strings.TrimSpace(query))
	user.WriteString("\n</question>\n")

	return llm.Prompt{System: sys.String(), User: user.String()}
}

// LanguageName returns the English name of a language code, or the code itself.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

func sectionLabel(section string) string {
	if section == "" {
		return ""
	}
	return "Section " + section
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
