package indexer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// labelledHeading matches "Section 25F. Title" and "धारा 25F Title".
	labelledHeading = regexp.MustCompile(`^\s*(?:Section|Sec\.?|धारा)\s+(\d{1,4}[A-Z]{0,3})\b\s*[.:]?\s*(.*)$`)
	// bareHeading matches "25F. Title" as printed in bare acts.
	bareHeading   = regexp.MustCompile(`^\s*(\d{1,4}[A-Z]{0,3})\.\s+(\S.*)$`)
	leadingDigits = regexp.MustCompile(`^\d+`)
)

// Section is one numbered section of an act.
type Section struct {
	Number string
	Title  string
	Body   string
}

// SectionSplitter splits the text of an act into numbered sections. Headings must start a
// line. A heading whose number is lower than the previous section's is treated as body text,
// which keeps numbered lists and cross references inside their section.
type SectionSplitter struct {
	maxTitleLen int
}

// NewSectionSplitter creates a splitter. Titles longer than maxTitleLen runes are left in the body.
func NewSectionSplitter(maxTitleLen int) *SectionSplitter {
	if maxTitleLen <= 0 {
		maxTitleLen = 160
	}
	return &SectionSplitter{maxTitleLen: maxTitleLen}
}

// Split returns the text before the first heading and the sections in document order.
// A repeated section number is folded into the earlier section.
func (s *SectionSplitter) Split(text string) (preamble string, sections []Section) {
	var (
		pre   []string
		body  []string
		cur   *Section
		last  = -1
		byNum = map[string]int{}
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if i, ok := byNum[cur.Number]; ok {
			sections[i].Body = strings.TrimSpace(sections[i].Body + "\n" + cur.Body)
		} else if cur.Title != "" || cur.Body != "" {
			byNum[cur.Number] = len(sections)
			sections = append(sections, *cur)
		}
		cur, body = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		num, rest, ok := s.heading(line, last)
		if !ok {
			if cur == nil {
				pre = append(pre, line)
			} else {
				body = append(body, line)
			}
			continue
		}
		flush()
		title, first := s.splitTitle(rest)
		cur = &Section{Number: num, Title: title}
		if first != "" {
			body = append(body, first)
		}
		if n, err := strconv.Atoi(leadingDigits.FindString(num)); err == nil {
			last = n
		}
	}
	flush()
	return strings.TrimSpace(strings.Join(pre, "\n")), sections
}

func (s *SectionSplitter) heading(line string, last int) (num, rest string, ok bool) {
	m := labelledHeading.FindStringSubmatch(line)
	if m == nil {
		m = bareHeading.FindStringSubmatch(line)
	}
	if m == nil {
		return "", "", false
	}
	n, err := strconv.Atoi(leadingDigits.FindString(m[1]))
	if err != nil || n < last {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// splitTitle separates a marginal heading from the first line of the section body. Bare acts
// print it as "Title.—Body"; otherwise a short first sentence is taken as the title.
func (s *SectionSplitter) splitTitle(rest string) (title, body string) {
	for _, sep := range []string{".—", ".--", ".-", "—"} {
		if i := strings.Index(rest, sep); i > 0 {
			title = strings.TrimSpace(rest[:i])
			if len([]rune(title)) <= s.maxTitleLen {
				return strings.TrimSuffix(title, "."), strings.TrimSpace(rest[i+len(sep):])
			}
		}
	}
	if i := strings.Index(rest, ". "); i > 0 && len([]rune(rest[:i])) <= s.maxTitleLen {
		return strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+2:])
	}
	if strings.HasSuffix(rest, ".") && len([]rune(rest)) <= s.maxTitleLen {
		return strings.TrimSuffix(rest, "."), ""
	}
	return "", rest
}
