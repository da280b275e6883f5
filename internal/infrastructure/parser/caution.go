package parser

import (
	"regexp"
	"sort"
	"strings"

	"MedicineCrawler/internal/domain"
)

// Cautions is the decomposition of a free-text caution section.
type Cautions struct {
	Warning      string
	Precautions  string
	Interactions string
	SideEffects  string
}

type cautionPattern struct {
	head  *regexp.Regexp
	field domain.Field
}

// Ordered; the first match of each pattern is kept.
var cautionPatterns = []cautionPattern{
	{regexp.MustCompile(`(?:[0-9]+\.\s*)?다음\s*환자에게는\s*투여하지\s*말\s*것`), domain.FieldWarning},
	{regexp.MustCompile(`(?:[0-9]+\.\s*)?이상반응`), domain.FieldSideEffects},
	{regexp.MustCompile(`(?:[0-9]+\.\s*)?일반적\s*주의`), domain.FieldPrecautions},
	{regexp.MustCompile(`(?:[0-9]+\.\s*)?상호작용`), domain.FieldInteractions},
}

// Appended to the general precautions.
var cautionExtras = []*regexp.Regexp{
	regexp.MustCompile(`(?:[0-9]+\.\s*)?임부`),
	regexp.MustCompile(`(?:[0-9]+\.\s*)?소아`),
	regexp.MustCompile(`(?:[0-9]+\.\s*)?고령자`),
	regexp.MustCompile(`(?:[0-9]+\.\s*)?보관`),
}

var numberedHeading = regexp.MustCompile(`\d+\.\s`)

type span struct{ start, end int }

// capture finds head and extends the match up to the next numbered heading.
func capture(text string, head *regexp.Regexp) (span, bool) {
	loc := head.FindStringIndex(text)
	if loc == nil {
		return span{}, false
	}
	end := len(text)
	if next := numberedHeading.FindStringIndex(text[loc[1]:]); next != nil {
		end = loc[1] + next[0]
	}
	return span{loc[0], end}, true
}

// SplitCautions decomposes caution text into warning, precautions,
// interactions and side effects. Text matched by no pattern ends up in the
// general precautions.
func SplitCautions(text string) Cautions {
	text = strings.TrimSpace(collapseSpace(text))
	if text == "" {
		return Cautions{}
	}

	out := map[domain.Field]string{}
	var used []span
	for _, p := range cautionPatterns {
		if s, ok := capture(text, p.head); ok {
			out[p.field] = strings.TrimSpace(text[s.start:s.end])
			used = append(used, s)
		}
	}
	for _, head := range cautionExtras {
		s, ok := capture(text, head)
		if !ok || covered(used, s) {
			continue
		}
		out[domain.FieldPrecautions] = joinParagraphs(out[domain.FieldPrecautions], text[s.start:s.end])
		used = append(used, s)
	}

	if rest := remainder(text, used); rest != "" {
		out[domain.FieldPrecautions] = joinParagraphs(out[domain.FieldPrecautions], rest)
	}

	return Cautions{
		Warning:      out[domain.FieldWarning],
		Precautions:  out[domain.FieldPrecautions],
		Interactions: out[domain.FieldInteractions],
		SideEffects:  out[domain.FieldSideEffects],
	}
}

// Apply fills the caution fields of rec that are still empty.
func (c Cautions) Apply(rec *domain.Record) {
	setIfEmpty(rec, domain.FieldWarning, c.Warning)
	setIfEmpty(rec, domain.FieldPrecautions, c.Precautions)
	setIfEmpty(rec, domain.FieldInteractions, c.Interactions)
	setIfEmpty(rec, domain.FieldSideEffects, c.SideEffects)
}

func covered(used []span, s span) bool {
	for _, u := range used {
		if s.start >= u.start && s.start < u.end {
			return true
		}
	}
	return false
}

func remainder(text string, used []span) string {
	if len(used) == 0 {
		return text
	}
	sorted := append([]span(nil), used...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var b strings.Builder
	pos := 0
	for _, s := range sorted {
		if s.start > pos {
			b.WriteString(text[pos:s.start])
			b.WriteByte(' ')
		}
		if s.end > pos {
			pos = s.end
		}
	}
	if pos < len(text) {
		b.WriteString(text[pos:])
	}
	rest := strings.TrimSpace(collapseSpace(b.String()))
	if len([]rune(rest)) < 4 {
		return ""
	}
	return rest
}

func joinParagraphs(a, b string) string {
	b = strings.TrimSpace(b)
	switch {
	case b == "":
		return a
	case a == "":
		return b
	default:
		return a + "\n\n" + b
	}
}

func setIfEmpty(rec *domain.Record, f domain.Field, value string) {
	if !rec.Has(f) {
		rec.Set(f, value)
	}
}
