package transform

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Ramsey-B/mef/pkg/marc"
)

const trailingPunctuation = ",;:/-"

var doubleComma = regexp.MustCompile(`,\s*,`)

// Clean strips soft-hyphen artefacts, surrounding whitespace and trailing punctuation.
func Clean(s string) string {
	s = stripArtefacts(s)
	s = strings.TrimSpace(s)
	for {
		trimmed := strings.TrimRightFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || strings.ContainsRune(trailingPunctuation, r)
		})
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return s
}

// stripArtefacts removes the non-sorting markers 0x98/0x9C, raw or as C1 code points.
func stripArtefacts(s string) string {
	if strings.IndexByte(s, 0x98) < 0 && strings.IndexByte(s, 0x9C) < 0 {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			r = rune(s[i])
		}
		if r != 0x98 && r != 0x9C {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// collapse removes doubled commas and surrounding blanks.
func collapse(s string) string {
	s = doubleComma.ReplaceAllString(s, ",")
	return strings.TrimSpace(s)
}

// Group wraps a set of subfield codes, e.g. g → " (…)".
type Group struct {
	Codes string
	Open  string
	Sep   string
	Close string
}

// Format describes how a field's subfields are concatenated into one string.
type Format struct {
	// Codes selects subfields, kept in field order.
	Codes string
	// Separators precede a subfield when it is not the first part. Default " ".
	Separators map[string]string
	Groups     []Group
}

// Build renders f for df. Missing subfields simply produce a shorter string.
func (f Format) Build(df marc.DataField) string {
	groupValues := map[int][]string{}
	for _, sf := range df.Subfields {
		if gi := f.groupOf(sf.Code); gi >= 0 {
			if v := Clean(sf.Value); v != "" {
				groupValues[gi] = append(groupValues[gi], v)
			}
		}
	}

	var b strings.Builder
	emitted := map[int]bool{}
	for _, sf := range df.Subfields {
		if !strings.Contains(f.Codes, sf.Code) {
			continue
		}
		if gi := f.groupOf(sf.Code); gi >= 0 {
			if emitted[gi] || len(groupValues[gi]) == 0 {
				continue
			}
			emitted[gi] = true
			g := f.Groups[gi]
			if b.Len() == 0 {
				b.WriteString(strings.TrimLeft(g.Open, " "))
			} else {
				b.WriteString(g.Open)
			}
			b.WriteString(strings.Join(groupValues[gi], g.Sep))
			b.WriteString(g.Close)
			continue
		}
		v := Clean(sf.Value)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			sep, ok := f.Separators[sf.Code]
			if !ok {
				sep = " "
			}
			b.WriteString(sep)
		}
		b.WriteString(v)
	}
	return collapse(b.String())
}

func (f Format) groupOf(code string) int {
	for i, g := range f.Groups {
		if strings.Contains(g.Codes, code) && strings.Contains(f.Codes, code) {
			return i
		}
	}
	return -1
}

// FormatSet picks a Format by field tag.
type FormatSet map[string]Format

// Build renders df with the format of its tag, or "" when the tag is unknown.
func (fs FormatSet) Build(df marc.DataField) string {
	f, ok := fs[df.Tag]
	if !ok {
		return ""
	}
	return f.Build(df)
}

// BuildAll renders every field of rec with one of the set's tags.
func (fs FormatSet) BuildAll(rec *marc.Record, tags ...string) []string {
	var out []string
	for _, df := range rec.Fields(tags...) {
		if s := fs.Build(df); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// firstValue returns the first cleaned value of code across fields with tag.
func firstValue(rec *marc.Record, tag, code string) string {
	for _, df := range rec.Fields(tag) {
		for _, v := range df.Values(code) {
			if c := Clean(v); c != "" {
				return c
			}
		}
	}
	return ""
}

// allValues returns every trimmed value of code across fields with tag.
func allValues(rec *marc.Record, tag, code string) []string {
	var out []string
	for _, df := range rec.Fields(tag) {
		for _, v := range df.Values(code) {
			if c := strings.TrimSpace(stripArtefacts(v)); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
