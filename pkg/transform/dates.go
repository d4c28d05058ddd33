package transform

import (
	"regexp"
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
)

var (
	gndDayDate  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{3,4})$`)
	digitsOnly  = regexp.MustCompile(`^\d+$`)
	gndDateCode = map[string]int{"datx": 0, "datl": 1, "datb": 2}
)

// splitDates splits "from-to" on its first hyphen. Either side may be empty.
func splitDates(s string) (string, string) {
	s = strings.TrimSpace(stripArtefacts(s))
	if s == "" {
		return "", ""
	}
	parts := strings.SplitN(s, "-", 2)
	from := strings.TrimSpace(parts[0])
	to := ""
	if len(parts) == 2 {
		to = strings.TrimSpace(parts[1])
	}
	return from, to
}

// gndDate converts dd.mm.yyyy to yyyy-mm-dd and leaves other forms untouched.
func gndDate(s string) string {
	m := gndDayDate.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	return pad(m[3], 4) + "-" + pad(m[2], 2) + "-" + pad(m[1], 2)
}

// idrefDate converts the UNIMARC 103 form YYYYMMDD, optionally padded with blanks or
// '?' and optionally followed by '?' for uncertain dates.
func idrefDate(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	uncertain := len(raw) == 9 && raw[8] == '?'
	if uncertain {
		raw = raw[:8]
	}
	digits := strings.TrimRight(raw, "? ")
	if !digitsOnly.MatchString(digits) {
		return strings.TrimSpace(s)
	}
	var out string
	switch {
	case len(digits) >= 8:
		out = digits[0:4] + "-" + digits[4:6] + "-" + digits[6:8]
	case len(digits) >= 6:
		out = digits[0:4] + "-" + digits[4:6]
	case len(digits) == 4:
		out = digits
	default:
		return strings.TrimSpace(s)
	}
	if uncertain {
		out += "?"
	}
	return out
}

func pad(s string, n int) string {
	for len(s) < n {
		s = "0" + s
	}
	return s
}

// setDates stores a date pair under birth/death or establishment/termination.
func setDates(a *Accumulator, from, to string) {
	if a.organisation {
		a.Set("date_of_establishment", from)
		a.Set("date_of_termination", to)
		return
	}
	a.Set("date_of_birth", from)
	a.Set("date_of_death", to)
}

// gndDates picks 548 by $4 with priority datx > datl > datb, falling back to 100$d.
func gndDates(rec *marc.Record) (string, string) {
	best, bestRank := "", len(gndDateCode)
	for _, df := range rec.Fields("548") {
		rank, ok := gndDateCode[strings.TrimSpace(df.Subfield("4"))]
		if !ok || rank >= bestRank {
			continue
		}
		if v := strings.TrimSpace(df.Subfield("a")); v != "" {
			best, bestRank = v, rank
		}
	}
	if best == "" {
		for _, df := range rec.Fields("100", "110", "111") {
			if v := strings.TrimSpace(df.Subfield("d")); v != "" {
				best = v
				break
			}
		}
	}
	from, to := splitDates(best)
	return gndDate(from), gndDate(to)
}
