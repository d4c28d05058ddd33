package cluster

import (
	"regexp"
	"strings"

	"github.com/Ramsey-B/mef/pkg/models"
)

// DefaultMatchThreshold is the largest number of BNF match entries a GND place may
// carry for one of them to become its association identifier.
const DefaultMatchThreshold = 1

var frbnf = regexp.MustCompile(`^FRBNF(\d{8})`)

// normalizeFRBNF returns FRBNF plus the first eight digits, or "".
func normalizeFRBNF(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if m := frbnf.FindStringSubmatch(v); m != nil {
		return "FRBNF" + m[1]
	}
	return ""
}

func firstFRBNF(ids []models.Identifier) string {
	for _, id := range ids {
		if v := normalizeFRBNF(id.Value); v != "" {
			return v
		}
	}
	return ""
}

func bnfMatches(data map[string]any) []models.Identifier {
	var out []models.Identifier
	for _, field := range []string{"closeMatch", "exactMatch"} {
		for _, id := range models.MatchIdentifiers(data, field) {
			if id.Type == "bf:Nbn" && normalizeFRBNF(id.Value) != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// AssociationIdentifier computes the key concepts and places cluster on. Agents
// cluster through VIAF and never carry one.
func AssociationIdentifier(kind models.Kind, source models.Source, data map[string]any, threshold int) string {
	if kind == models.KindAgents {
		return ""
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	ids := models.IdentifiersOf(data)

	switch source {
	case models.SourceIdRef, models.SourceRERO:
		return firstFRBNF(ids)
	case models.SourceGND:
		if kind == models.KindPlaces {
			matches := bnfMatches(data)
			if len(matches) == 0 || len(matches) > threshold {
				return ""
			}
			return normalizeFRBNF(matches[0].Value)
		}
		if v := firstFRBNF(ids); v != "" {
			return v
		}
		return firstFRBNF(bnfMatches(data))
	}
	return ""
}
