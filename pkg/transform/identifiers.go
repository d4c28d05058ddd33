package transform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

// Identifier types.
const (
	TypeURI   = "uri"
	TypeNbn   = "bf:Nbn"
	TypeLocal = "bf:Local"
)

var (
	prefixed   = regexp.MustCompile(`^\(([^)]+)\)\s*(.+)$`)
	bnfArk     = regexp.MustCompile(`ark:/12148/cb(\d{8})`)
	frbnfValue = regexp.MustCompile(`^FRBNF(\d{8})`)
)

// prefixSources maps the MARC organisation code prefix of $0/035 values to a source.
var prefixSources = map[string]string{
	"DE-101":   "DNB",
	"DE-588":   "GND",
	"DLC":      "LCNAF",
	"BnF":      "BNF",
	"FrPBN":    "BNF",
	"ViAF":     "VIAF",
	"VIAF":     "VIAF",
	"IDREF":    "IDREF",
	"RERO":     "RERO",
	"isni":     "ISNI",
	"orcid":    "ORCID",
	"Wikidata": "WIKIDATA",
}

var hostSources = map[string]string{
	"d-nb.info":        "GND",
	"id.loc.gov":       "LCNAF",
	"data.bnf.fr":      "BNF",
	"catalogue.bnf.fr": "BNF",
	"viaf.org":         "VIAF",
	"www.idref.fr":     "IDREF",
	"idref.fr":         "IDREF",
	"www.wikidata.org": "WIKIDATA",
	"isni.org":         "ISNI",
	"orcid.org":        "ORCID",
	"data.rero.ch":     "RERO",
}

func isURI(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// sourceFromURI guesses the source of an identifier URI from its host.
func sourceFromURI(v string) string {
	u, err := url.Parse(v)
	if err != nil {
		return ""
	}
	return hostSources[strings.ToLower(u.Host)]
}

// parseControlNumber reads "(PREFIX)id" values as found in $0 and 035$a.
func parseControlNumber(v string) (source, id string) {
	v = strings.TrimSpace(v)
	if m := prefixed.FindStringSubmatch(v); m != nil {
		return prefixSources[m[1]], strings.TrimSpace(m[2])
	}
	if isURI(v) {
		return sourceFromURI(v), v
	}
	return "", v
}

// FRBNF returns the association form FRBNF + 8 digits, from an FRBNF number (with or
// without check character) or a BnF ark URI.
func FRBNF(v string) string {
	if m := frbnfValue.FindStringSubmatch(v); m != nil {
		return "FRBNF" + m[1]
	}
	if m := bnfArk.FindStringSubmatch(v); m != nil {
		return "FRBNF" + m[1]
	}
	return ""
}

// controlNumberIdentifier converts a $0 style value to an identifiedBy entry.
func controlNumberIdentifier(v string) (models.Identifier, bool) {
	source, id := parseControlNumber(v)
	if id == "" {
		return models.Identifier{}, false
	}
	switch {
	case isURI(id):
		return models.Identifier{Source: source, Type: TypeURI, Value: id}, true
	case source == "BNF":
		if frbnf := FRBNF(id); frbnf != "" {
			return models.Identifier{Source: source, Type: TypeNbn, Value: id}, true
		}
		return models.Identifier{Source: source, Type: TypeNbn, Value: "FRBNF" + id}, true
	case source == "DNB":
		return models.Identifier{Source: source, Type: TypeNbn, Value: "(DE-101)" + id}, true
	case source == "GND":
		return models.Identifier{Source: source, Type: TypeLocal, Value: "(DE-588)" + id}, true
	case source != "":
		return models.Identifier{Source: source, Type: TypeLocal, Value: id}, true
	}
	return models.Identifier{}, false
}

// appendIdentifiers adds entries to identifiedBy, skipping exact duplicates.
func appendIdentifiers(a *Accumulator, ids ...models.Identifier) {
	existing := models.IdentifiersOf(a.Out)
	seen := map[models.Identifier]bool{}
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range ids {
		if id.Value == "" || seen[id] {
			continue
		}
		seen[id] = true
		a.Append(models.FieldIdentifiedBy, id.Map())
	}
}

// gndIdentifiers reads 024 ($2 names the scheme, $0/$a the value) and 035 control numbers.
var gndIdentifiers = Step{Name: "identifiedBy", Fn: func(a *Accumulator) {
	var ids []models.Identifier
	for _, df := range a.Record.Fields("024") {
		scheme := strings.ToLower(strings.TrimSpace(df.Subfield("2")))
		value := strings.TrimSpace(df.Subfield("0"))
		if value == "" {
			value = strings.TrimSpace(df.Subfield("a"))
		}
		if scheme == "" || value == "" {
			continue
		}
		typ := TypeLocal
		if isURI(value) {
			typ = TypeURI
		}
		ids = append(ids, models.Identifier{Source: strings.ToUpper(scheme), Type: typ, Value: value})
	}
	for _, df := range a.Record.Fields("035") {
		for _, v := range df.Values("a") {
			if id, ok := controlNumberIdentifier(v); ok {
				ids = append(ids, id)
			}
		}
	}
	appendIdentifiers(a, ids...)
}}

// idrefIdentifiers reads 003 (record URI) and 033 (external URIs, BnF arks).
var idrefIdentifiers = Step{Name: "identifiedBy", Fn: func(a *Accumulator) {
	var ids []models.Identifier
	if uri := a.Record.Control("003"); uri != "" {
		ids = append(ids, models.Identifier{Source: "IDREF", Type: TypeURI, Value: uri})
	}
	for _, df := range a.Record.Fields("033") {
		value := strings.TrimSpace(df.Subfield("a"))
		if value == "" {
			continue
		}
		source := strings.ToUpper(strings.TrimSpace(df.Subfield("2")))
		if isURI(value) {
			if s := sourceFromURI(value); s != "" {
				source = s
			}
			ids = append(ids, models.Identifier{Source: source, Type: TypeURI, Value: value})
		} else if source != "" || FRBNF(value) != "" {
			if source == "" {
				source = "BNF"
			}
			typ := TypeLocal
			if source == "BNF" {
				typ = TypeNbn
			}
			ids = append(ids, models.Identifier{Source: source, Type: typ, Value: value})
		}
		if frbnf := FRBNF(value); frbnf != "" {
			ids = append(ids, models.Identifier{Source: "BNF", Type: TypeNbn, Value: frbnf})
		}
	}
	appendIdentifiers(a, ids...)
}}

// idrefRedirectFrom turns 035$a with $9=sudoc into relation_pid redirect_from.
var idrefRedirectFrom = Step{Name: "relation_pid", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("035") {
		if !strings.EqualFold(strings.TrimSpace(df.Subfield("9")), "sudoc") {
			continue
		}
		if pid := strings.TrimSpace(df.Subfield("a")); pid != "" && pid != a.String(models.FieldPid) {
			a.SetIfAbsent(models.FieldRelationPid, map[string]any{"type": models.RedirectFrom, "value": pid})
			return
		}
	}
}}

// gndRedirectTo turns 682 $i=Umlenkung with a (DE-101) $0 into relation_pid redirect_to.
var gndRedirectTo = Step{Name: "relation_pid", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("682") {
		if strings.TrimSpace(df.Subfield("i")) != "Umlenkung" {
			continue
		}
		for _, v := range df.Values("0") {
			v = strings.TrimSpace(v)
			if strings.HasPrefix(v, "(DE-101)") {
				pid := strings.TrimSpace(strings.TrimPrefix(v, "(DE-101)"))
				if pid != "" {
					a.SetIfAbsent(models.FieldRelationPid, map[string]any{"type": models.RedirectTo, "value": pid})
					return
				}
			}
		}
	}
}}

// reroPid reads 035$a, dropping a leading "(RERO)" organisation code.
var reroPid = Step{Name: "pid", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("035") {
		v := strings.TrimSpace(df.Subfield("a"))
		v = strings.TrimSpace(strings.TrimPrefix(v, "(RERO)"))
		if v != "" {
			a.Set(models.FieldPid, v)
			return
		}
	}
}}

// reroURI links the record to its RERO data URI.
var reroURI = Step{Name: "identifiedBy", Fn: func(a *Accumulator) {
	if pid := a.String(models.FieldPid); pid != "" {
		appendIdentifiers(a, models.Identifier{Source: "RERO", Type: TypeURI, Value: "http://data.rero.ch/02-" + pid})
	}
}}

// matchEntry builds a close/exactMatch entry from a heading field carrying $0 links.
func matchEntry(df marc.DataField, format Format) map[string]any {
	entry := map[string]any{}
	if ap := format.Build(df); ap != "" {
		entry[models.FieldAuthorizedAccessPoint] = ap
	}
	var ids []any
	for _, v := range df.Values("0") {
		id, ok := controlNumberIdentifier(v)
		if !ok {
			continue
		}
		if _, set := entry["source"]; !set && id.Source != "" {
			entry["source"] = id.Source
		}
		ids = append(ids, id.Map())
	}
	if len(ids) > 0 {
		entry[models.FieldIdentifiedBy] = ids
	}
	return entry
}

// gndMatches classifies 750 links by $i.
func gndMatches(format Format) Step {
	return Step{Name: "matches", Fn: func(a *Accumulator) {
		for _, df := range a.Record.Fields("750") {
			field := ""
			switch strings.TrimSpace(df.Subfield("i")) {
			case "Aequivalenz":
				field = "closeMatch"
			case "exakte Aequivalenz":
				field = "exactMatch"
			default:
				continue
			}
			if entry := matchEntry(df, format); len(entry) > 0 {
				a.Append(field, entry)
			}
		}
	}}
}
