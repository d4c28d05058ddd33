package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var reroAgentFormats = FormatSet{
	"100": {
		Codes:      "abcdnqx",
		Separators: map[string]string{"b": " ", "c": ", ", "d": ", ", "n": " ", "q": " ", "x": ". "},
	},
	"110": {
		Codes:      "abcdnx",
		Separators: map[string]string{"b": ". ", "c": ", ", "d": ", ", "n": " ", "x": ". "},
	},
	"111": {
		Codes:      "acdenx",
		Separators: map[string]string{"e": ". ", "x": ". "},
		Groups:     []Group{{Codes: "ndc", Open: " (", Sep: " : ", Close: ")"}},
	},
}

// RERO agents carry no deletion marker; removals arrive as OAI tombstones.
var REROAgents = &Transformer{
	Source:  models.SourceRERO,
	Kind:    models.KindAgents,
	Trigger: func(r *marc.Record) bool { return r.Has("100", "110", "111") },
	Steps: []Step{
		reroPid,
		reroAgentType,
		reroURI,
		accessPoint(reroAgentFormats, "100", "110", "111"),
		{Name: "preferred_name", Fn: func(a *Accumulator) {
			if a.heading != nil {
				a.Set("preferred_name", Clean(a.heading.Subfield("a")))
			}
		}},
		variantAccessPoints(retag(reroAgentFormats, map[string]string{"100": "400", "110": "410", "111": "411"}), "400", "410", "411"),
		{Name: "variant_name", Fn: func(a *Accumulator) {
			var names []string
			for _, tag := range []string{"400", "410", "411"} {
				names = append(names, cleanAll(allValues(a.Record, tag, "a"))...)
			}
			a.AppendStrings("variant_name", names...)
		}},
		{Name: "dates", Fn: func(a *Accumulator) {
			if a.heading != nil {
				from, to := splitDates(a.heading.Subfield("d"))
				setDates(a, from, to)
			}
		}},
		reroCloseMatch,
		notes(
			noteRule{tag: "670", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "675", noteType: NoteDataNotFound, codes: "a"},
			noteRule{tag: "680", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "667", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "260", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "360", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "016", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}

var reroAgentType = Step{Name: "type", Fn: func(a *Accumulator) {
	df, _ := a.Record.Field("100", "110", "111")
	a.heading = &df
	if df.Tag == "100" {
		a.Set(models.FieldType, models.TypePerson)
		return
	}
	a.organisation = true
	a.Set(models.FieldType, models.TypeOrganisation)
	a.Out["conference"] = df.Tag == "111"
}}

// reroCloseMatch maps 682 ($a heading, $v identifier).
var reroCloseMatch = Step{Name: "matches", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("682") {
		entry := map[string]any{}
		if ap := Clean(df.Subfield("a")); ap != "" {
			entry[models.FieldAuthorizedAccessPoint] = ap
		}
		if v := strings.TrimSpace(df.Subfield("v")); v != "" {
			id, ok := controlNumberIdentifier(v)
			if !ok {
				id = models.Identifier{Type: TypeLocal, Value: v}
				if isURI(v) {
					id = models.Identifier{Source: sourceFromURI(v), Type: TypeURI, Value: v}
				}
			}
			if id.Source != "" {
				entry["source"] = id.Source
			}
			entry[models.FieldIdentifiedBy] = []any{id.Map()}
		}
		if len(entry) > 0 {
			a.Append("closeMatch", entry)
		}
	}
}}

func cleanAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if c := Clean(v); c != "" {
			out = append(out, c)
		}
	}
	return out
}
