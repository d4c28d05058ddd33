package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

const idrefPreferredScript = "fre-latn"

var idrefAgentFormats = FormatSet{
	"200": {
		Codes:      "abdcf",
		Separators: map[string]string{"b": ", ", "d": " ", "c": ", ", "f": ", "},
	},
	"210": {
		Codes:      "abcdef",
		Separators: map[string]string{"b": ". "},
		Groups: []Group{
			{Codes: "c", Open: " (", Sep: ", ", Close: ")"},
			{Codes: "def", Open: " (", Sep: " ; ", Close: ")"},
		},
	},
}

var idrefAgentVariantFormats = retag(idrefAgentFormats, map[string]string{"200": "400", "210": "410"})

var idrefNameFormats = FormatSet{
	"200": {Codes: "abdc", Separators: map[string]string{"b": ", ", "d": " ", "c": ", "}},
	"210": {Codes: "ab", Separators: map[string]string{"b": ". "}},
	"400": {Codes: "abdcf", Separators: map[string]string{"b": ", ", "d": " ", "c": ", ", "f": ", "}},
	"410": {Codes: "ab", Separators: map[string]string{"b": ". "}},
}

var idrefGender = map[byte]string{'a': "female", 'b': "male"}

// IdRefAgents transforms IdRef (UNIMARC) person and corporate body records.
var IdRefAgents = &Transformer{
	Source:  models.SourceIdRef,
	Kind:    models.KindAgents,
	Trigger: func(r *marc.Record) bool { return r.Has("200", "210") },
	Steps: []Step{
		pidFromControl("001"),
		idrefHeading,
		idrefAgentType,
		deletedByLeader("d"),
		idrefRedirectFrom,
		idrefIdentifiers,
		idrefAccessPoint,
		idrefPreferredName,
		variantAccessPoints(idrefAgentVariantFormats, "400", "410"),
		idrefVariantName,
		idrefDates,
		idrefGenderStep,
		languages("101", "a"),
		idrefCountry,
		idrefCloseMatch,
		notes(
			noteRule{tag: "810", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "815", noteType: NoteDataNotFound, codes: "a"},
			noteRule{tag: "300", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "320", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "330", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "305", noteType: NoteSeeReference, codes: "ab"},
			noteRule{tag: "310", noteType: NoteSeeReference, codes: "ab"},
		),
		dropVariantsEqualToAccessPoint,
	},
}

// scriptKey is "<language>-<script>" from $8 and $7, defaulting to fre-latn.
func scriptKey(df marc.DataField) string {
	lang := strings.ToLower(strings.TrimSpace(df.Subfield("8")))
	if len(lang) >= 3 {
		lang = lang[:3]
	} else {
		lang = "fre"
	}
	script := "latn"
	code := strings.TrimSpace(df.Subfield("7"))
	if len(code) >= 6 {
		code = code[4:6]
	} else if len(code) >= 2 {
		code = code[:2]
	}
	if s, ok := languageScripts[code]; ok {
		script = s
	}
	return lang + "-" + script
}

// idrefHeading selects the heading in the preferred script. The other script
// headings are kept as variant access points.
var idrefHeading = Step{Name: "heading", Fn: func(a *Accumulator) {
	headings := a.Record.Fields("200", "210")
	if len(headings) == 0 {
		return
	}
	chosen := 0
	for i, df := range headings {
		if scriptKey(df) == idrefPreferredScript {
			chosen = i
			break
		}
	}
	h := headings[chosen]
	a.heading = &h
	for i, df := range headings {
		if i == chosen {
			continue
		}
		if ap := idrefAgentFormats.Build(df); ap != "" {
			a.extraAccessPoints = append(a.extraAccessPoints, ap)
		}
	}
}}

var idrefAgentType = Step{Name: "type", Fn: func(a *Accumulator) {
	if a.heading == nil {
		return
	}
	if a.heading.Tag == "200" {
		a.Set(models.FieldType, models.TypePerson)
		return
	}
	a.organisation = true
	a.Set(models.FieldType, models.TypeOrganisation)
	a.Out["conference"] = a.heading.Ind1 == "1"
}}

var idrefAccessPoint = Step{Name: "authorized_access_point", Fn: func(a *Accumulator) {
	if a.heading != nil {
		a.Set(models.FieldAuthorizedAccessPoint, idrefAgentFormats.Build(*a.heading))
	}
}}

var idrefPreferredName = Step{Name: "preferred_name", Fn: func(a *Accumulator) {
	if a.heading != nil {
		a.Set("preferred_name", idrefNameFormats.Build(*a.heading))
	}
}}

var idrefVariantName = Step{Name: "variant_name", Fn: func(a *Accumulator) {
	a.AppendStrings("variant_name", idrefNameFormats.BuildAll(a.Record, "400", "410")...)
}}

// idrefDates reads 103 $a/$b, falling back to the heading's $f range.
var idrefDates = Step{Name: "dates", Fn: func(a *Accumulator) {
	if df, ok := a.Record.Field("103"); ok {
		from, to := idrefDate(df.Subfield("a")), idrefDate(df.Subfield("b"))
		if from != "" || to != "" {
			setDates(a, from, to)
			return
		}
	}
	if a.heading != nil {
		from, to := splitDates(a.heading.Subfield("f"))
		setDates(a, from, to)
	}
}}

var idrefGenderStep = Step{Name: "gender", Fn: func(a *Accumulator) {
	if a.organisation {
		return
	}
	df, ok := a.Record.Field("120")
	if !ok {
		return
	}
	v := strings.TrimSpace(df.Subfield("a"))
	if v == "" {
		a.Set("gender", "not known")
		return
	}
	if g, ok := idrefGender[v[0]]; ok {
		a.Set("gender", g)
		return
	}
	a.Set("gender", "not known")
}}

var idrefCountry = Step{Name: "country_associated", Fn: func(a *Accumulator) {
	for _, v := range allValues(a.Record, "102", "a") {
		if c := Country(v); c != "" {
			a.Set("country_associated", c)
			return
		}
	}
}}

// idrefCloseMatch maps 822 ($a heading, $2 source, $u URI).
var idrefCloseMatch = Step{Name: "matches", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("822") {
		entry := map[string]any{}
		if ap := Clean(df.Subfield("a")); ap != "" {
			entry[models.FieldAuthorizedAccessPoint] = ap
		}
		source := strings.ToUpper(strings.TrimSpace(df.Subfield("2")))
		if source != "" {
			entry["source"] = source
		}
		if uri := strings.TrimSpace(df.Subfield("u")); uri != "" {
			if source == "" {
				source = sourceFromURI(uri)
			}
			entry[models.FieldIdentifiedBy] = []any{models.Identifier{Source: source, Type: TypeURI, Value: uri}.Map()}
		}
		if len(entry) > 0 {
			a.Append("closeMatch", entry)
		}
	}
}}
