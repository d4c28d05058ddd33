package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var gndQualifierGroup = Group{Codes: "g", Open: " (", Sep: ", ", Close: ")"}

var gndAgentFormats = FormatSet{
	"100": {
		Codes:      "abcdgn",
		Separators: map[string]string{"b": " ", "c": ", ", "d": ", ", "n": " "},
		Groups:     []Group{gndQualifierGroup},
	},
	"110": {
		Codes:      "abcdegn",
		Separators: map[string]string{"b": ". ", "c": ", ", "d": ", ", "e": ". ", "n": " "},
		Groups:     []Group{gndQualifierGroup},
	},
	"111": {
		Codes:      "acdegn",
		Separators: map[string]string{"e": ". "},
		Groups:     []Group{gndQualifierGroup, {Codes: "ndc", Open: " (", Sep: " : ", Close: ")"}},
	},
}

var gndAgentVariantFormats = retag(gndAgentFormats, map[string]string{"100": "400", "110": "410", "111": "411"})

var gndNameFormats = FormatSet{
	"100": {Codes: "abc", Separators: map[string]string{"b": " ", "c": ", "}},
	"110": {Codes: "ab", Separators: map[string]string{"b": ". "}},
	"111": {Codes: "ae", Separators: map[string]string{"e": ". "}},
	"400": {Codes: "ac", Separators: map[string]string{"c": ", "}},
	"410": {Codes: "ab", Separators: map[string]string{"b": ". "}},
	"411": {Codes: "ae", Separators: map[string]string{"e": ". "}},
}

var gndGender = map[string]string{"1": "male", "2": "female", "": "not known", "0": "not known"}

// GNDAgents transforms GND (MARC21) person and corporate body records.
var GNDAgents = &Transformer{
	Source:  models.SourceGND,
	Kind:    models.KindAgents,
	Trigger: func(r *marc.Record) bool { return r.Has("100", "110", "111") },
	Steps: []Step{
		pidFromControl("001"),
		gndAgentType,
		deletedByLeader("cdx"),
		gndRedirectTo,
		gndIdentifiers,
		accessPoint(gndAgentFormats, "100", "110", "111"),
		gndPreferredName,
		variantAccessPoints(gndAgentVariantFormats, "400", "410", "411"),
		gndVariantName,
		{Name: "dates", Fn: func(a *Accumulator) {
			from, to := gndDates(a.Record)
			setDates(a, from, to)
		}},
		gndGenderStep,
		languages("377", "a"),
		gndCountry,
		gndMatches(gndAgentFormats["110"]),
		notes(
			noteRule{tag: "670", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "677", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "678", noteType: NoteGeneral, codes: "ab"},
			noteRule{tag: "680", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}

var gndAgentType = Step{Name: "type", Fn: func(a *Accumulator) {
	df, _ := a.Record.Field("100", "110", "111")
	a.heading = &df
	switch df.Tag {
	case "100":
		a.Set(models.FieldType, models.TypePerson)
		return
	case "111":
		a.Out["conference"] = true
	case "110":
		conference := false
		for _, v := range allValues(a.Record, "075", "b") {
			if v == "f" {
				conference = true
			}
		}
		a.Out["conference"] = conference
	}
	a.organisation = true
	a.Set(models.FieldType, models.TypeOrganisation)
}}

// gndPreferredName uses the first heading; further 1XX fields become variant names.
var gndPreferredName = Step{Name: "preferred_name", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("100", "110", "111") {
		name := gndNameFormats.Build(df)
		if name == "" {
			continue
		}
		if a.String("preferred_name") == "" {
			a.Set("preferred_name", name)
			continue
		}
		a.extraNames = append(a.extraNames, name)
	}
}}

var gndVariantName = Step{Name: "variant_name", Fn: func(a *Accumulator) {
	a.AppendStrings("variant_name", a.extraNames...)
	a.AppendStrings("variant_name", gndNameFormats.BuildAll(a.Record, "400", "410", "411")...)
}}

var gndGenderStep = Step{Name: "gender", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("375") {
		if !df.HasSubfield("a") {
			continue
		}
		if g, ok := gndGender[strings.TrimSpace(df.Subfield("a"))]; ok {
			a.Set("gender", g)
			return
		}
	}
}}

// gndCountry reads 043$c "XA-DE-BY" style codes and maps the middle token.
var gndCountry = Step{Name: "country_associated", Fn: func(a *Accumulator) {
	for _, v := range allValues(a.Record, "043", "c") {
		parts := strings.Split(v, "-")
		if len(parts) < 2 {
			continue
		}
		if c := Country(parts[1]); c != "" {
			a.Set("country_associated", c)
			return
		}
	}
}}

// retag copies formats under new tags.
func retag(fs FormatSet, tags map[string]string) FormatSet {
	out := FormatSet{}
	for from, to := range tags {
		if f, ok := fs[from]; ok {
			out[to] = f
		}
	}
	return out
}
