package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

// Note types.
const (
	NoteDataSource   = "dataSource"
	NoteDataNotFound = "dataNotFound"
	NoteGeneral      = "general"
	NoteSeeReference = "seeReference"
)

type noteRule struct {
	tag      string
	noteType string
	codes    string
}

// notes groups note fields by type, keeping the order in which types first appear.
func notes(rules ...noteRule) Step {
	return Step{Name: "note", Fn: func(a *Accumulator) {
		var order []string
		labels := map[string][]string{}
		for _, df := range a.Record.DataFields {
			for _, r := range rules {
				if df.Tag != r.tag {
					continue
				}
				label := Format{Codes: r.codes, Separators: uniformSeparators(r.codes, ": ")}.Build(df)
				if label == "" {
					continue
				}
				if _, ok := labels[r.noteType]; !ok {
					order = append(order, r.noteType)
				}
				labels[r.noteType] = appendUnique(labels[r.noteType], label)
			}
		}
		for _, t := range order {
			a.Append("note", map[string]any{"noteType": t, "label": toAny(labels[t])})
		}
	}}
}

func uniformSeparators(codes, sep string) map[string]string {
	m := make(map[string]string, len(codes))
	for _, c := range codes {
		m[string(c)] = sep
	}
	return m
}

func appendUnique(list []string, v string) []string {
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}

// Relation kinds.
const (
	RelBroader  = "broader"
	RelNarrower = "narrower"
	RelRelated  = "related"
)

// relations classifies see-also fields into broader/narrower/related entries.
func relations(tags []string, classify func(marc.DataField) string, entry func(*Accumulator, marc.DataField) map[string]any) Step {
	return Step{Name: "relations", Fn: func(a *Accumulator) {
		for _, df := range a.Record.Fields(tags...) {
			rel := classify(df)
			if rel == "" {
				continue
			}
			if e := entry(a, df); len(e) > 0 {
				a.Append(rel, e)
			}
		}
	}}
}

// accessPointEntry renders a relation as {authorized_access_point}.
func accessPointEntry(formats FormatSet) func(*Accumulator, marc.DataField) map[string]any {
	return func(_ *Accumulator, df marc.DataField) map[string]any {
		ap := formats.Build(df)
		if ap == "" {
			return nil
		}
		return map[string]any{models.FieldAuthorizedAccessPoint: ap}
	}
}

// byFirstChar classifies by the first character of a control subfield.
func byFirstChar(code string, mapping map[byte]string, fallback string) func(marc.DataField) string {
	return func(df marc.DataField) string {
		v := strings.TrimSpace(df.Subfield(code))
		if v == "" {
			return fallback
		}
		if rel, ok := mapping[v[0]]; ok {
			return rel
		}
		return fallback
	}
}

// ddc renders a Dewey classification entry.
func ddc(portion, name string) map[string]any {
	entry := map[string]any{"type": "bf:ClassificationDdc", "classificationPortion": portion}
	if name != "" {
		entry["name"] = name
	}
	return entry
}

// accessPoint sets authorized_access_point from the first heading field.
func accessPoint(formats FormatSet, tags ...string) Step {
	return Step{Name: "authorized_access_point", Fn: func(a *Accumulator) {
		for _, df := range a.Record.Fields(tags...) {
			if ap := formats.Build(df); ap != "" {
				a.SetIfAbsent(models.FieldAuthorizedAccessPoint, ap)
				return
			}
		}
	}}
}

// variantAccessPoints appends every tracing field rendering.
func variantAccessPoints(formats FormatSet, tags ...string) Step {
	return Step{Name: "variant_access_point", Fn: func(a *Accumulator) {
		a.AppendStrings(models.FieldVariantAccessPoint, a.extraAccessPoints...)
		a.AppendStrings(models.FieldVariantAccessPoint, formats.BuildAll(a.Record, tags...)...)
	}}
}

// languages keeps values of tag$code in the closed language set.
func languages(tag, code string) Step {
	return Step{Name: "language", Fn: func(a *Accumulator) {
		var langs []string
		for _, v := range allValues(a.Record, tag, code) {
			if l := Language(v); l != "" {
				langs = append(langs, l)
			}
		}
		a.AppendStrings("language", langs...)
	}}
}
