package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var idrefTopicFormat = Format{
	Codes:      "axyz",
	Separators: map[string]string{"x": " -- ", "y": " -- ", "z": " -- "},
}

var idrefTopicFormats = FormatSet{
	"250": idrefTopicFormat, "280": idrefTopicFormat,
	"450": idrefTopicFormat, "480": idrefTopicFormat,
	"515": idrefTopicFormat, "550": idrefTopicFormat, "580": idrefTopicFormat,
}

// idrefTopicTypes are the 008$a record types holding topical subjects.
var idrefTopicTypes = map[string]bool{"Td8": true, "Tf8": true, "Tz8": true}

var idrefRelationCodes = map[byte]string{'g': RelBroader, 'h': RelNarrower, 'z': RelRelated}

// idrefRecordType reads 008$a, which IdRef may deliver as a data or control field.
func idrefRecordType(r *marc.Record) string {
	if df, ok := r.Field("008"); ok {
		return strings.TrimSpace(df.Subfield("a"))
	}
	return strings.TrimSpace(r.Control("008"))
}

// idrefRelationEntry links to the related IdRef record when $3 carries its pid.
func idrefRelationEntry(kind models.Kind) func(*Accumulator, marc.DataField) map[string]any {
	return func(a *Accumulator, df marc.DataField) map[string]any {
		if pid := strings.TrimSpace(df.Subfield("3")); pid != "" {
			base := strings.TrimRight(a.Opts.BaseURL, "/")
			return map[string]any{models.FieldRef: base + "/" + string(kind) + "/" + string(models.SourceIdRef) + "/" + pid}
		}
		if ap := idrefTopicFormats.Build(df); ap != "" {
			return map[string]any{models.FieldAuthorizedAccessPoint: ap}
		}
		return nil
	}
}

// IdRefConcepts transforms IdRef (RAMEAU) subject headings.
var IdRefConcepts = &Transformer{
	Source: models.SourceIdRef,
	Kind:   models.KindConcepts,
	Trigger: func(r *marc.Record) bool {
		return r.Has("250", "280") && idrefTopicTypes[idrefRecordType(r)]
	},
	Steps: []Step{
		pidFromControl("001"),
		fixedType(models.TypeTopic),
		deletedByLeader("d"),
		idrefRedirectFrom,
		idrefIdentifiers,
		accessPoint(idrefTopicFormats, "250", "280"),
		variantAccessPoints(idrefTopicFormats, "450", "480"),
		relations([]string{"550", "580", "515"}, byFirstChar("5", idrefRelationCodes, ""), idrefRelationEntry(models.KindConcepts)),
		idrefClassification,
		notes(
			noteRule{tag: "810", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "815", noteType: NoteDataNotFound, codes: "a"},
			noteRule{tag: "300", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "330", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}

// idrefClassification maps 686 ($a number, $c label) to DDC entries.
var idrefClassification = Step{Name: "classification", Fn: func(a *Accumulator) {
	for _, df := range a.Record.Fields("686") {
		if portion := Clean(df.Subfield("a")); portion != "" {
			a.Append("classification", ddc(portion, Clean(df.Subfield("c"))))
		}
	}
}}
