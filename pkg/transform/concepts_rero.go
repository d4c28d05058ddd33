package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var reroTopicFormat = Format{Codes: "a"}

var reroTopicFormats = FormatSet{
	"150": reroTopicFormat, "155": reroTopicFormat,
	"450": reroTopicFormat, "455": reroTopicFormat,
	"550": reroTopicFormat, "555": reroTopicFormat,
}

var reroRelationCodes = map[byte]string{'g': RelBroader, 'h': RelNarrower}

// REROConcepts transforms RERO subject and genre/form headings.
var REROConcepts = &Transformer{
	Source:  models.SourceRERO,
	Kind:    models.KindConcepts,
	Trigger: func(r *marc.Record) bool { return r.Has("150", "155") },
	Steps: []Step{
		reroPid,
		fixedType(models.TypeTopic),
		reroTopicIdentifiers,
		accessPoint(reroTopicFormats, "150", "155"),
		variantAccessPoints(reroTopicFormats, "450", "455"),
		relations([]string{"550", "555"}, byFirstChar("w", reroRelationCodes, RelRelated), accessPointEntry(reroTopicFormats)),
		reroClassification,
		notes(
			noteRule{tag: "670", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "680", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "667", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}

// reroTopicIdentifiers reads 016$a (BnF numbers) and 679 ($u URI or $a local id, $2 source).
var reroTopicIdentifiers = Step{Name: "identifiedBy", Fn: func(a *Accumulator) {
	var ids []models.Identifier
	for _, v := range allValues(a.Record, "016", "a") {
		value := v
		if f := FRBNF(v); f != "" {
			value = f
		}
		ids = append(ids, models.Identifier{Source: "BNF", Type: TypeNbn, Value: value})
	}
	for _, df := range a.Record.Fields("679") {
		source := strings.ToUpper(strings.TrimSpace(df.Subfield("2")))
		if uri := strings.TrimSpace(df.Subfield("u")); uri != "" {
			if source == "" {
				source = sourceFromURI(uri)
			}
			ids = append(ids, models.Identifier{Source: source, Type: TypeURI, Value: uri})
		}
		if local := strings.TrimSpace(df.Subfield("a")); local != "" {
			ids = append(ids, models.Identifier{Source: source, Type: TypeLocal, Value: local})
		}
	}
	appendIdentifiers(a, ids...)
}}

// reroClassification splits 072$a "number-label" into a DDC entry.
var reroClassification = Step{Name: "classification", Fn: func(a *Accumulator) {
	for _, v := range allValues(a.Record, "072", "a") {
		portion, name, _ := strings.Cut(v, "-")
		if portion = strings.TrimSpace(portion); portion != "" {
			a.Append("classification", ddc(portion, strings.TrimSpace(name)))
		}
	}
}}
