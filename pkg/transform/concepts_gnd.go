package transform

import (
	"strings"

	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var gndTopicFormats = FormatSet{
	"150": {Codes: "agx", Separators: map[string]string{"x": " - "}, Groups: []Group{gndQualifierGroup}},
}

var gndTopicVariantFormats = retag(gndTopicFormats, map[string]string{"150": "450"})

// gndRelations classifies 5XX see-also fields by their $4 relation code.
func gndRelations(tag string, formats FormatSet) Step {
	return relations([]string{tag}, func(df marc.DataField) string {
		switch strings.TrimSpace(df.Subfield("4")) {
		case "obal", "obge", "obin", "nach":
			return RelBroader
		case "vorg":
			return RelNarrower
		default:
			return RelRelated
		}
	}, accessPointEntry(formats))
}

// GNDConcepts transforms GND subject headings.
var GNDConcepts = &Transformer{
	Source:  models.SourceGND,
	Kind:    models.KindConcepts,
	Trigger: func(r *marc.Record) bool { return r.Has("150") },
	Steps: []Step{
		pidFromControl("001"),
		fixedType(models.TypeTopic),
		deletedByLeader("cdx"),
		gndRedirectTo,
		gndIdentifiers,
		accessPoint(gndTopicFormats, "150"),
		variantAccessPoints(gndTopicVariantFormats, "450"),
		gndRelations("550", retag(gndTopicFormats, map[string]string{"150": "550"})),
		gndMatches(gndTopicFormats["150"]),
		notes(
			noteRule{tag: "670", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "677", noteType: NoteGeneral, codes: "a"},
			noteRule{tag: "680", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}
