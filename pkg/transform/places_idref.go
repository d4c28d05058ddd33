package transform

import (
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var idrefPlaceFormats = FormatSet{"215": idrefTopicFormat, "415": idrefTopicFormat, "515": idrefTopicFormat}

// IdRefPlaces transforms IdRef geographic names.
var IdRefPlaces = &Transformer{
	Source:  models.SourceIdRef,
	Kind:    models.KindPlaces,
	Trigger: func(r *marc.Record) bool { return r.Has("215") },
	Steps: []Step{
		pidFromControl("001"),
		fixedType(models.TypePlace),
		deletedByLeader("d"),
		idrefRedirectFrom,
		idrefIdentifiers,
		accessPoint(idrefPlaceFormats, "215"),
		variantAccessPoints(idrefPlaceFormats, "415"),
		relations([]string{"515"}, byFirstChar("5", idrefRelationCodes, ""), idrefRelationEntry(models.KindPlaces)),
		notes(
			noteRule{tag: "810", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "815", noteType: NoteDataNotFound, codes: "a"},
			noteRule{tag: "300", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}
