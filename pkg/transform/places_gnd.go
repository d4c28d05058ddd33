package transform

import (
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

var gndPlaceFormats = FormatSet{
	"151": {
		Codes:      "agzx",
		Separators: map[string]string{"z": " - ", "x": " - "},
		Groups:     []Group{gndQualifierGroup},
	},
}

// GNDPlaces transforms GND geographic names.
var GNDPlaces = &Transformer{
	Source:  models.SourceGND,
	Kind:    models.KindPlaces,
	Trigger: func(r *marc.Record) bool { return r.Has("151") },
	Steps: []Step{
		pidFromControl("001"),
		fixedType(models.TypePlace),
		deletedByLeader("cdx"),
		gndRedirectTo,
		gndIdentifiers,
		accessPoint(gndPlaceFormats, "151"),
		variantAccessPoints(retag(gndPlaceFormats, map[string]string{"151": "451"}), "451"),
		gndRelations("551", retag(gndPlaceFormats, map[string]string{"151": "551"})),
		gndMatches(gndPlaceFormats["151"]),
		notes(
			noteRule{tag: "670", noteType: NoteDataSource, codes: "ab"},
			noteRule{tag: "680", noteType: NoteGeneral, codes: "a"},
		),
		dropVariantsEqualToAccessPoint,
	},
}
