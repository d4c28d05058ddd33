package coordinator

import (
	"context"

	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/models"
)

// Enricher adds derived fields to a transformed record before it is stored.
// Transformers stay pure; anything that needs configuration or I/O runs here.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, kind models.Kind, source models.Source, data map[string]any) error
}

// AssociationEnricher sets the association identifier concepts and places
// cluster on.
type AssociationEnricher struct {
	Threshold int
}

func (AssociationEnricher) Name() string { return "association_identifier" }

func (e AssociationEnricher) Enrich(_ context.Context, kind models.Kind, source models.Source, data map[string]any) error {
	if id := cluster.AssociationIdentifier(kind, source, data, e.Threshold); id != "" {
		data[models.FieldAssociationIdentifier] = id
	}
	return nil
}

// LookupFunc resolves an identifier through an external service. It returns ""
// when nothing matches.
type LookupFunc func(ctx context.Context, value string) (string, error)

// LookupEnricher copies the result of an external lookup keyed by the association
// identifier into Field. Lookup failures leave the record untouched.
type LookupEnricher struct {
	Kinds  []models.Kind
	Field  string
	Lookup LookupFunc
}

func (e LookupEnricher) Name() string { return "lookup:" + e.Field }

func (e LookupEnricher) Enrich(ctx context.Context, kind models.Kind, _ models.Source, data map[string]any) error {
	applies := len(e.Kinds) == 0
	for _, k := range e.Kinds {
		applies = applies || k == kind
	}
	key, _ := data[models.FieldAssociationIdentifier].(string)
	if !applies || key == "" || e.Lookup == nil {
		return nil
	}
	v, err := e.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if v != "" {
		data[e.Field] = v
	}
	return nil
}
