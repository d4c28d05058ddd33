package transform

import (
	"errors"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

type registryKey struct {
	source models.Source
	kind   models.Kind
}

// Registry resolves the transformer of a (source, kind) pair.
type Registry struct {
	transformers map[registryKey]*Transformer
}

// NewRegistry returns a registry holding ts. Later entries replace earlier ones.
func NewRegistry(ts ...*Transformer) *Registry {
	r := &Registry{transformers: make(map[registryKey]*Transformer, len(ts))}
	for _, t := range ts {
		r.transformers[registryKey{t.Source, t.Kind}] = t
	}
	return r
}

// DefaultRegistry holds every built-in transformer.
func DefaultRegistry() *Registry {
	return NewRegistry(
		GNDAgents, IdRefAgents, REROAgents,
		GNDConcepts, IdRefConcepts, REROConcepts,
		GNDPlaces, IdRefPlaces,
	)
}

// Lookup returns the transformer for (source, kind) or a MISCONFIGURATION error.
func (r *Registry) Lookup(source models.Source, kind models.Kind) (*Transformer, error) {
	t, ok := r.transformers[registryKey{source, kind}]
	if !ok {
		return nil, mefErrors.Newf(mefErrors.CodeMisconfiguration, "no transformer for %s %s", source, kind)
	}
	return t, nil
}

// Has reports whether (source, kind) has a transformer.
func (r *Registry) Has(source models.Source, kind models.Kind) bool {
	_, ok := r.transformers[registryKey{source, kind}]
	return ok
}

// Transform looks up the transformer and runs it. skipped is true when the record
// does not carry the kind's trigger fields.
func (r *Registry) Transform(source models.Source, kind models.Kind, rec *marc.Record, opts Options) (out map[string]any, skipped bool, err error) {
	t, err := r.Lookup(source, kind)
	if err != nil {
		return nil, false, err
	}
	out, err = t.Transform(rec, opts)
	if errors.Is(err, ErrSkip) {
		return nil, true, nil
	}
	return out, false, err
}
