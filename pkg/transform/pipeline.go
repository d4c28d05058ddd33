// Package transform converts MARC authority records into the canonical JSON of a
// (source, kind) pair. Every transformer is an explicit ordered list of steps that
// write into a shared accumulator; steps never perform I/O.
package transform

import (
	"errors"
	"fmt"
	"time"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/models"
)

// ErrSkip is returned when the record is not of the transformer's kind.
var ErrSkip = errors.New("record not targeted by transformer")

// Options carries the few environment values a transformer needs.
type Options struct {
	// Now stamps deleted records. Defaults to time.Now.
	Now func() time.Time
	// BaseURL prefixes $ref links to other source records.
	BaseURL string
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

// Step is one named transformation stage.
type Step struct {
	Name string
	Fn   func(*Accumulator)
}

// Transformer is the ordered pipeline for one (source, kind).
type Transformer struct {
	Source  models.Source
	Kind    models.Kind
	Trigger func(*marc.Record) bool
	Steps   []Step
}

// Transform runs the pipeline. It returns ErrSkip when the trigger set is absent and a
// TRANSFORM_ERROR when the record cannot be read at tag level.
func (t *Transformer) Transform(rec *marc.Record, opts Options) (out map[string]any, err error) {
	if err := rec.Validate(); err != nil {
		return nil, mefErrors.Wrap(mefErrors.CodeTransformError, err, fmt.Sprintf("%s %s", t.Source, t.Kind))
	}
	if !t.Trigger(rec) {
		return nil, ErrSkip
	}

	acc := newAccumulator(rec, opts)
	step := ""
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = mefErrors.Newf(mefErrors.CodeTransformError, "%s %s step %s: %v", t.Source, t.Kind, step, r)
		}
	}()
	for _, s := range t.Steps {
		step = s.Name
		s.Fn(acc)
	}
	return acc.Out, nil
}

// StepNames lists the steps in execution order.
func (t *Transformer) StepNames() []string {
	names := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		names[i] = s.Name
	}
	return names
}

// Accumulator is the output under construction plus hand-offs between steps.
type Accumulator struct {
	Record *marc.Record
	Out    map[string]any
	Opts   Options

	// extraNames collects names from repeated heading fields; the variant_name step
	// folds them into its list.
	extraNames []string
	// extraAccessPoints are headings in non-preferred scripts.
	extraAccessPoints []string
	// organisation routes dates to establishment/termination.
	organisation bool
	// heading is the selected heading field (1XX / 2XX).
	heading *marc.DataField
}

func newAccumulator(rec *marc.Record, opts Options) *Accumulator {
	return &Accumulator{Record: rec, Out: map[string]any{}, Opts: opts}
}

// Set stores v unless it is empty.
func (a *Accumulator) Set(key string, v any) {
	switch t := v.(type) {
	case nil:
		return
	case string:
		if t == "" {
			return
		}
	case []any:
		if len(t) == 0 {
			return
		}
	case map[string]any:
		if len(t) == 0 {
			return
		}
	}
	a.Out[key] = v
}

// SetIfAbsent keeps the first value written for key.
func (a *Accumulator) SetIfAbsent(key string, v any) {
	if _, ok := a.Out[key]; ok {
		return
	}
	a.Set(key, v)
}

// Append adds items to the list at key.
func (a *Accumulator) Append(key string, items ...any) {
	if len(items) == 0 {
		return
	}
	list, _ := a.Out[key].([]any)
	a.Out[key] = append(list, items...)
}

// AppendStrings adds non-empty strings not already present, keeping first occurrence order.
func (a *Accumulator) AppendStrings(key string, values ...string) {
	list, _ := a.Out[key].([]any)
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			seen[s] = true
		}
	}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		list = append(list, v)
	}
	if len(list) > 0 {
		a.Out[key] = list
	}
}

// String reads back a string output.
func (a *Accumulator) String(key string) string {
	s, _ := a.Out[key].(string)
	return s
}

// Steps shared by all transformers.

func pidFromControl(tag string) Step {
	return Step{Name: "pid", Fn: func(a *Accumulator) {
		a.Set(models.FieldPid, a.Record.Control(tag))
	}}
}

func fixedType(t string) Step {
	return Step{Name: "type", Fn: func(a *Accumulator) {
		a.Set(models.FieldType, t)
	}}
}

// deletedByLeader marks the record deleted when leader[5] is one of codes.
func deletedByLeader(codes string) Step {
	return Step{Name: "deleted", Fn: func(a *Accumulator) {
		status := a.Record.LeaderAt(5)
		for i := 0; i < len(codes); i++ {
			if status == codes[i] {
				a.Set(models.FieldDeleted, a.Opts.now().Format(models.DateLayout))
				return
			}
		}
	}}
}

// dropVariantsEqualToAccessPoint keeps variants distinct from the heading.
var dropVariantsEqualToAccessPoint = Step{Name: "variant_cleanup", Fn: func(a *Accumulator) {
	ap := a.String(models.FieldAuthorizedAccessPoint)
	list, _ := a.Out[models.FieldVariantAccessPoint].([]any)
	if len(list) == 0 {
		return
	}
	kept := list[:0]
	for _, v := range list {
		if s, _ := v.(string); s != ap {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(a.Out, models.FieldVariantAccessPoint)
		return
	}
	a.Out[models.FieldVariantAccessPoint] = kept
}}
