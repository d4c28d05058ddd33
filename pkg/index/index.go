// Package index is the search index over stored documents: exact term lookup on
// flattened fields plus an _updated ordering used for incremental sync.
package index

import (
	"context"
	"sort"
	"time"

	"github.com/Ramsey-B/mef/pkg/models"
)

// Index is updated after every store write and queried by the clustering engine.
type Index interface {
	// Index replaces the terms of doc.
	Index(ctx context.Context, doc *models.Document) error
	Remove(ctx context.Context, key models.Key) error
	// Search returns the pids of (kind, source) whose field equals value, sorted.
	Search(ctx context.Context, kind models.Kind, source models.Source, field, value string) ([]string, error)
	// UpdatedSince returns pids with _updated >= from, oldest first.
	UpdatedSince(ctx context.Context, kind models.Kind, source models.Source, from time.Time) ([]string, error)
	// FlushAndRefresh makes earlier writes of (kind, source) visible to Search.
	FlushAndRefresh(ctx context.Context, kind models.Kind, source models.Source) error
	Ping(ctx context.Context) error
}

// Term is one field=value pair.
type Term struct {
	Field string
	Value string
}

// Terms flattens the string leaves of doc into dotted field paths. List elements
// share their parent path, so identifiedBy[].value yields identifiedBy.value.
func Terms(doc *models.Document) []Term {
	seen := map[Term]bool{}
	var out []Term
	var walk func(path string, v any)
	walk = func(path string, v any) {
		switch t := v.(type) {
		case string:
			term := Term{Field: path, Value: t}
			if t != "" && !seen[term] {
				seen[term] = true
				out = append(out, term)
			}
		case []any:
			for _, e := range t {
				walk(path, e)
			}
		case []string:
			for _, e := range t {
				walk(path, e)
			}
		case map[string]any:
			for _, k := range models.SortedKeys(t) {
				p := k
				if path != "" {
					p = path + "." + k
				}
				walk(p, t[k])
			}
		}
	}
	walk("", doc.Data)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}
