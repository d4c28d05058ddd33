// Package record applies the source record lifecycle: create, update, delete and
// redirect, with the content digest shortcutting no-op updates.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/fingerprint"
	"github.com/Ramsey-B/mef/pkg/index"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/store"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// DefaultMaxDepth bounds redirect chains.
const DefaultMaxDepth = 10

// Options tune one CreateOrUpdate call.
type Options struct {
	// TestMD5 enables the UPTODATE shortcut on equal digests.
	TestMD5 bool
}

// DefaultOptions is what the coordinator uses.
var DefaultOptions = Options{TestMD5: true}

// Result is the outcome of CreateOrUpdate.
type Result struct {
	Record    *models.Document
	Action    models.Action
	MefAction models.MefAction
	// Target is the terminal record a redirect stub now forwards to.
	Target *models.Document
	// Redirected lists the stubs written for redirect_from relations of Record.
	Redirected []*models.Document

	previous []snapshot
}

// Written reports whether the call changed the store.
func (r *Result) Written() bool { return len(r.previous) > 0 }

type snapshot struct {
	key models.Key
	doc *models.Document
}

type minimalRecord struct {
	Pid  string `validate:"required,max=255"`
	Type string `validate:"required,oneof=bf:Person bf:Organisation bf:Topic bf:Place"`
}

type minimalCrossReference struct {
	Pid string `validate:"required,max=255"`
}

// Engine persists source and VIAF records. It does not touch clusters: the
// coordinator feeds the Result to the clustering engine.
type Engine struct {
	store    store.Store
	index    index.Index
	logger   ectologger.Logger
	validate *validator.Validate
	maxDepth int
	now      func() time.Time
}

func NewEngine(s store.Store, idx index.Index, logger ectologger.Logger, maxDepth int) *Engine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Engine{
		store:    s,
		index:    idx,
		logger:   logger,
		validate: validator.New(),
		maxDepth: maxDepth,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) MaxDepth() int { return e.maxDepth }

// CreateOrUpdate stores data as the (kind, source) record it describes.
func (e *Engine) CreateOrUpdate(ctx context.Context, kind models.Kind, source models.Source, data map[string]any, opts Options) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Engine.CreateOrUpdate")
	defer span.End()

	pid, _ := data[models.FieldPid].(string)
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":   kind,
		"source": source,
		"pid":    pid,
	})

	if err := e.validateInput(source, data); err != nil {
		log.WithError(err).Debug("Discarding invalid record")
		return &Result{Action: models.ActionDiscard, MefAction: models.MefActionDiscard}, nil
	}

	data = models.CloneMap(data)
	delete(data, models.FieldCreated)
	delete(data, models.FieldUpdated)
	data[models.FieldMD5] = fingerprint.Generate(data)
	key := models.NewKey(kind, source, pid)

	res := &Result{}
	err := e.store.Update(ctx, func(ctx context.Context, tx store.Writer) error {
		res.previous = nil
		res.Redirected = nil
		res.Target = nil
		switch rel := models.RelationPidOf(data); {
		case data[models.FieldDeleted] != nil && (rel == nil || rel.Type != models.RedirectTo):
			return e.deletePath(ctx, tx, key, data, res)
		case rel != nil && rel.Type == models.RedirectTo:
			return e.redirectPath(ctx, tx, key, rel.Value, res)
		default:
			if err := e.upsert(ctx, tx, key, data, opts, res); err != nil {
				return err
			}
			if rel != nil && rel.Type == models.RedirectFrom && rel.Value != pid {
				return e.redirectFrom(ctx, tx, models.NewKey(kind, source, rel.Value), key, res)
			}
			return nil
		}
	})
	if err != nil {
		if mefErrors.CodeOf(err) == "" {
			err = mefErrors.Wrap(mefErrors.CodeStoreError, err, "record transaction failed")
		}
		var pe *mefErrors.PipelineError
		if errors.As(err, &pe) && pe.Pid == "" {
			pe.WithRecord(string(kind), string(source), pid)
		}
		log.WithError(err).Error("Failed to apply record lifecycle")
		return nil, err
	}

	if err := e.refresh(ctx, res.previous); err != nil {
		// The caller retries from the previous state, so the store must not keep
		// a write the clusters never saw.
		log.WithError(err).Error("Failed to refresh index")
		if rerr := e.Revert(context.WithoutCancel(ctx), res); rerr != nil {
			log.WithError(rerr).Error("Failed to revert record after index failure")
		}
		return nil, err
	}

	log.WithFields(map[string]any{
		"action":     res.Action,
		"mef_action": res.MefAction,
	}).Debug("Applied record lifecycle")
	return res, nil
}

// Delete tombstones an existing record, as an upstream deletion would.
func (e *Engine) Delete(ctx context.Context, key models.Key) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Engine.Delete")
	defer span.End()

	data := map[string]any{models.FieldPid: key.Pid}
	existing, err := store.Find(ctx, e.store, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		data = models.CloneMap(existing.Data)
		delete(data, models.FieldMD5)
	}
	delete(data, models.FieldRelationPid)
	data[models.FieldDeleted] = e.now().Format(models.DateLayout)
	return e.CreateOrUpdate(ctx, key.Kind, key.Source, data, DefaultOptions)
}

// Revert restores every document res wrote to its previous version. The
// coordinator calls it when the cluster update of the same record fails.
func (e *Engine) Revert(ctx context.Context, res *Result) error {
	ctx, span := tracing.StartSpan(ctx, "record.Engine.Revert")
	defer span.End()

	if res == nil || len(res.previous) == 0 {
		return nil
	}
	err := e.store.Update(ctx, func(ctx context.Context, tx store.Writer) error {
		for i := len(res.previous) - 1; i >= 0; i-- {
			snap := res.previous[i]
			if snap.doc == nil {
				if err := tx.Delete(ctx, snap.key); err != nil {
					return err
				}
				continue
			}
			if err := tx.Put(ctx, snap.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return mefErrors.Wrap(mefErrors.CodeStoreError, err, "revert record")
	}
	return e.refresh(ctx, res.previous)
}

// GetLatest follows redirect_to links from key and returns the terminal record.
func (e *Engine) GetLatest(ctx context.Context, key models.Key) (*models.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Engine.GetLatest")
	defer span.End()
	return Follow(ctx, e.store, key, e.maxDepth)
}

// Follow walks the redirect chain starting at key. A chain longer than maxDepth
// hops or a cycle is CORRUPT_REDIRECT.
func Follow(ctx context.Context, r store.Reader, key models.Key, maxDepth int) (*models.Document, error) {
	seen := map[string]bool{key.Pid: true}
	cur := key
	for hops := 0; ; hops++ {
		doc, err := r.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		next := doc.RedirectTarget()
		if next == "" {
			return doc, nil
		}
		if seen[next] {
			return nil, corruptRedirect(key, "redirect cycle through %s", next)
		}
		if hops+1 > maxDepth {
			return nil, corruptRedirect(key, "redirect chain longer than %d", maxDepth)
		}
		seen[next] = true
		cur = models.NewKey(key.Kind, key.Source, next)
	}
}

func corruptRedirect(key models.Key, format string, args ...any) error {
	return mefErrors.Newf(mefErrors.CodeCorruptRedirect, format, args...).WithRecord(string(key.Kind), string(key.Source), key.Pid)
}

func (e *Engine) validateInput(source models.Source, data map[string]any) error {
	pid, _ := data[models.FieldPid].(string)
	// Tombstones and cross references only need a pid.
	if source == models.SourceVIAF || data[models.FieldDeleted] != nil {
		return e.validate.Struct(minimalCrossReference{Pid: pid})
	}
	typ, _ := data[models.FieldType].(string)
	return e.validate.Struct(minimalRecord{Pid: pid, Type: typ})
}

func (e *Engine) upsert(ctx context.Context, tx store.Writer, key models.Key, data map[string]any, opts Options, res *Result) error {
	existing, err := store.Find(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing != nil && opts.TestMD5 && existing.MD5() == data[models.FieldMD5] {
		res.Record = existing
		res.Action = models.ActionUptodate
		res.MefAction = models.MefActionDiscard
		return nil
	}

	doc := models.NewDocument(key, data)
	res.Action, res.MefAction = models.ActionCreate, models.MefActionCreate
	if existing != nil {
		res.Action, res.MefAction = models.ActionUpdate, models.MefActionUpdate
	}
	if err := e.write(ctx, tx, existing, doc, res); err != nil {
		return err
	}
	res.Record = doc
	return nil
}

func (e *Engine) deletePath(ctx context.Context, tx store.Writer, key models.Key, data map[string]any, res *Result) error {
	existing, err := store.Find(ctx, tx, key)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsDeleted() {
		res.Record = existing
		res.Action = models.ActionUptodate
		res.MefAction = models.MefActionDiscard
		return nil
	}

	doc := models.NewDocument(key, data)
	if err := e.write(ctx, tx, existing, doc, res); err != nil {
		return err
	}
	res.Record = doc
	res.Action = models.ActionDelete
	res.MefAction = models.MefActionUpdate
	if existing == nil {
		res.MefAction = models.MefActionDiscard
	}
	return nil
}

// redirectPath turns key into a stub forwarding to target.
func (e *Engine) redirectPath(ctx context.Context, tx store.Writer, key models.Key, target string, res *Result) error {
	stub, terminal, changed, err := e.redirect(ctx, tx, key, target, res)
	if err != nil {
		return err
	}
	res.Record = stub
	res.Target = terminal
	res.Action = models.ActionRedirect
	res.MefAction = models.MefActionUpdate
	if !changed {
		res.Action = models.ActionUptodate
		res.MefAction = models.MefActionDiscard
	}
	return nil
}

// redirectFrom applies the redirect path to the predecessor of a record just written.
func (e *Engine) redirectFrom(ctx context.Context, tx store.Writer, from, to models.Key, res *Result) error {
	stub, _, changed, err := e.redirect(ctx, tx, from, to.Pid, res)
	if err != nil {
		return err
	}
	if changed {
		res.Redirected = append(res.Redirected, stub)
		if res.MefAction == models.MefActionDiscard {
			res.MefAction = models.MefActionUpdate
		}
	}
	return nil
}

func (e *Engine) redirect(ctx context.Context, tx store.Writer, key models.Key, target string, res *Result) (stub, terminal *models.Document, changed bool, err error) {
	if target == key.Pid {
		return nil, nil, false, corruptRedirect(key, "record redirects to itself")
	}
	targetKey := models.NewKey(key.Kind, key.Source, target)

	existing, err := store.Find(ctx, tx, key)
	if err != nil {
		return nil, nil, false, err
	}

	terminal, err = e.ensureTarget(ctx, tx, key, targetKey, existing, res)
	if err != nil {
		return nil, nil, false, err
	}

	if existing != nil && existing.RedirectTarget() == target {
		return existing, terminal, false, nil
	}

	data := map[string]any{
		models.FieldPid:         key.Pid,
		models.FieldRelationPid: map[string]any{"type": models.RedirectTo, "value": target},
		models.FieldDeleted:     e.now().Format(models.DateLayout),
	}
	data[models.FieldMD5] = fingerprint.Generate(data)
	stub = models.NewDocument(key, data)
	if err := e.write(ctx, tx, existing, stub, res); err != nil {
		return nil, nil, false, err
	}
	return stub, terminal, true, nil
}

// ensureTarget validates the chain below targetKey and creates a minimal record
// for an unknown target.
func (e *Engine) ensureTarget(ctx context.Context, tx store.Writer, from, targetKey models.Key, existing *models.Document, res *Result) (*models.Document, error) {
	seen := map[string]bool{from.Pid: true}
	cur := targetKey
	for hops := 1; ; hops++ {
		if hops > e.maxDepth {
			return nil, corruptRedirect(from, "redirect chain longer than %d", e.maxDepth)
		}
		if seen[cur.Pid] {
			return nil, corruptRedirect(from, "redirect cycle through %s", cur.Pid)
		}
		seen[cur.Pid] = true

		doc, err := store.Find(ctx, tx, cur)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			if cur != targetKey {
				// A dangling link further down is left for its own redirect.
				return nil, corruptRedirect(from, "redirect chain ends at unknown %s", cur.Pid)
			}
			data := map[string]any{models.FieldPid: cur.Pid}
			if existing != nil && existing.Type() != "" {
				data[models.FieldType] = existing.Type()
			}
			data[models.FieldMD5] = fingerprint.Generate(data)
			doc = models.NewDocument(cur, data)
			if err := e.write(ctx, tx, nil, doc, res); err != nil {
				return nil, err
			}
			return doc, nil
		}
		next := doc.RedirectTarget()
		if next == "" {
			return doc, nil
		}
		cur = models.NewKey(cur.Kind, cur.Source, next)
	}
}

// write puts doc, keeping _created of the previous version and recording it for Revert.
func (e *Engine) write(ctx context.Context, tx store.Writer, previous, doc *models.Document, res *Result) error {
	now := e.now()
	doc.Created = now
	if previous != nil && !previous.Created.IsZero() {
		doc.Created = previous.Created
	}
	doc.Updated = now
	if err := tx.Put(ctx, doc); err != nil {
		return err
	}
	res.previous = append(res.previous, snapshot{key: doc.Key, doc: previous.Clone()})
	return nil
}

// refresh reindexes the written keys and flushes their (kind, source) indexes.
func (e *Engine) refresh(ctx context.Context, snaps []snapshot) error {
	if e.index == nil || len(snaps) == 0 {
		return nil
	}
	type scope struct {
		kind   models.Kind
		source models.Source
	}
	scopes := map[scope]bool{}
	for _, snap := range snaps {
		doc, err := store.Find(ctx, e.store, snap.key)
		if err != nil {
			return err
		}
		if doc == nil {
			err = e.index.Remove(ctx, snap.key)
		} else {
			err = e.index.Index(ctx, doc)
		}
		if err != nil {
			return mefErrors.Wrap(mefErrors.CodeStoreError, err, "index record")
		}
		scopes[scope{snap.key.Kind, snap.key.Source}] = true
	}
	for s := range scopes {
		if err := e.index.FlushAndRefresh(ctx, s.kind, s.source); err != nil {
			return mefErrors.Wrap(mefErrors.CodeStoreError, err, "refresh index")
		}
	}
	return nil
}
