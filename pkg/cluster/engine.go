// Package cluster maintains the MEF clusters: one cluster per real-world entity
// holding at most one live reference per source.
package cluster

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/index"
	"github.com/Ramsey-B/mef/pkg/locks"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/record"
	"github.com/Ramsey-B/mef/pkg/store"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// ChangeType names a cluster change as published on the event stream.
type ChangeType string

const (
	ChangeCreated     ChangeType = "mef.created"
	ChangeUpdated     ChangeType = "mef.updated"
	ChangeDeleted     ChangeType = "mef.deleted"
	ChangeMerged      ChangeType = "mef.merged"
	ChangeNeedsReview ChangeType = "mef.needs_review"
)

// Change describes one committed cluster change.
type Change struct {
	Type ChangeType
	Kind models.Kind
	Pid  string
	// Into is the surviving cluster of a merge, or the cluster a review concerns.
	Into string
	// Source and SourcePid name the record a review concerns.
	Source    models.Source
	SourcePid string
	Cluster   *models.Document
}

// Outcome lists what one operation wrote.
type Outcome struct {
	Clusters []*models.Document
	Changes  []Change
}

// Add appends the writes of other.
func (o *Outcome) Add(other *Outcome) {
	if other == nil {
		return
	}
	o.Clusters = append(o.Clusters, other.Clusters...)
	o.Changes = append(o.Changes, other.Changes...)
}

// Config holds the engine settings.
type Config struct {
	// BaseURL prefixes the $ref of every source reference.
	BaseURL  string
	MaxDepth int
}

// Engine is the clustering engine.
type Engine struct {
	store    store.Store
	index    index.Index
	locker   locks.Locker
	logger   ectologger.Logger
	baseURL  string
	maxDepth int
	now      func() time.Time
}

func NewEngine(s store.Store, idx index.Index, locker locks.Locker, logger ectologger.Logger, cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = record.DefaultMaxDepth
	}
	if locker == nil {
		locker = locks.NewMemory()
	}
	return &Engine{
		store:    s,
		index:    idx,
		locker:   locker,
		logger:   logger,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxDepth: cfg.MaxDepth,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Ref is the canonical URL of a source record.
func (e *Engine) Ref(kind models.Kind, source models.Source, pid string) string {
	return e.baseURL + "/" + string(kind) + "/" + string(source) + "/" + pid
}

func recordLock(key models.Key) string { return "record:" + key.String() }

func clusterLock(kind models.Kind, pid string) string {
	if pid == "" {
		return ""
	}
	return "cluster:" + string(kind) + ":" + pid
}

// run executes fn in one locked transaction, writes the touched clusters and
// indexes them.
func (e *Engine) run(ctx context.Context, kind models.Kind, lockKeys []string, fn func(ctx context.Context, s *session) error) (*Outcome, error) {
	unlock, err := e.locker.Lock(ctx, lockKeys...)
	if err != nil {
		return nil, mefErrors.Wrap(mefErrors.CodeStoreError, err, "acquire cluster lock")
	}
	defer unlock()

	out := &Outcome{}
	err = e.store.Update(ctx, func(ctx context.Context, tx store.Writer) error {
		s := e.newSession(tx, kind)
		if err := fn(ctx, s); err != nil {
			return err
		}
		written, err := s.flush(ctx)
		if err != nil {
			return err
		}
		out.Clusters, out.Changes = written, s.changes
		return nil
	})
	if err != nil {
		if mefErrors.CodeOf(err) == "" {
			err = mefErrors.Wrap(mefErrors.CodeStoreError, err, "cluster transaction failed")
		}
		return nil, err
	}

	if e.index != nil && len(out.Clusters) > 0 {
		for _, d := range out.Clusters {
			if err := e.index.Index(ctx, d); err != nil {
				return out, mefErrors.Wrap(mefErrors.CodeStoreError, err, "index cluster")
			}
		}
		if err := e.index.FlushAndRefresh(ctx, kind, models.SourceMEF); err != nil {
			return out, mefErrors.Wrap(mefErrors.CodeStoreError, err, "refresh cluster index")
		}
	}
	return out, nil
}

// AddSource references key from the cluster clusterPid, or from a new cluster when
// clusterPid is empty. An existing reference of the same source is replaced.
func (e *Engine) AddSource(ctx context.Context, clusterPid string, key models.Key) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.AddSource")
	defer span.End()

	return e.run(ctx, key.Kind, []string{recordLock(key), clusterLock(key.Kind, clusterPid)}, func(ctx context.Context, s *session) error {
		rec, err := s.tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if clusterPid == "" {
			_, err = s.singleton(ctx, key, rec.Type())
			return err
		}
		c, err := s.load(ctx, clusterPid)
		if err != nil {
			return err
		}
		return s.attach(ctx, c, key, rec.Type())
	})
}

// RemoveSource drops the reference of source from a cluster.
func (e *Engine) RemoveSource(ctx context.Context, kind models.Kind, clusterPid string, source models.Source) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.RemoveSource")
	defer span.End()

	return e.run(ctx, kind, []string{clusterLock(kind, clusterPid)}, func(ctx context.Context, s *session) error {
		c, err := s.load(ctx, clusterPid)
		if err != nil {
			return err
		}
		pid, ok := Refs(c)[source]
		if !ok {
			return nil
		}
		s.dropRef(c, source)
		return s.tx.SetCluster(ctx, s.sourceKey(source, pid), "")
	})
}

// Remove detaches a deleted record from its cluster.
func (e *Engine) Remove(ctx context.Context, key models.Key) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Remove")
	defer span.End()

	return e.run(ctx, key.Kind, []string{recordLock(key)}, func(ctx context.Context, s *session) error {
		_, err := s.detach(ctx, key, true)
		return err
	})
}

// Redirect moves the cluster reference of from to its successor to, merging
// the two clusters when both are clustered.
func (e *Engine) Redirect(ctx context.Context, from, to models.Key) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Redirect")
	defer span.End()

	return e.run(ctx, from.Kind, []string{recordLock(from), recordLock(to)}, func(ctx context.Context, s *session) error {
		target, err := s.tx.Get(ctx, to)
		if err != nil {
			return err
		}
		cf, err := s.detach(ctx, from, false)
		if err != nil || cf == nil {
			return err
		}
		ct, err := s.clusterOf(ctx, to)
		if err != nil {
			return err
		}
		if ct == nil || ct.Pid() == cf.Pid() {
			return s.attach(ctx, cf, to, target.Type())
		}
		_, err = s.mergeAll(ctx, []*models.Document{cf, ct}, map[models.Source]string{to.Source: to.Pid})
		return err
	})
}

// Sync places a record in the cluster its clustering key designates: the VIAF
// group for agents, the association identifier for concepts and places. Records
// without a key keep their cluster or get a singleton.
func (e *Engine) Sync(ctx context.Context, rec *models.Document) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Sync")
	defer span.End()

	if rec.State() != models.StateLive {
		return e.Remove(ctx, rec.Key)
	}
	if rec.Key.Kind == models.KindAgents {
		return e.syncAgent(ctx, rec)
	}
	return e.syncAssociation(ctx, rec)
}

// keep leaves a record in its cluster, or creates a singleton.
func (s *session) keep(ctx context.Context, rec *models.Document) error {
	cur, err := s.clusterOf(ctx, rec.Key)
	if err != nil {
		return err
	}
	// A record deleted before its cluster was merged away still links the loser.
	for hops := 0; cur != nil && cur.RedirectTarget() != "" && hops < s.e.maxDepth; hops++ {
		if cur, err = s.find(ctx, cur.RedirectTarget()); err != nil {
			return err
		}
	}
	if cur == nil || cur.RedirectTarget() != "" {
		_, err = s.singleton(ctx, rec.Key, rec.Type())
		return err
	}
	ref, ok := Refs(cur)[rec.Key.Source]
	if ok && ref != rec.Key.Pid {
		// The cluster moved on to another record of this source.
		_, err = s.singleton(ctx, rec.Key, rec.Type())
		return err
	}
	if !ok || cur.IsDeleted() {
		return s.attach(ctx, cur, rec.Key, rec.Type())
	}
	s.touch(cur)
	return nil
}

// search queries the index. Without an index nothing is found, so records keep
// their own clusters.
func (e *Engine) search(ctx context.Context, kind models.Kind, source models.Source, field, value string) ([]string, error) {
	if e.index == nil {
		return nil, nil
	}
	return e.index.Search(ctx, kind, source, field, value)
}

// viafOf returns the live VIAF record listing key, or nil.
func (e *Engine) viafOf(ctx context.Context, key models.Key) (*models.Document, error) {
	pids, err := e.search(ctx, models.KindAgents, models.SourceVIAF, key.Source.PidField(), key.Pid)
	if err != nil {
		return nil, mefErrors.Wrap(mefErrors.CodeStoreError, err, "search viaf")
	}
	for _, pid := range pids {
		doc, err := store.Find(ctx, e.store, models.NewKey(models.KindAgents, models.SourceVIAF, pid))
		if err != nil {
			return nil, err
		}
		if doc != nil && doc.State() == models.StateLive && doc.String(key.Source.PidField()) == key.Pid {
			return doc, nil
		}
	}
	return nil, nil
}

func (e *Engine) syncAgent(ctx context.Context, rec *models.Document) (*Outcome, error) {
	viaf, err := e.viafOf(ctx, rec.Key)
	if err != nil {
		return nil, err
	}
	if viaf == nil {
		return e.run(ctx, rec.Key.Kind, []string{recordLock(rec.Key)}, func(ctx context.Context, s *session) error {
			return s.keep(ctx, rec)
		})
	}

	viafPid := viaf.Pid()
	return e.run(ctx, rec.Key.Kind, []string{recordLock(rec.Key), "viaf:" + viafPid}, func(ctx context.Context, s *session) error {
		// Searched under the lock so a cluster keyed by viafPid in the meantime
		// is seen.
		keyed, err := e.search(ctx, models.KindAgents, models.SourceMEF, models.FieldViafPid, viafPid)
		if err != nil {
			return mefErrors.Wrap(mefErrors.CodeStoreError, err, "search clusters")
		}
		candidates := map[string]*models.Document{}
		for _, pid := range keyed {
			c, err := s.find(ctx, pid)
			if err != nil {
				return err
			}
			if c != nil && !c.IsDeleted() && c.String(models.FieldViafPid) == viafPid {
				candidates[pid] = c
			}
		}

		prefer := map[models.Source]string{}
		for _, source := range models.AuthoritySources {
			pid := viaf.String(source.PidField())
			if pid == "" {
				continue
			}
			member, err := record.Follow(ctx, s.tx, s.sourceKey(source, pid), e.maxDepth)
			if mefErrors.IsNotFound(err) || mefErrors.IsCorruptRedirect(err) {
				continue
			}
			if err != nil {
				return err
			}
			if member.State() != models.StateLive {
				continue
			}
			prefer[source] = member.Key.Pid
			c, err := s.clusterOf(ctx, member.Key)
			if err != nil {
				return err
			}
			if c != nil && !c.IsDeleted() {
				candidates[c.Pid()] = c
			}
		}
		prefer[rec.Key.Source] = rec.Key.Pid

		var target *models.Document
		if len(candidates) == 0 {
			target, err = s.create(ctx, rec.Type())
		} else {
			target, err = s.mergeAll(ctx, values(candidates), prefer)
		}
		if err != nil {
			return err
		}
		if err := s.attach(ctx, target, rec.Key, rec.Type()); err != nil {
			return err
		}
		target.Data[models.FieldViafPid] = viafPid
		return nil
	})
}

func (e *Engine) syncAssociation(ctx context.Context, rec *models.Document) (*Outcome, error) {
	assoc := rec.String(models.FieldAssociationIdentifier)
	if assoc == "" {
		return e.run(ctx, rec.Key.Kind, []string{recordLock(rec.Key)}, func(ctx context.Context, s *session) error {
			return s.keep(ctx, rec)
		})
	}

	lockKeys := []string{recordLock(rec.Key), "assoc:" + string(rec.Key.Kind) + ":" + assoc}
	return e.run(ctx, rec.Key.Kind, lockKeys, func(ctx context.Context, s *session) error {
		// Partners are searched under the lock so a partner clustered by another
		// source in the meantime is seen.
		candidates := map[string]*models.Document{}
		for _, source := range models.AuthoritySources {
			if source == rec.Key.Source {
				continue
			}
			pids, err := e.search(ctx, rec.Key.Kind, source, models.FieldAssociationIdentifier, assoc)
			if err != nil {
				return mefErrors.Wrap(mefErrors.CodeStoreError, err, "search association")
			}
			for _, pid := range pids {
				doc, err := store.Find(ctx, s.tx, s.sourceKey(source, pid))
				if err != nil {
					return err
				}
				if doc == nil || doc.State() != models.StateLive || doc.String(models.FieldAssociationIdentifier) != assoc {
					continue
				}
				c, err := s.clusterOf(ctx, doc.Key)
				if err != nil {
					return err
				}
				if c != nil && !c.IsDeleted() {
					candidates[c.Pid()] = c
				}
			}
		}
		if len(candidates) == 0 {
			return s.keep(ctx, rec)
		}

		target, err := s.mergeAll(ctx, values(candidates), nil)
		if err != nil {
			return err
		}
		if rival, ok := Refs(target)[rec.Key.Source]; ok && rival != rec.Key.Pid {
			other, err := store.Find(ctx, s.tx, s.sourceKey(rec.Key.Source, rival))
			if err != nil {
				return err
			}
			if other != nil && other.State() == models.StateLive && other.String(models.FieldAssociationIdentifier) == assoc {
				s.changes = append(s.changes, Change{
					Type:      ChangeNeedsReview,
					Kind:      s.kind,
					Pid:       target.Pid(),
					Into:      target.Pid(),
					Source:    rec.Key.Source,
					SourcePid: rec.Key.Pid,
				})
				e.logger.WithContext(ctx).WithFields(map[string]any{
					"kind":        rec.Key.Kind,
					"source":      rec.Key.Source,
					"pid":         rec.Key.Pid,
					"rival":       rival,
					"cluster":     target.Pid(),
					"association": assoc,
				}).Warn("Association identifier claimed twice by one source")
				cur, err := s.clusterOf(ctx, rec.Key)
				if err != nil {
					return err
				}
				if cur != nil && cur.Pid() == target.Pid() {
					_, err = s.singleton(ctx, rec.Key, rec.Type())
					return err
				}
				return s.keep(ctx, rec)
			}
		}
		return s.attach(ctx, target, rec.Key, rec.Type())
	})
}

// Split detaches key from the cluster of viafPid after VIAF stopped listing it,
// then clusters it again without a hint.
func (e *Engine) Split(ctx context.Context, key models.Key, viafPid string) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Split")
	defer span.End()

	latest, err := record.Follow(ctx, e.store, key, e.maxDepth)
	if mefErrors.IsNotFound(err) {
		return &Outcome{}, nil
	}
	if err != nil {
		return nil, err
	}

	out, err := e.run(ctx, key.Kind, []string{recordLock(latest.Key), "viaf:" + viafPid}, func(ctx context.Context, s *session) error {
		cur, err := s.clusterOf(ctx, latest.Key)
		if err != nil || cur == nil || cur.String(models.FieldViafPid) != viafPid {
			return err
		}
		if len(Refs(cur)) <= 1 {
			delete(cur.Data, models.FieldViafPid)
			s.touch(cur)
			return nil
		}
		_, err = s.singleton(ctx, latest.Key, latest.Type())
		return err
	})
	if err != nil || latest.State() != models.StateLive {
		return out, err
	}
	again, err := e.Sync(ctx, latest)
	out.Add(again)
	return out, err
}

// Resolve returns the cluster view with every referenced record inlined, following
// at most one redirect per reference.
func (e *Engine) Resolve(ctx context.Context, kind models.Kind, clusterPid string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Resolve")
	defer span.End()

	c, err := e.store.Get(ctx, models.NewKey(kind, models.SourceMEF, clusterPid))
	if err != nil {
		return nil, err
	}
	view := c.View()
	for source, pid := range Refs(c) {
		doc, err := store.Find(ctx, e.store, models.NewKey(kind, source, pid))
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		if next := doc.RedirectTarget(); next != "" {
			successor, err := store.Find(ctx, e.store, models.NewKey(kind, source, next))
			if err != nil {
				return nil, err
			}
			if successor != nil {
				doc = successor
			}
		}
		resolved := doc.View()
		resolved[models.FieldRef] = e.Ref(kind, source, doc.Pid())
		view[string(source)] = resolved
	}
	return view, nil
}

// GetLatest resolves the cluster of the terminal record of a redirect chain. For
// source mef the chain of merged clusters is followed instead.
func (e *Engine) GetLatest(ctx context.Context, kind models.Kind, source models.Source, pid string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.GetLatest")
	defer span.End()

	latest, err := record.Follow(ctx, e.store, models.NewKey(kind, source, pid), e.maxDepth)
	if err != nil {
		return nil, err
	}
	if source == models.SourceMEF {
		return e.Resolve(ctx, kind, latest.Pid())
	}
	clusterPid, err := e.store.ClusterOf(ctx, latest.Key)
	if err != nil {
		return nil, err
	}
	if clusterPid == "" {
		return nil, mefErrors.Newf(mefErrors.CodeNotFound, "%s is not clustered", latest.Key).WithRecord(string(kind), string(source), pid)
	}
	return e.Resolve(ctx, kind, clusterPid)
}

// Updated is one entry of GetUpdated.
type Updated struct {
	Pid     string    `json:"pid"`
	Updated time.Time `json:"_updated"`
	Deleted string    `json:"deleted,omitempty"`
}

// GetUpdated lists the clusters of kind updated at or after from, restricted to
// pids when given, oldest first.
func (e *Engine) GetUpdated(ctx context.Context, kind models.Kind, pids []string, from *time.Time) ([]Updated, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.GetUpdated")
	defer span.End()

	var wanted map[string]bool
	if len(pids) > 0 {
		wanted = make(map[string]bool, len(pids))
		for _, p := range pids {
			wanted[p] = true
		}
	}

	var out []Updated
	collect := func(d *models.Document) error {
		if wanted != nil && !wanted[d.Pid()] {
			return nil
		}
		if from != nil && d.Updated.Before(*from) {
			return nil
		}
		out = append(out, Updated{Pid: d.Pid(), Updated: d.Updated, Deleted: d.Deleted()})
		return nil
	}

	if from != nil && e.index != nil {
		found, err := e.index.UpdatedSince(ctx, kind, models.SourceMEF, *from)
		if err != nil {
			return nil, mefErrors.Wrap(mefErrors.CodeStoreError, err, "list updated clusters")
		}
		for _, pid := range found {
			d, err := store.Find(ctx, e.store, models.NewKey(kind, models.SourceMEF, pid))
			if err != nil {
				return nil, err
			}
			if d != nil {
				_ = collect(d)
			}
		}
	} else if err := e.store.Scan(ctx, kind, models.SourceMEF, collect); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Updated.Equal(out[j].Updated) {
			return out[i].Updated.Before(out[j].Updated)
		}
		return out[i].Pid < out[j].Pid
	})
	return out, nil
}

func values(m map[string]*models.Document) []*models.Document {
	out := make([]*models.Document, 0, len(m))
	for _, k := range models.SortedKeys(m) {
		out = append(out, m[k])
	}
	return out
}

// Apply carries a lifecycle result over to the clusters: redirects move
// references, deletions detach, creations and updates re-cluster.
func (e *Engine) Apply(ctx context.Context, res *record.Result) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Engine.Apply")
	defer span.End()

	out := &Outcome{}
	if res == nil || res.Record == nil || res.MefAction == models.MefActionDiscard && len(res.Redirected) == 0 {
		return out, nil
	}
	if res.Record.Key.Source == models.SourceVIAF {
		return out, nil
	}

	for _, stub := range res.Redirected {
		moved, err := e.Redirect(ctx, stub.Key, res.Record.Key)
		if err != nil {
			return out, err
		}
		out.Add(moved)
	}

	var (
		step *Outcome
		err  error
	)
	switch res.Action {
	case models.ActionRedirect:
		if step, err = e.Redirect(ctx, res.Record.Key, res.Target.Key); err != nil {
			return out, err
		}
		out.Add(step)
		step, err = e.Sync(ctx, res.Target)
	case models.ActionDelete:
		step, err = e.Remove(ctx, res.Record.Key)
	case models.ActionCreate, models.ActionUpdate:
		step, err = e.Sync(ctx, res.Record)
	}
	out.Add(step)
	return out, err
}
