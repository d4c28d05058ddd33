package cluster

import (
	"context"
	"sort"
	"strings"
	"time"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/store"
)

// session batches the cluster changes of one operation inside one store
// transaction. Clusters are loaded once and written by flush.
type session struct {
	e    *Engine
	tx   store.Writer
	kind models.Kind
	now  time.Time

	docs       map[string]*models.Document
	wasDeleted map[string]bool
	created    map[string]bool
	merged     map[string]string
	order      []string
	changes    []Change
}

func (e *Engine) newSession(tx store.Writer, kind models.Kind) *session {
	return &session{
		e:          e,
		tx:         tx,
		kind:       kind,
		now:        e.now(),
		docs:       map[string]*models.Document{},
		wasDeleted: map[string]bool{},
		created:    map[string]bool{},
		merged:     map[string]string{},
	}
}

func (s *session) key(pid string) models.Key {
	return models.NewKey(s.kind, models.SourceMEF, pid)
}

func (s *session) sourceKey(source models.Source, pid string) models.Key {
	return models.NewKey(s.kind, source, pid)
}

func (s *session) load(ctx context.Context, pid string) (*models.Document, error) {
	if d, ok := s.docs[pid]; ok {
		return d, nil
	}
	d, err := s.tx.Get(ctx, s.key(pid))
	if err != nil {
		return nil, err
	}
	s.docs[pid] = d
	s.wasDeleted[pid] = d.IsDeleted()
	return d, nil
}

// find is load returning nil for unknown clusters.
func (s *session) find(ctx context.Context, pid string) (*models.Document, error) {
	d, err := s.load(ctx, pid)
	if mefErrors.IsNotFound(err) {
		return nil, nil
	}
	return d, err
}

// clusterOf returns the loaded cluster key belongs to, or nil.
func (s *session) clusterOf(ctx context.Context, key models.Key) (*models.Document, error) {
	pid, err := s.tx.ClusterOf(ctx, key)
	if err != nil || pid == "" {
		return nil, err
	}
	return s.find(ctx, pid)
}

func (s *session) create(ctx context.Context, typ string) (*models.Document, error) {
	pid, err := s.tx.NextPid(ctx, s.kind)
	if err != nil {
		return nil, err
	}
	d := models.NewDocument(s.key(pid), map[string]any{models.FieldPid: pid})
	if typ != "" {
		d.Data[models.FieldType] = typ
	}
	d.Created = s.now
	s.docs[pid] = d
	s.created[pid] = true
	s.touch(d)
	return d, nil
}

func (s *session) touch(d *models.Document) {
	for _, pid := range s.order {
		if pid == d.Pid() {
			return
		}
	}
	s.order = append(s.order, d.Pid())
}

func (s *session) setRef(d *models.Document, source models.Source, pid string) {
	d.Data[string(source)] = map[string]any{models.FieldRef: s.e.Ref(s.kind, source, pid)}
	delete(d.Data, models.FieldDeleted)
	delete(d.Data, models.FieldRelationPid)
	updateSources(d)
	s.touch(d)
}

// dropRef removes the reference of source; a cluster left without references is
// marked deleted and retained.
func (s *session) dropRef(d *models.Document, source models.Source) {
	delete(d.Data, string(source))
	updateSources(d)
	if len(Refs(d)) == 0 {
		d.Data[models.FieldDeleted] = s.now.Format(models.DateLayout)
	}
	s.touch(d)
}

// attach makes key the reference of its source in c, replacing the previous one
// and moving key out of its current cluster.
func (s *session) attach(ctx context.Context, c *models.Document, key models.Key, typ string) error {
	cur, err := s.clusterOf(ctx, key)
	if err != nil {
		return err
	}
	if cur != nil && cur.Pid() != c.Pid() && Refs(cur)[key.Source] == key.Pid {
		s.dropRef(cur, key.Source)
	}
	if prev, ok := Refs(c)[key.Source]; ok && prev != key.Pid {
		if err := s.tx.SetCluster(ctx, s.sourceKey(key.Source, prev), ""); err != nil {
			return err
		}
	}
	if c.Type() == "" && typ != "" {
		c.Data[models.FieldType] = typ
	}
	s.setRef(c, key.Source, key.Pid)
	return s.tx.SetCluster(ctx, key, c.Pid())
}

// detach removes key from its cluster. With keepLink the record still points at
// the cluster so that recreating it rejoins the same cluster.
func (s *session) detach(ctx context.Context, key models.Key, keepLink bool) (*models.Document, error) {
	cur, err := s.clusterOf(ctx, key)
	if err != nil || cur == nil {
		return nil, err
	}
	if Refs(cur)[key.Source] == key.Pid {
		s.dropRef(cur, key.Source)
	}
	if keepLink {
		return cur, nil
	}
	return cur, s.tx.SetCluster(ctx, key, "")
}

// singleton moves key into a new cluster of its own.
func (s *session) singleton(ctx context.Context, key models.Key, typ string) (*models.Document, error) {
	c, err := s.create(ctx, typ)
	if err != nil {
		return nil, err
	}
	return c, s.attach(ctx, c, key, typ)
}

// older orders clusters by _created, then lexicographically by pid.
func older(a, b *models.Document) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.Pid() < b.Pid()
}

// mergeAll folds clusters into the oldest one and returns it.
func (s *session) mergeAll(ctx context.Context, clusters []*models.Document, prefer map[models.Source]string) (*models.Document, error) {
	sort.Slice(clusters, func(i, j int) bool { return older(clusters[i], clusters[j]) })
	winner := clusters[0]
	for _, loser := range clusters[1:] {
		if loser.Pid() == winner.Pid() {
			continue
		}
		if err := s.merge(ctx, winner, loser, prefer); err != nil {
			return nil, err
		}
	}
	return winner, nil
}

// merge moves every live reference of loser into winner and marks loser deleted.
// When both hold a reference for one source, the preferred pid stays and the
// other one is moved to a singleton for review.
func (s *session) merge(ctx context.Context, winner, loser *models.Document, prefer map[models.Source]string) error {
	loserRefs := Refs(loser)
	for _, name := range models.SortedKeys(sourceNames(loserRefs)) {
		source := models.Source(name)
		pid := loserRefs[source]
		s.dropRef(loser, source)

		kept, displaced := pid, ""
		if wp, ok := Refs(winner)[source]; ok && wp != pid {
			kept, displaced = wp, pid
			if prefer[source] == pid {
				kept, displaced = pid, wp
			}
		}
		if kept == pid {
			if err := s.attach(ctx, winner, s.sourceKey(source, pid), ""); err != nil {
				return err
			}
		}
		if displaced != "" {
			c, err := s.singleton(ctx, s.sourceKey(source, displaced), winner.Type())
			if err != nil {
				return err
			}
			s.changes = append(s.changes, Change{
				Type:      ChangeNeedsReview,
				Kind:      s.kind,
				Pid:       c.Pid(),
				Into:      winner.Pid(),
				Source:    source,
				SourcePid: displaced,
			})
		}
	}

	if viaf := loser.String(models.FieldViafPid); viaf != "" {
		if winner.String(models.FieldViafPid) == "" {
			winner.Data[models.FieldViafPid] = viaf
		}
		delete(loser.Data, models.FieldViafPid)
	}
	loser.Data[models.FieldDeleted] = s.now.Format(models.DateLayout)
	loser.Data[models.FieldRelationPid] = map[string]any{"type": models.RedirectTo, "value": winner.Pid()}
	s.merged[loser.Pid()] = winner.Pid()
	s.touch(loser)
	s.touch(winner)
	return nil
}

// flush writes every touched cluster and derives the change list.
func (s *session) flush(ctx context.Context) ([]*models.Document, error) {
	written := make([]*models.Document, 0, len(s.order))
	for _, pid := range s.order {
		d := s.docs[pid]
		if d.Created.IsZero() {
			d.Created = s.now
		}
		d.Updated = s.now
		if err := s.tx.Put(ctx, d); err != nil {
			return nil, err
		}
		written = append(written, d.Clone())

		change := Change{Type: ChangeUpdated, Kind: s.kind, Pid: pid}
		switch {
		case s.merged[pid] != "":
			change.Type, change.Into = ChangeMerged, s.merged[pid]
		case s.created[pid]:
			change.Type = ChangeCreated
		case d.IsDeleted() && !s.wasDeleted[pid]:
			change.Type = ChangeDeleted
		}
		change.Cluster = d.Clone()
		s.changes = append(s.changes, change)
	}
	return written, nil
}

// Refs returns the referenced pid per source.
func Refs(d *models.Document) map[models.Source]string {
	out := map[models.Source]string{}
	for _, source := range models.AuthoritySources {
		entry, ok := d.Data[string(source)].(map[string]any)
		if !ok {
			continue
		}
		ref, _ := entry[models.FieldRef].(string)
		if i := strings.LastIndex(ref, "/"); i >= 0 && i < len(ref)-1 {
			out[source] = ref[i+1:]
		}
	}
	return out
}

func sourceNames(refs map[models.Source]string) map[string]bool {
	out := make(map[string]bool, len(refs))
	for s := range refs {
		out[string(s)] = true
	}
	return out
}

func updateSources(d *models.Document) {
	names := models.SortedKeys(sourceNames(Refs(d)))
	if len(names) == 0 {
		delete(d.Data, models.FieldSources)
		return
	}
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	d.Data[models.FieldSources] = list
}
