package cluster

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/index"
	"github.com/Ramsey-B/mef/pkg/locks"
	"github.com/Ramsey-B/mef/pkg/logging"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/record"
	"github.com/Ramsey-B/mef/pkg/store"
)

const baseURL = "https://mef.example/api"

type env struct {
	t        *testing.T
	store    *store.Memory
	records  *record.Engine
	clusters *Engine
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, index.NewMemory(), nil)
}

func newEnvWith(t *testing.T, idx index.Index, locker locks.Locker) *env {
	t.Helper()
	s := store.NewMemory()
	e := &env{
		t:        t,
		store:    s,
		records:  record.NewEngine(s, idx, logging.Discard(), 0),
		clusters: NewEngine(s, idx, locker, logging.Discard(), Config{BaseURL: baseURL + "/"}),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.records.SetClock(clock)
	e.clusters.SetClock(clock)
	return e
}

// ingest mirrors the coordinator: lifecycle first, then clusters.
func (e *env) ingest(kind models.Kind, source models.Source, data map[string]any) (*record.Result, *Outcome) {
	e.t.Helper()
	e.now = e.now.Add(time.Minute)
	ctx := context.Background()
	res, err := e.records.CreateOrUpdate(ctx, kind, source, data, record.DefaultOptions)
	require.NoError(e.t, err)
	out, err := e.clusters.Apply(ctx, res)
	require.NoError(e.t, err)
	return res, out
}

func (e *env) clusterOf(kind models.Kind, source models.Source, pid string) *models.Document {
	e.t.Helper()
	ctx := context.Background()
	cp, err := e.store.ClusterOf(ctx, models.NewKey(kind, source, pid))
	require.NoError(e.t, err)
	require.NotEmpty(e.t, cp, "%s/%s is not clustered", source, pid)
	c, err := e.store.Get(ctx, models.NewKey(kind, models.SourceMEF, cp))
	require.NoError(e.t, err)
	return c
}

func (e *env) allClusters(kind models.Kind) []*models.Document {
	var out []*models.Document
	require.NoError(e.t, e.store.Scan(context.Background(), kind, models.SourceMEF, func(d *models.Document) error {
		out = append(out, d)
		return nil
	}))
	return out
}

func agent(pid, name string) map[string]any {
	return map[string]any{"pid": pid, "type": models.TypePerson, "authorized_access_point": name}
}

func viafRow(pid string, sources map[models.Source]string) map[string]any {
	row := map[string]any{"pid": pid}
	for s, p := range sources {
		row[s.PidField()] = p
	}
	return row
}

func TestAgentsClusterThroughVIAF(t *testing.T) {
	e := newEnv(t)
	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("66739143", map[models.Source]string{
		models.SourceGND:   "12391664X",
		models.SourceIdRef: "069774331",
		models.SourceRERO:  "A023655346",
	}))

	_, out := e.ingest(models.KindAgents, models.SourceGND, agent("12391664X", "Brissé, Nicolas"))
	require.Len(t, out.Changes, 1)
	assert.Equal(t, ChangeCreated, out.Changes[0].Type)

	e.ingest(models.KindAgents, models.SourceIdRef, agent("069774331", "Brissé, Nicolas"))
	e.ingest(models.KindAgents, models.SourceRERO, agent("A023655346", "Brissé, Nicolas"))

	c := e.clusterOf(models.KindAgents, models.SourceRERO, "A023655346")
	assert.Equal(t, "66739143", c.String(models.FieldViafPid))
	assert.Equal(t, map[models.Source]string{
		models.SourceGND:   "12391664X",
		models.SourceIdRef: "069774331",
		models.SourceRERO:  "A023655346",
	}, Refs(c))
	assert.Equal(t, []any{"gnd", "idref", "rero"}, c.Data[models.FieldSources])
	assert.Equal(t, map[string]any{"$ref": baseURL + "/agents/gnd/12391664X"}, c.Data["gnd"])
	assert.Len(t, e.allClusters(models.KindAgents), 1)
}

func TestVIAFArrivalMergesClusters(t *testing.T) {
	e := newEnv(t)
	e.ingest(models.KindAgents, models.SourceGND, agent("12391664X", "Brissé"))
	e.ingest(models.KindAgents, models.SourceIdRef, agent("069774331", "Brissé"))
	gndCluster := e.clusterOf(models.KindAgents, models.SourceGND, "12391664X")
	idrefCluster := e.clusterOf(models.KindAgents, models.SourceIdRef, "069774331")
	require.NotEqual(t, gndCluster.Pid(), idrefCluster.Pid())

	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("66739143", map[models.Source]string{
		models.SourceGND:   "12391664X",
		models.SourceIdRef: "069774331",
	}))
	ctx := context.Background()
	rec, err := e.store.Get(ctx, models.NewKey(models.KindAgents, models.SourceIdRef, "069774331"))
	require.NoError(t, err)
	out, err := e.clusters.Sync(ctx, rec)
	require.NoError(t, err)

	var merged *Change
	for i := range out.Changes {
		if out.Changes[i].Type == ChangeMerged {
			merged = &out.Changes[i]
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, idrefCluster.Pid(), merged.Pid, "the younger cluster is merged away")
	assert.Equal(t, gndCluster.Pid(), merged.Into)

	winner := e.clusterOf(models.KindAgents, models.SourceIdRef, "069774331")
	assert.Equal(t, gndCluster.Pid(), winner.Pid())
	assert.Len(t, Refs(winner), 2)

	loser, err := e.store.Get(ctx, models.NewKey(models.KindAgents, models.SourceMEF, idrefCluster.Pid()))
	require.NoError(t, err)
	assert.True(t, loser.IsDeleted())
	assert.Equal(t, winner.Pid(), loser.RedirectTarget())

	view, err := e.clusters.GetLatest(ctx, models.KindAgents, models.SourceMEF, loser.Pid())
	require.NoError(t, err)
	assert.Equal(t, winner.Pid(), view["pid"])
}

func TestRedirectFromMovesReference(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ingest(models.KindAgents, models.SourceIdRef, agent("069774331", "Brissé, Nicolas"))
	before := e.clusterOf(models.KindAgents, models.SourceIdRef, "069774331")

	successor := agent("IDREF_REDIRECT", "Brissé, Nicolas")
	successor["relation_pid"] = map[string]any{"type": models.RedirectFrom, "value": "069774331"}
	e.ingest(models.KindAgents, models.SourceIdRef, successor)

	after := e.clusterOf(models.KindAgents, models.SourceIdRef, "IDREF_REDIRECT")
	assert.Equal(t, before.Pid(), after.Pid())
	assert.Equal(t, "IDREF_REDIRECT", Refs(after)[models.SourceIdRef])
	assert.Len(t, e.allClusters(models.KindAgents), 1)

	old, err := e.clusters.GetLatest(ctx, models.KindAgents, models.SourceIdRef, "069774331")
	require.NoError(t, err)
	current, err := e.clusters.GetLatest(ctx, models.KindAgents, models.SourceIdRef, "IDREF_REDIRECT")
	require.NoError(t, err)
	assert.Equal(t, current, old)
	inlined := current["idref"].(map[string]any)
	assert.Equal(t, "IDREF_REDIRECT", inlined["pid"])
}

func TestRedirectToMergesTargetCluster(t *testing.T) {
	e := newEnv(t)
	e.ingest(models.KindConcepts, models.SourceGND, map[string]any{"pid": "A", "type": models.TypeTopic})
	e.ingest(models.KindConcepts, models.SourceGND, map[string]any{"pid": "B", "type": models.TypeTopic})
	clusterA := e.clusterOf(models.KindConcepts, models.SourceGND, "A")
	clusterB := e.clusterOf(models.KindConcepts, models.SourceGND, "B")

	res, _ := e.ingest(models.KindConcepts, models.SourceGND, map[string]any{
		"pid":          "A",
		"type":         models.TypeTopic,
		"relation_pid": map[string]any{"type": models.RedirectTo, "value": "B"},
	})
	assert.Equal(t, models.ActionRedirect, res.Action)

	c := e.clusterOf(models.KindConcepts, models.SourceGND, "B")
	assert.Equal(t, clusterA.Pid(), c.Pid(), "the older cluster survives")
	assert.Equal(t, "B", Refs(c)[models.SourceGND])

	old, err := e.store.Get(context.Background(), models.NewKey(models.KindConcepts, models.SourceMEF, clusterB.Pid()))
	require.NoError(t, err)
	assert.True(t, old.IsDeleted())
}

func TestDeletingLastReferenceDeletesCluster(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ingest(models.KindAgents, models.SourceGND, agent("118540238", "Goethe"))
	c := e.clusterOf(models.KindAgents, models.SourceGND, "118540238")

	tomb := agent("118540238", "Goethe")
	tomb["deleted"] = e.now.Format(models.DateLayout)
	res, out := e.ingest(models.KindAgents, models.SourceGND, tomb)
	assert.Equal(t, models.ActionDelete, res.Action)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, ChangeDeleted, out.Changes[0].Type)

	got, err := e.store.Get(ctx, models.NewKey(models.KindAgents, models.SourceMEF, c.Pid()))
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
	assert.Empty(t, Refs(got))

	src, err := e.store.Get(ctx, models.NewKey(models.KindAgents, models.SourceGND, "118540238"))
	require.NoError(t, err)
	assert.True(t, src.IsDeleted())

	e.ingest(models.KindAgents, models.SourceGND, agent("118540238", "Goethe"))
	again := e.clusterOf(models.KindAgents, models.SourceGND, "118540238")
	assert.Equal(t, c.Pid(), again.Pid(), "recreating rejoins the retained cluster")
	assert.False(t, again.IsDeleted())
}

func concept(pid, bnf string) map[string]any {
	return map[string]any{
		"pid":                             pid,
		"type":                            models.TypeTopic,
		"identifiedBy":                    []any{map[string]any{"source": "BNF", "type": "bf:Nbn", "value": bnf}},
		models.FieldAssociationIdentifier: bnf,
	}
}

func TestConceptsClusterByAssociation(t *testing.T) {
	e := newEnv(t)
	e.ingest(models.KindConcepts, models.SourceIdRef, concept("027227189", "FRBNF12223796"))
	e.ingest(models.KindConcepts, models.SourceGND, concept("040316629", "FRBNF12223796"))

	c := e.clusterOf(models.KindConcepts, models.SourceGND, "040316629")
	assert.Equal(t, map[models.Source]string{
		models.SourceIdRef: "027227189",
		models.SourceGND:   "040316629",
	}, Refs(c))

	_, out := e.ingest(models.KindConcepts, models.SourceGND, concept("999", "FRBNF12223796"))
	var review bool
	for _, ch := range out.Changes {
		review = review || ch.Type == ChangeNeedsReview
	}
	assert.True(t, review)
	rival := e.clusterOf(models.KindConcepts, models.SourceGND, "999")
	assert.NotEqual(t, c.Pid(), rival.Pid(), "the newcomer stays a singleton")
	c = e.clusterOf(models.KindConcepts, models.SourceGND, "040316629")
	assert.Equal(t, "040316629", Refs(c)[models.SourceGND])
}

func TestSplitDetachesFromVIAFCluster(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("1", map[models.Source]string{
		models.SourceGND:   "G",
		models.SourceIdRef: "I",
	}))
	e.ingest(models.KindAgents, models.SourceGND, agent("G", "X"))
	e.ingest(models.KindAgents, models.SourceIdRef, agent("I", "X"))
	require.Equal(t, e.clusterOf(models.KindAgents, models.SourceGND, "G").Pid(), e.clusterOf(models.KindAgents, models.SourceIdRef, "I").Pid())

	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("1", map[models.Source]string{models.SourceGND: "G"}))
	_, err := e.clusters.Split(ctx, models.NewKey(models.KindAgents, models.SourceIdRef, "I"), "1")
	require.NoError(t, err)

	g := e.clusterOf(models.KindAgents, models.SourceGND, "G")
	i := e.clusterOf(models.KindAgents, models.SourceIdRef, "I")
	assert.NotEqual(t, g.Pid(), i.Pid())
	assert.Equal(t, "1", g.String(models.FieldViafPid))
	assert.Empty(t, i.String(models.FieldViafPid))
}

func TestAddAndRemoveSource(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ingest(models.KindPlaces, models.SourceGND, map[string]any{"pid": "P1", "type": models.TypePlace})
	e.ingest(models.KindPlaces, models.SourceIdRef, map[string]any{"pid": "P2", "type": models.TypePlace})
	c := e.clusterOf(models.KindPlaces, models.SourceGND, "P1")

	_, err := e.clusters.AddSource(ctx, c.Pid(), models.NewKey(models.KindPlaces, models.SourceIdRef, "P2"))
	require.NoError(t, err)
	c = e.clusterOf(models.KindPlaces, models.SourceIdRef, "P2")
	assert.Len(t, Refs(c), 2)

	_, err = e.clusters.RemoveSource(ctx, models.KindPlaces, c.Pid(), models.SourceGND)
	require.NoError(t, err)
	_, err = e.clusters.RemoveSource(ctx, models.KindPlaces, c.Pid(), models.SourceIdRef)
	require.NoError(t, err)
	got, err := e.store.Get(ctx, c.Key)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	_, err = e.clusters.GetLatest(ctx, models.KindPlaces, models.SourceIdRef, "P2")
	assert.True(t, mefErrors.IsNotFound(err))
}

func TestGetUpdated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.ingest(models.KindAgents, models.SourceGND, agent("1", "A"))
	cut := e.now.Add(30 * time.Second)
	e.ingest(models.KindAgents, models.SourceGND, agent("2", "B"))
	e.ingest(models.KindAgents, models.SourceGND, agent("3", "C"))

	all, err := e.clusters.GetUpdated(ctx, models.KindAgents, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	recent, err := e.clusters.GetUpdated(ctx, models.KindAgents, nil, &cut)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Updated.Before(recent[1].Updated))

	only, err := e.clusters.GetUpdated(ctx, models.KindAgents, []string{recent[1].Pid}, &cut)
	require.NoError(t, err)
	assert.Len(t, only, 1)
}

func TestAssociationIdentifier(t *testing.T) {
	match := func(value string) map[string]any {
		return map[string]any{"identifiedBy": []any{map[string]any{"source": "BNF", "type": "bf:Nbn", "value": value}}}
	}
	tests := []struct {
		name   string
		kind   models.Kind
		source models.Source
		data   map[string]any
		want   string
	}{
		{
			name:   "idref concept takes first FRBNF",
			kind:   models.KindConcepts,
			source: models.SourceIdRef,
			data: map[string]any{"identifiedBy": []any{
				map[string]any{"type": "uri", "value": "http://www.idref.fr/1"},
				map[string]any{"source": "BNF", "type": "bf:Nbn", "value": "FRBNF122237961"},
			}},
			want: "FRBNF12223796",
		},
		{
			name:   "gnd concept falls back to matches",
			kind:   models.KindConcepts,
			source: models.SourceGND,
			data:   map[string]any{"closeMatch": []any{match("FRBNF11933017")}},
			want:   "FRBNF11933017",
		},
		{
			name:   "gnd place within threshold",
			kind:   models.KindPlaces,
			source: models.SourceGND,
			data:   map[string]any{"exactMatch": []any{match("FRBNF15238497")}},
			want:   "FRBNF15238497",
		},
		{
			name:   "gnd place above threshold",
			kind:   models.KindPlaces,
			source: models.SourceGND,
			data:   map[string]any{"closeMatch": []any{match("FRBNF15238497"), match("FRBNF15238498")}},
			want:   "",
		},
		{
			name:   "agents never",
			kind:   models.KindAgents,
			source: models.SourceIdRef,
			data:   match("FRBNF15238497"),
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssociationIdentifier(tt.kind, tt.source, tt.data, DefaultMatchThreshold))
		})
	}
}

// hookLocker runs before ahead of every Lock call, before the keys are taken.
type hookLocker struct {
	locks.Locker
	before func(keys []string)
}

func (l *hookLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	if l.before != nil {
		l.before(keys)
	}
	return l.Locker.Lock(ctx, keys...)
}

func TestAssociationPartnerClusteredWhileWaiting(t *testing.T) {
	locker := &hookLocker{Locker: locks.NewMemory()}
	e := newEnvWith(t, index.NewMemory(), locker)

	// GND is clustered after IdRef stored its record but before IdRef holds
	// the association lock.
	var fired atomic.Bool
	locker.before = func(keys []string) {
		if slices.Contains(keys, "assoc:concepts:FRBNF12223796") && fired.CompareAndSwap(false, true) {
			e.ingest(models.KindConcepts, models.SourceGND, concept("040316629", "FRBNF12223796"))
		}
	}
	e.ingest(models.KindConcepts, models.SourceIdRef, concept("027227189", "FRBNF12223796"))
	require.True(t, fired.Load())

	gnd := e.clusterOf(models.KindConcepts, models.SourceGND, "040316629")
	idref := e.clusterOf(models.KindConcepts, models.SourceIdRef, "027227189")
	assert.Equal(t, gnd.Pid(), idref.Pid())
	assert.Equal(t, map[models.Source]string{
		models.SourceIdRef: "027227189",
		models.SourceGND:   "040316629",
	}, Refs(idref))
	assert.Len(t, e.allClusters(models.KindConcepts), 1)
}

func TestVIAFClusterCreatedWhileWaiting(t *testing.T) {
	locker := &hookLocker{Locker: locks.NewMemory()}
	e := newEnvWith(t, index.NewMemory(), locker)
	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("66739143", map[models.Source]string{
		models.SourceGND:   "12391664X",
		models.SourceIdRef: "069774331",
	}))

	var fired atomic.Bool
	locker.before = func(keys []string) {
		if slices.Contains(keys, "viaf:66739143") && fired.CompareAndSwap(false, true) {
			e.ingest(models.KindAgents, models.SourceGND, agent("12391664X", "Brissé, Nicolas"))
		}
	}
	e.ingest(models.KindAgents, models.SourceIdRef, agent("069774331", "Brissé, Nicolas"))
	require.True(t, fired.Load())

	c := e.clusterOf(models.KindAgents, models.SourceIdRef, "069774331")
	assert.Equal(t, c.Pid(), e.clusterOf(models.KindAgents, models.SourceGND, "12391664X").Pid())
	assert.Equal(t, "66739143", c.String(models.FieldViafPid))
}

func TestConcurrentSourcesShareAssociationClusters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const n = 25

	ingest := func(source models.Source, prefix string) error {
		for i := 0; i < n; i++ {
			bnf := fmt.Sprintf("FRBNF%08d", 10000000+i)
			res, err := e.records.CreateOrUpdate(ctx, models.KindConcepts, source, concept(fmt.Sprintf("%s%d", prefix, i), bnf), record.DefaultOptions)
			if err != nil {
				return err
			}
			if _, err := e.clusters.Apply(ctx, res); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, source := range []models.Source{models.SourceGND, models.SourceIdRef, models.SourceRERO} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = ingest(source, string(source))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		gnd := e.clusterOf(models.KindConcepts, models.SourceGND, fmt.Sprintf("gnd%d", i))
		assert.Equal(t, gnd.Pid(), e.clusterOf(models.KindConcepts, models.SourceIdRef, fmt.Sprintf("idref%d", i)).Pid(), "association %d", i)
		assert.Equal(t, gnd.Pid(), e.clusterOf(models.KindConcepts, models.SourceRERO, fmt.Sprintf("rero%d", i)).Pid(), "association %d", i)
	}
	assert.Len(t, e.allClusters(models.KindConcepts), n)
}

func TestEngineWithoutIndex(t *testing.T) {
	e := newEnvWith(t, nil, nil)
	e.ingest(models.KindAgents, models.SourceVIAF, viafRow("66739143", map[models.Source]string{
		models.SourceGND: "12391664X",
	}))
	e.ingest(models.KindAgents, models.SourceGND, agent("12391664X", "Brissé, Nicolas"))
	e.ingest(models.KindConcepts, models.SourceIdRef, concept("027227189", "FRBNF12223796"))
	e.ingest(models.KindConcepts, models.SourceGND, concept("040316629", "FRBNF12223796"))

	assert.Empty(t, e.clusterOf(models.KindAgents, models.SourceGND, "12391664X").String(models.FieldViafPid))
	assert.NotEqual(t,
		e.clusterOf(models.KindConcepts, models.SourceGND, "040316629").Pid(),
		e.clusterOf(models.KindConcepts, models.SourceIdRef, "027227189").Pid(),
		"without an index records keep their own clusters")
}
