package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "mef.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{"memory": NewMemory(), "bolt": b}
}

func doc(source models.Source, pid string, data map[string]any) *models.Document {
	d := models.NewDocument(models.NewKey(models.KindAgents, source, pid), data)
	d.Created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Updated = d.Created
	return d
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			key := models.NewKey(models.KindAgents, models.SourceGND, "1")

			_, err := s.Get(ctx, key)
			assert.True(t, mefErrors.IsNotFound(err))
			found, err := Find(ctx, s, key)
			require.NoError(t, err)
			assert.Nil(t, found)

			require.NoError(t, s.Put(ctx, doc(models.SourceGND, "1", map[string]any{"pid": "1", "type": "bf:Person"})))
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "bf:Person", got.Type())
			assert.True(t, got.Created.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

			got.Data["type"] = "changed"
			again, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "bf:Person", again.Type())

			require.NoError(t, s.SetCluster(ctx, key, "7"))
			cluster, err := s.ClusterOf(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "7", cluster)
			require.NoError(t, s.SetCluster(ctx, key, ""))
			cluster, err = s.ClusterOf(ctx, key)
			require.NoError(t, err)
			assert.Empty(t, cluster)

			first, err := s.NextPid(ctx, models.KindAgents)
			require.NoError(t, err)
			second, err := s.NextPid(ctx, models.KindAgents)
			require.NoError(t, err)
			other, err := s.NextPid(ctx, models.KindConcepts)
			require.NoError(t, err)
			assert.Equal(t, "1", first)
			assert.Equal(t, "2", second)
			assert.Equal(t, "1", other)

			require.NoError(t, s.Delete(ctx, key))
			_, err = s.Get(ctx, key)
			assert.True(t, mefErrors.IsNotFound(err))

			meta, err := s.GetMeta(ctx, "last_run")
			require.NoError(t, err)
			assert.Nil(t, meta)
			require.NoError(t, s.PutMeta(ctx, "last_run", []byte("x")))
			meta, err = s.GetMeta(ctx, "last_run")
			require.NoError(t, err)
			assert.Equal(t, []byte("x"), meta)
			assert.NoError(t, s.Ping(ctx))
		})
	}
}

func TestStoreUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := s.Update(ctx, func(ctx context.Context, tx Writer) error {
				require.NoError(t, tx.Put(ctx, doc(models.SourceGND, "9", map[string]any{"pid": "9"})))
				got, err := tx.Get(ctx, models.NewKey(models.KindAgents, models.SourceGND, "9"))
				require.NoError(t, err)
				assert.Equal(t, "9", got.Pid())
				require.NoError(t, tx.SetCluster(ctx, got.Key, "1"))
				return boom
			})
			assert.ErrorIs(t, err, boom)

			_, err = s.Get(ctx, models.NewKey(models.KindAgents, models.SourceGND, "9"))
			assert.True(t, mefErrors.IsNotFound(err))
			cluster, err := s.ClusterOf(ctx, models.NewKey(models.KindAgents, models.SourceGND, "9"))
			require.NoError(t, err)
			assert.Empty(t, cluster)
		})
	}
}

func TestStoreScan(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, pid := range []string{"b", "a", "c"} {
				require.NoError(t, s.Put(ctx, doc(models.SourceIdRef, pid, map[string]any{"pid": pid})))
			}
			require.NoError(t, s.Put(ctx, doc(models.SourceGND, "z", map[string]any{"pid": "z"})))

			var pids []string
			err := s.Scan(ctx, models.KindAgents, models.SourceIdRef, func(d *models.Document) error {
				pids = append(pids, d.Pid())
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c"}, pids)
		})
	}
}

func TestMemoryFailPuts(t *testing.T) {
	m := NewMemory()
	m.FailPuts(func(*models.Document) error { return errors.New("disk full") })
	err := m.Put(context.Background(), doc(models.SourceGND, "1", nil))
	assert.True(t, mefErrors.IsStoreError(err))
}
