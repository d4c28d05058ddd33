package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/Ramsey-B/mef/pkg/models"
)

// Memory is an in-process Store. Transactions are serialised.
type Memory struct {
	mu    sync.Mutex
	docs  map[models.Key]*models.Document
	links map[models.Key]string
	seq   map[models.Kind]int64
	meta  map[string][]byte

	// failPut injects write failures in tests.
	failPut func(*models.Document) error
}

func NewMemory() *Memory {
	return &Memory{
		docs:  map[models.Key]*models.Document{},
		links: map[models.Key]string{},
		seq:   map[models.Kind]int64{},
		meta:  map[string][]byte{},
	}
}

// FailPuts makes Put return the error of fn when it is non-nil.
func (m *Memory) FailPuts(fn func(*models.Document) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = fn
}

type memoryTx struct {
	base  *Memory
	docs  map[models.Key]*models.Document
	links map[models.Key]string
	seq   map[models.Kind]int64
}

func (m *Memory) begin() *memoryTx {
	return &memoryTx{
		base:  m,
		docs:  map[models.Key]*models.Document{},
		links: map[models.Key]string{},
		seq:   map[models.Kind]int64{},
	}
}

func (tx *memoryTx) commit() {
	for k, d := range tx.docs {
		if d == nil {
			delete(tx.base.docs, k)
			continue
		}
		tx.base.docs[k] = d
	}
	for k, c := range tx.links {
		if c == "" {
			delete(tx.base.links, k)
			continue
		}
		tx.base.links[k] = c
	}
	for k, v := range tx.seq {
		tx.base.seq[k] = v
	}
}

func (tx *memoryTx) Get(_ context.Context, key models.Key) (*models.Document, error) {
	d, ok := tx.docs[key]
	if !ok {
		d = tx.base.docs[key]
	}
	if d == nil {
		return nil, notFound(key)
	}
	return d.Clone(), nil
}

func (tx *memoryTx) ClusterOf(_ context.Context, key models.Key) (string, error) {
	if c, ok := tx.links[key]; ok {
		return c, nil
	}
	return tx.base.links[key], nil
}

func (tx *memoryTx) Put(_ context.Context, doc *models.Document) error {
	if tx.base.failPut != nil {
		if err := tx.base.failPut(doc); err != nil {
			return storeError(err, "put "+doc.Key.String())
		}
	}
	tx.docs[doc.Key] = doc.Clone()
	return nil
}

func (tx *memoryTx) Delete(_ context.Context, key models.Key) error {
	tx.docs[key] = nil
	return nil
}

func (tx *memoryTx) SetCluster(_ context.Context, key models.Key, clusterPid string) error {
	tx.links[key] = clusterPid
	return nil
}

func (tx *memoryTx) NextPid(_ context.Context, kind models.Kind) (string, error) {
	v, ok := tx.seq[kind]
	if !ok {
		v = tx.base.seq[kind]
	}
	v++
	tx.seq[kind] = v
	return strconv.FormatInt(v, 10), nil
}

func (m *Memory) Update(ctx context.Context, fn func(ctx context.Context, tx Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.begin()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) Get(ctx context.Context, key models.Key) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin().Get(ctx, key)
}

func (m *Memory) ClusterOf(ctx context.Context, key models.Key) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begin().ClusterOf(ctx, key)
}

func (m *Memory) Put(ctx context.Context, doc *models.Document) error {
	return m.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.Put(ctx, doc) })
}

func (m *Memory) Delete(ctx context.Context, key models.Key) error {
	return m.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.Delete(ctx, key) })
}

func (m *Memory) SetCluster(ctx context.Context, key models.Key, clusterPid string) error {
	return m.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.SetCluster(ctx, key, clusterPid) })
}

func (m *Memory) NextPid(ctx context.Context, kind models.Kind) (pid string, err error) {
	err = m.Update(ctx, func(ctx context.Context, tx Writer) error {
		pid, err = tx.NextPid(ctx, kind)
		return err
	})
	return pid, err
}

func (m *Memory) Scan(ctx context.Context, kind models.Kind, source models.Source, fn func(*models.Document) error) error {
	m.mu.Lock()
	var docs []*models.Document
	for k, d := range m.docs {
		if k.Kind == kind && k.Source == source {
			docs = append(docs, d.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Key.Pid < docs[j].Key.Pid })
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) GetMeta(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.meta[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) PutMeta(_ context.Context, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[name] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
