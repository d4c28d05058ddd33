package store

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	docsBucket  = []byte("documents")
	linksBucket = []byte("cluster_links")
	seqBucket   = []byte("pid_sequences")
	metaBucket  = []byte("meta")
)

// Bolt is a single-file embedded Store.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt database %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{docsBucket, linksBucket, seqBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create bolt buckets")
	}
	return &Bolt{db: db}, nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (b boltTx) Get(_ context.Context, key models.Key) (*models.Document, error) {
	raw := b.tx.Bucket(docsBucket).Get([]byte(key.String()))
	if raw == nil {
		return nil, notFound(key)
	}
	doc, err := models.DecodeDocument(key, raw)
	return doc, storeError(err, "decode "+key.String())
}

func (b boltTx) ClusterOf(_ context.Context, key models.Key) (string, error) {
	return string(b.tx.Bucket(linksBucket).Get([]byte(key.String()))), nil
}

func (b boltTx) Put(_ context.Context, doc *models.Document) error {
	raw, err := models.EncodeDocument(doc)
	if err != nil {
		return storeError(err, "encode "+doc.Key.String())
	}
	return storeError(b.tx.Bucket(docsBucket).Put([]byte(doc.Key.String()), raw), "put "+doc.Key.String())
}

func (b boltTx) Delete(_ context.Context, key models.Key) error {
	return storeError(b.tx.Bucket(docsBucket).Delete([]byte(key.String())), "delete "+key.String())
}

func (b boltTx) SetCluster(_ context.Context, key models.Key, clusterPid string) error {
	bucket := b.tx.Bucket(linksBucket)
	if clusterPid == "" {
		return storeError(bucket.Delete([]byte(key.String())), "unlink "+key.String())
	}
	return storeError(bucket.Put([]byte(key.String()), []byte(clusterPid)), "link "+key.String())
}

func (b boltTx) NextPid(_ context.Context, kind models.Kind) (string, error) {
	bucket, err := b.tx.Bucket(seqBucket).CreateBucketIfNotExists([]byte(kind))
	if err != nil {
		return "", storeError(err, "sequence "+string(kind))
	}
	n, err := bucket.NextSequence()
	if err != nil {
		return "", storeError(err, "sequence "+string(kind))
	}
	return strconv.FormatUint(n, 10), nil
}

func (s *Bolt) Update(ctx context.Context, fn func(ctx context.Context, tx Writer) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(ctx, boltTx{tx: tx})
	})
}

func (s *Bolt) view(fn func(boltTx) error) error {
	return s.db.View(func(tx *bolt.Tx) error { return fn(boltTx{tx: tx}) })
}

func (s *Bolt) Get(ctx context.Context, key models.Key) (doc *models.Document, err error) {
	err = s.view(func(tx boltTx) error {
		doc, err = tx.Get(ctx, key)
		return err
	})
	return doc, err
}

func (s *Bolt) ClusterOf(ctx context.Context, key models.Key) (pid string, err error) {
	err = s.view(func(tx boltTx) error {
		pid, err = tx.ClusterOf(ctx, key)
		return err
	})
	return pid, err
}

func (s *Bolt) Put(ctx context.Context, doc *models.Document) error {
	return s.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.Put(ctx, doc) })
}

func (s *Bolt) Delete(ctx context.Context, key models.Key) error {
	return s.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.Delete(ctx, key) })
}

func (s *Bolt) SetCluster(ctx context.Context, key models.Key, clusterPid string) error {
	return s.Update(ctx, func(ctx context.Context, tx Writer) error { return tx.SetCluster(ctx, key, clusterPid) })
}

func (s *Bolt) NextPid(ctx context.Context, kind models.Kind) (pid string, err error) {
	err = s.Update(ctx, func(ctx context.Context, tx Writer) error {
		pid, err = tx.NextPid(ctx, kind)
		return err
	})
	return pid, err
}

// Scan reads in pages so fn may run other store operations.
func (s *Bolt) Scan(ctx context.Context, kind models.Kind, source models.Source, fn func(*models.Document) error) error {
	prefix := []byte(string(kind) + "/" + string(source) + "/")
	cursor := prefix
	const page = 500
	for {
		var batch []*models.Document
		err := s.view(func(tx boltTx) error {
			c := tx.tx.Bucket(docsBucket).Cursor()
			k, v := c.Seek(cursor)
			if bytes.Equal(k, cursor) && !bytes.Equal(cursor, prefix) {
				k, v = c.Next()
			}
			for ; k != nil && bytes.HasPrefix(k, prefix) && len(batch) < page; k, v = c.Next() {
				key := models.NewKey(kind, source, string(k[len(prefix):]))
				doc, err := models.DecodeDocument(key, v)
				if err != nil {
					return storeError(err, "decode "+key.String())
				}
				batch = append(batch, doc)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, d := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(d); err != nil {
				return err
			}
		}
		if len(batch) < page {
			return nil
		}
		cursor = []byte(batch[len(batch)-1].Key.String())
	}
}

func (s *Bolt) GetMeta(_ context.Context, name string) (value []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get([]byte(name)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

func (s *Bolt) PutMeta(_ context.Context, name string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put([]byte(name), value)
	})
}

func (s *Bolt) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Bolt) Close() error { return s.db.Close() }
