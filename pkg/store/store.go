// Package store persists source records, MEF clusters and VIAF records as JSON
// documents keyed by (kind, source, pid), together with the (kind, source, pid) to
// cluster pid link index.
package store

import (
	"context"

	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/models"
)

// Reader looks documents and cluster links up.
type Reader interface {
	// Get returns a copy of the document or a NOT_FOUND error.
	Get(ctx context.Context, key models.Key) (*models.Document, error)
	// ClusterOf returns the cluster pid key belongs to, or "".
	ClusterOf(ctx context.Context, key models.Key) (string, error)
}

// Writer mutates documents and links.
type Writer interface {
	Reader
	Put(ctx context.Context, doc *models.Document) error
	Delete(ctx context.Context, key models.Key) error
	// SetCluster links key to clusterPid; an empty clusterPid removes the link.
	SetCluster(ctx context.Context, key models.Key, clusterPid string) error
	// NextPid mints the next MEF pid of kind.
	NextPid(ctx context.Context, kind models.Kind) (string, error)
}

// Store is a transactional document store. Operations outside Update commit on
// their own.
type Store interface {
	Writer
	// Update runs fn in one transaction. fn must only use the ctx and Writer it is
	// given; the transaction commits when fn returns nil.
	Update(ctx context.Context, fn func(ctx context.Context, tx Writer) error) error
	// Scan visits the documents of (kind, source) in pid order.
	Scan(ctx context.Context, kind models.Kind, source models.Source, fn func(*models.Document) error) error
	// GetMeta returns nil when name was never written.
	GetMeta(ctx context.Context, name string) ([]byte, error)
	PutMeta(ctx context.Context, name string, value []byte) error
	Ping(ctx context.Context) error
	Close() error
}

func notFound(key models.Key) error {
	return mefErrors.Newf(mefErrors.CodeNotFound, "%s not found", key).WithRecord(string(key.Kind), string(key.Source), key.Pid)
}

func storeError(err error, msg string) error {
	if err == nil || mefErrors.CodeOf(err) != "" {
		return err
	}
	return mefErrors.Wrap(mefErrors.CodeStoreError, err, msg)
}

// Find is Get returning (nil, nil) for missing documents.
func Find(ctx context.Context, r Reader, key models.Key) (*models.Document, error) {
	doc, err := r.Get(ctx, key)
	if mefErrors.IsNotFound(err) {
		return nil, nil
	}
	return doc, err
}
