package store

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/mef/internal/repositories/document"
	"github.com/Ramsey-B/mef/pkg/database"
	"github.com/Ramsey-B/mef/pkg/models"
)

const scanPage = 500

// Postgres stores documents in the documents table. Inside Update the transaction
// travels in ctx, so the store itself is the Writer handed to fn.
type Postgres struct {
	repo *document.Repository
}

func NewPostgres(repo *document.Repository) *Postgres {
	return &Postgres{repo: repo}
}

func repoError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
		return err
	}
	return storeError(err, msg)
}

func (p *Postgres) Update(ctx context.Context, fn func(ctx context.Context, tx Writer) error) error {
	return database.WithTx(ctx, p.repo.DB(), func(ctx context.Context) error {
		return fn(ctx, p)
	})
}

func (p *Postgres) Get(ctx context.Context, key models.Key) (*models.Document, error) {
	row, err := p.repo.Get(ctx, string(key.Kind), string(key.Source), key.Pid)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil, notFound(key)
		}
		return nil, storeError(err, "get "+key.String())
	}
	return rowDocument(key, row), nil
}

func rowDocument(key models.Key, row *document.Row) *models.Document {
	return &models.Document{
		Key:     key,
		Data:    row.Data.GetValue(),
		Created: row.CreatedAt.UTC(),
		Updated: row.UpdatedAt.UTC(),
	}
}

func (p *Postgres) ClusterOf(ctx context.Context, key models.Key) (string, error) {
	pid, err := p.repo.GetLink(ctx, string(key.Kind), string(key.Source), key.Pid)
	return pid, repoError(err, "cluster of "+key.String())
}

func (p *Postgres) Put(ctx context.Context, doc *models.Document) error {
	row := &document.Row{
		Kind:      string(doc.Key.Kind),
		Source:    string(doc.Key.Source),
		Pid:       doc.Key.Pid,
		Data:      database.JSONB[map[string]any]{Data: doc.Data},
		CreatedAt: doc.Created,
		UpdatedAt: doc.Updated,
	}
	return repoError(p.repo.Upsert(ctx, row), "put "+doc.Key.String())
}

func (p *Postgres) Delete(ctx context.Context, key models.Key) error {
	return repoError(p.repo.Delete(ctx, string(key.Kind), string(key.Source), key.Pid), "delete "+key.String())
}

func (p *Postgres) SetCluster(ctx context.Context, key models.Key, clusterPid string) error {
	return repoError(p.repo.SetLink(ctx, string(key.Kind), string(key.Source), key.Pid, clusterPid), "link "+key.String())
}

func (p *Postgres) NextPid(ctx context.Context, kind models.Kind) (string, error) {
	n, err := p.repo.NextSequence(ctx, string(kind))
	if err != nil {
		return "", repoError(err, "sequence "+string(kind))
	}
	return strconv.FormatInt(n, 10), nil
}

func (p *Postgres) Scan(ctx context.Context, kind models.Kind, source models.Source, fn func(*models.Document) error) error {
	after := ""
	for {
		rows, err := p.repo.List(ctx, string(kind), string(source), after, scanPage)
		if err != nil {
			return repoError(err, "scan "+string(kind)+"/"+string(source))
		}
		for i := range rows {
			if err := fn(rowDocument(models.NewKey(kind, source, rows[i].Pid), &rows[i])); err != nil {
				return err
			}
		}
		if len(rows) < scanPage {
			return nil
		}
		after = rows[len(rows)-1].Pid
	}
}

func (p *Postgres) GetMeta(ctx context.Context, name string) ([]byte, error) {
	v, err := p.repo.GetMeta(ctx, name)
	return v, repoError(err, "meta "+name)
}

func (p *Postgres) PutMeta(ctx context.Context, name string, value []byte) error {
	return repoError(p.repo.PutMeta(ctx, name, value), "meta "+name)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return repoError(p.repo.DB().PingContext(ctx), "ping")
}

func (p *Postgres) Close() error {
	return p.repo.DB().Close()
}
