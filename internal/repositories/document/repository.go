package document

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/mef/pkg/database"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// Row is one documents table row.
type Row struct {
	Kind      string                         `db:"kind"`
	Source    string                         `db:"source"`
	Pid       string                         `db:"pid"`
	Data      database.JSONB[map[string]any] `db:"data"`
	CreatedAt time.Time                      `db:"created_at"`
	UpdatedAt time.Time                      `db:"updated_at"`
}

// Repository handles document, cluster link, sequence and meta persistence.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// DB exposes the underlying database handle for transactional operations.
func (r *Repository) DB() database.DB {
	return r.db
}

// Get retrieves one document.
func (r *Repository) Get(ctx context.Context, kind, source, pid string) (*Row, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("kind", "source", "pid", "data", "created_at", "updated_at")
	sb.From("documents")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("source", source),
		sb.Equal("pid", pid),
	)

	query, args := sb.Build()
	var row Row
	if err := r.db.Querier(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("document %s/%s/%s not found", kind, source, pid))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get document")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get document")
	}
	return &row, nil
}

// Upsert writes a document, replacing data and timestamps on conflict.
func (r *Repository) Upsert(ctx context.Context, row *Row) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.Upsert")
	defer span.End()

	query, args := database.Upsert("documents",
		[]string{"kind", "source", "pid"},
		[]string{"data", "created_at", "updated_at"},
		[]string{"kind", "source", "pid", "data", "created_at", "updated_at"},
		row.Kind, row.Source, row.Pid, row.Data, row.CreatedAt, row.UpdatedAt,
	)
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"pid": row.Pid}).Error("Failed to upsert document")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert document")
	}
	return nil
}

// Delete removes a document.
func (r *Repository) Delete(ctx context.Context, kind, source, pid string) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("documents")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("source", source),
		sb.Equal("pid", pid),
	)

	query, args := sb.Build()
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete document")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete document")
	}
	return nil
}

// List returns up to limit documents of (kind, source) with pid > after, in pid order.
func (r *Repository) List(ctx context.Context, kind, source, after string, limit int) ([]Row, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("kind", "source", "pid", "data", "created_at", "updated_at")
	sb.From("documents")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("source", source),
		sb.GreaterThan("pid", after),
	)
	sb.OrderBy("pid").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []Row
	if err := r.db.Querier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list documents")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list documents")
	}
	return rows, nil
}

// GetLink returns the cluster pid of a source record, or "".
func (r *Repository) GetLink(ctx context.Context, kind, source, pid string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.GetLink")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("cluster_pid")
	sb.From("cluster_links")
	sb.Where(
		sb.Equal("kind", kind),
		sb.Equal("source", source),
		sb.Equal("pid", pid),
	)

	query, args := sb.Build()
	var clusterPid string
	if err := r.db.Querier(ctx).GetContext(ctx, &clusterPid, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get cluster link")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to get cluster link")
	}
	return clusterPid, nil
}

// SetLink links a source record to a cluster; an empty clusterPid removes the link.
func (r *Repository) SetLink(ctx context.Context, kind, source, pid, clusterPid string) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.SetLink")
	defer span.End()

	var (
		query string
		args  []any
	)
	if clusterPid == "" {
		sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		sb.DeleteFrom("cluster_links")
		sb.Where(sb.Equal("kind", kind), sb.Equal("source", source), sb.Equal("pid", pid))
		query, args = sb.Build()
	} else {
		query, args = database.Upsert("cluster_links",
			[]string{"kind", "source", "pid"},
			[]string{"cluster_pid"},
			[]string{"kind", "source", "pid", "cluster_pid"},
			kind, source, pid, clusterPid,
		)
	}
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set cluster link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set cluster link")
	}
	return nil
}

// NextSequence increments and returns the pid counter of kind.
func (r *Repository) NextSequence(ctx context.Context, kind string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.NextSequence")
	defer span.End()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("pid_sequences")
	ib.Cols("kind", "value")
	ib.Values(kind, 1)
	ib.SQL("ON CONFLICT (kind) DO UPDATE SET value = pid_sequences.value + 1 RETURNING value")

	query, args := ib.Build()
	var value int64
	if err := r.db.Querier(ctx).GetContext(ctx, &value, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to advance pid sequence")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to advance pid sequence")
	}
	return value, nil
}

// GetMeta returns nil for unknown names.
func (r *Repository) GetMeta(ctx context.Context, name string) ([]byte, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("value")
	sb.From("meta")
	sb.Where(sb.Equal("name", name))

	query, args := sb.Build()
	var value []byte
	if err := r.db.Querier(ctx).GetContext(ctx, &value, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get meta")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get meta")
	}
	return value, nil
}

func (r *Repository) PutMeta(ctx context.Context, name string, value []byte) error {
	query, args := database.Upsert("meta",
		[]string{"name"},
		[]string{"value", "updated_at"},
		[]string{"name", "value", "updated_at"},
		name, value, time.Now().UTC(),
	)
	if _, err := r.db.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to put meta")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to put meta")
	}
	return nil
}
