package viaf

import (
	"context"
	"io"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/mef/pkg/cluster"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/record"
	"github.com/Ramsey-B/mef/pkg/store"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// Service stores VIAF records and re-clusters the agents they list.
type Service struct {
	records  *record.Engine
	clusters *cluster.Engine
	store    store.Store
	logger   ectologger.Logger
}

func NewService(records *record.Engine, clusters *cluster.Engine, s store.Store, logger ectologger.Logger) *Service {
	return &Service{records: records, clusters: clusters, store: s, logger: logger}
}

func key(pid string) models.Key {
	return models.NewKey(models.KindAgents, models.SourceVIAF, pid)
}

// Ingest creates or updates the VIAF record of row. Every agent listed before or
// after the change is clustered again; agents the row no longer lists are split
// off the VIAF cluster.
func (s *Service) Ingest(ctx context.Context, row Row) (models.Action, *cluster.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "viaf.Service.Ingest")
	defer span.End()

	old, err := s.previous(ctx, row.Pid)
	if err != nil {
		return "", nil, err
	}
	res, err := s.records.CreateOrUpdate(ctx, models.KindAgents, models.SourceVIAF, row.Data(), record.DefaultOptions)
	if err != nil {
		return "", nil, err
	}
	if !res.Written() {
		return res.Action, &cluster.Outcome{}, nil
	}
	out, err := s.recluster(ctx, row.Pid, old, row)
	if err != nil {
		return "", out, s.revert(ctx, res, err)
	}
	return res.Action, out, nil
}

// Delete tombstones the VIAF record and splits off every agent it listed.
func (s *Service) Delete(ctx context.Context, viafPid string) (models.Action, *cluster.Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "viaf.Service.Delete")
	defer span.End()

	old, err := s.previous(ctx, viafPid)
	if err != nil {
		return "", nil, err
	}
	res, err := s.records.Delete(ctx, key(viafPid))
	if err != nil {
		return "", nil, err
	}
	if !res.Written() {
		return res.Action, &cluster.Outcome{}, nil
	}
	out, err := s.recluster(ctx, viafPid, old, Row{Pid: viafPid})
	if err != nil {
		return "", out, s.revert(ctx, res, err)
	}
	return res.Action, out, nil
}

// revert restores the VIAF record after a failed recluster, so applying the
// same change again reclusters instead of finding the record up to date.
func (s *Service) revert(ctx context.Context, res *record.Result, cause error) error {
	if err := s.records.Revert(context.WithoutCancel(ctx), res); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to revert VIAF record after cluster failure")
		return err
	}
	return cause
}

func (s *Service) previous(ctx context.Context, viafPid string) (Row, error) {
	doc, err := store.Find(ctx, s.store, key(viafPid))
	if err != nil || doc == nil {
		return Row{Pid: viafPid}, err
	}
	return RowOf(doc), nil
}

func (s *Service) recluster(ctx context.Context, viafPid string, old, new Row) (*cluster.Outcome, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{"viaf_pid": viafPid})
	out := &cluster.Outcome{}

	keys, removed := Affected(old, new)
	for _, sp := range keys {
		k := models.NewKey(models.KindAgents, sp.Source, sp.Pid)
		if removed[sp] {
			step, err := s.clusters.Split(ctx, k, viafPid)
			if err != nil {
				log.WithError(err).WithFields(map[string]any{"source": sp.Source, "pid": sp.Pid}).Error("Failed to split agent")
				return out, err
			}
			out.Add(step)
			continue
		}
		latest, err := record.Follow(ctx, s.store, k, s.records.MaxDepth())
		if mefErrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		if latest.State() != models.StateLive {
			continue
		}
		step, err := s.clusters.Sync(ctx, latest)
		if err != nil {
			log.WithError(err).WithFields(map[string]any{"source": sp.Source, "pid": sp.Pid}).Error("Failed to cluster agent")
			return out, err
		}
		out.Add(step)
	}
	return out, nil
}

// Counts summarizes a dump load.
type Counts struct {
	Rows   int `json:"rows"`
	Counts models.Counters
}

// Parser is a dump format.
type Parser func(r io.Reader, fn func(Row) error) error

// Load ingests every row parse yields from r. Rows failing with a record level
// error are counted and skipped; store errors abort the load.
func (s *Service) Load(ctx context.Context, r io.Reader, parse Parser, onOutcome func(*cluster.Outcome)) (Counts, error) {
	ctx, span := tracing.StartSpan(ctx, "viaf.Service.Load")
	defer span.End()

	var counts Counts
	err := parse(r, func(row Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		counts.Rows++
		counts.Counts.Received++
		action, out, err := s.Ingest(ctx, row)
		if err != nil {
			counts.Counts.Errors++
			if mefErrors.IsStoreError(err) {
				return err
			}
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"viaf_pid": row.Pid}).Warn("Skipping VIAF row")
			return nil
		}
		counts.Counts.Count(action)
		metrics.RecordViafDelta(string(action))
		if onOutcome != nil && out != nil {
			onOutcome(out)
		}
		return nil
	})
	s.logger.WithContext(ctx).WithFields(counts.Counts.Map()).Info("VIAF load finished")
	return counts, err
}
