// Package coordinator runs one incoming MARC record through transformation, the
// record lifecycle and clustering, committing both or neither.
package coordinator

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/sethvargo/go-retry"

	"github.com/Ramsey-B/mef/pkg/cluster"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/events"
	"github.com/Ramsey-B/mef/pkg/graph"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/record"
	"github.com/Ramsey-B/mef/pkg/tracing"
	"github.com/Ramsey-B/mef/pkg/transform"
)

// Config holds the coordinator settings.
type Config struct {
	BaseURL string
	// StoreRetries bounds the retries of a record failing with STORE_ERROR.
	StoreRetries int
	RetryBase    time.Duration
}

// Result is the outcome of one record.
type Result struct {
	Action  models.Action
	Record  *models.Document
	Outcome *cluster.Outcome
}

// Coordinator is safe for concurrent use when its engines are.
type Coordinator struct {
	registry  *transform.Registry
	records   *record.Engine
	clusters  *cluster.Engine
	enrichers []Enricher
	events    events.Sink
	projector graph.Projector
	logger    ectologger.Logger
	cfg       Config
	now       func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithEnrichers(es ...Enricher) Option {
	return func(c *Coordinator) { c.enrichers = append(c.enrichers, es...) }
}

func WithEvents(sink events.Sink) Option {
	return func(c *Coordinator) { c.events = sink }
}

func WithProjector(p graph.Projector) Option {
	return func(c *Coordinator) { c.projector = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(registry *transform.Registry, records *record.Engine, clusters *cluster.Engine, logger ectologger.Logger, cfg Config, opts ...Option) *Coordinator {
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	c := &Coordinator{
		registry:  registry,
		records:   records,
		clusters:  clusters,
		events:    events.Noop{},
		projector: graph.Noop{},
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process transforms rec and stores it. Records the transformer does not target
// are DISCARD. Record level failures come back as typed errors for the caller
// to count; MISCONFIGURATION and exhausted STORE_ERROR retries are fatal to the
// caller's window.
func (c *Coordinator) Process(ctx context.Context, source models.Source, kind models.Kind, rec *marc.Record) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.Coordinator.Process")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  source,
		"kind":    kind,
		"control": rec.Control("001"),
	})

	data, skipped, err := c.registry.Transform(source, kind, rec, transform.Options{Now: c.now, BaseURL: c.cfg.BaseURL})
	if err != nil {
		if !mefErrors.IsMisconfiguration(err) {
			log.WithError(err).Warn("Failed to transform record")
			metrics.RecordError(string(source), string(kind), string(mefErrors.CodeOf(err)))
		}
		return nil, err
	}
	if skipped {
		metrics.RecordAction(string(source), string(kind), string(models.ActionDiscard))
		return &Result{Action: models.ActionDiscard}, nil
	}

	for _, e := range c.enrichers {
		if err := e.Enrich(ctx, kind, source, data); err != nil {
			// Enrichment is best effort.
			log.WithError(err).WithFields(map[string]any{"enricher": e.Name()}).Warn("Enrichment failed")
		}
	}

	return c.commit(ctx, source, kind, func(ctx context.Context) (*record.Result, error) {
		return c.records.CreateOrUpdate(ctx, kind, source, models.CloneMap(data), record.DefaultOptions)
	})
}

// Delete tombstones a source record, for OAI headers with status="deleted".
func (c *Coordinator) Delete(ctx context.Context, source models.Source, kind models.Kind, pid string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.Coordinator.Delete")
	defer span.End()

	if !c.registry.Has(source, kind) {
		return nil, mefErrors.Newf(mefErrors.CodeMisconfiguration, "no transformer for %s %s", source, kind)
	}
	return c.commit(ctx, source, kind, func(ctx context.Context) (*record.Result, error) {
		return c.records.Delete(ctx, models.NewKey(kind, source, pid))
	})
}

// commit writes the record, then the clusters. A failing cluster write reverts
// the record so the next attempt starts from the previous state.
func (c *Coordinator) commit(ctx context.Context, source models.Source, kind models.Kind, write func(ctx context.Context) (*record.Result, error)) (*Result, error) {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"source": source, "kind": kind})

	var (
		res *record.Result
		out *cluster.Outcome
	)
	backoff := retry.WithMaxRetries(uint64(c.cfg.StoreRetries), retry.NewExponential(c.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		out = nil
		if res, err = write(ctx); err != nil {
			return retryable(err)
		}
		if !res.Written() {
			return nil
		}
		if out, err = c.clusters.Apply(ctx, res); err != nil {
			if rerr := c.records.Revert(context.WithoutCancel(ctx), res); rerr != nil {
				log.WithError(rerr).Error("Failed to revert record after cluster failure")
				return rerr
			}
			return retryable(err)
		}
		return nil
	})
	if err != nil {
		metrics.RecordError(string(source), string(kind), string(mefErrors.CodeOf(err)))
		log.WithError(err).Warn("Failed to store record")
		return nil, err
	}

	result := &Result{Action: res.Action, Record: res.Record, Outcome: out}
	metrics.RecordAction(string(source), string(kind), string(res.Action))
	c.Publish(ctx, out)
	return result, nil
}

func retryable(err error) error {
	if mefErrors.IsStoreError(err) {
		return retry.RetryableError(err)
	}
	return err
}

// Publish hands committed changes to the side outputs. They never fail the
// record: the store is the source of truth and both outputs are rebuilt from it.
func (c *Coordinator) Publish(ctx context.Context, out *cluster.Outcome) {
	if out == nil || len(out.Changes) == 0 {
		return
	}
	for _, change := range out.Changes {
		metrics.RecordClusterChange(string(change.Kind), string(change.Type))
		if change.Type == cluster.ChangeNeedsReview {
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"kind":       change.Kind,
				"cluster":    change.Pid,
				"conflict":   change.Into,
				"source":     change.Source,
				"source_pid": change.SourcePid,
			}).Warn("Cluster needs review")
		}
	}
	if err := c.events.Emit(ctx, out.Changes); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to emit cluster events")
	}
	if err := c.projector.Project(ctx, out.Clusters); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to project clusters")
	}
}
