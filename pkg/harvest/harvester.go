// Package harvest drives windowed OAI-PMH harvests through the coordinator.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/sethvargo/go-retry"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/pkg/coordinator"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/marc"
	"github.com/Ramsey-B/mef/pkg/metrics"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/oai"
	"github.com/Ramsey-B/mef/pkg/store"
	"github.com/Ramsey-B/mef/pkg/tracing"
)

// Lister fetches ListRecords pages.
type Lister interface {
	ListRecords(ctx context.Context, req oai.Request) (*oai.Page, error)
}

// Processor stores harvested records.
type Processor interface {
	Process(ctx context.Context, source models.Source, kind models.Kind, rec *marc.Record) (*coordinator.Result, error)
	Delete(ctx context.Context, source models.Source, kind models.Kind, pid string) (*coordinator.Result, error)
}

// Config holds the harvest settings.
type Config struct {
	Span          time.Duration
	Retries       int
	RetryBase     time.Duration
	WindowTimeout time.Duration
	// SnapshotDir enables writing the raw MARCXML of every window.
	SnapshotDir string
}

// Harvester is safe for concurrent use across (source, kind) pairs.
type Harvester struct {
	lister    Lister
	processor Processor
	sources   config.Sources
	store     store.Store
	logger    ectologger.Logger
	cfg       Config
	// drain runs before every window; VIAF deltas take priority over records.
	drain func(ctx context.Context) error
	now   func() time.Time
}

// Option customizes a Harvester.
type Option func(*Harvester)

// WithDrain runs fn before each window.
func WithDrain(fn func(ctx context.Context) error) Option {
	return func(h *Harvester) { h.drain = fn }
}

func WithClock(now func() time.Time) Option {
	return func(h *Harvester) { h.now = now }
}

func New(lister Lister, processor Processor, sources config.Sources, s store.Store, logger ectologger.Logger, cfg Config, opts ...Option) *Harvester {
	if cfg.Span <= 0 {
		cfg.Span = 30 * 24 * time.Hour
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	h := &Harvester{
		lister:    lister,
		processor: processor,
		sources:   sources,
		store:     s,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func lastRunKey(source models.Source, kind models.Kind) string {
	return fmt.Sprintf("harvest:%s:%s", source, kind)
}

type lastRun struct {
	Until time.Time `json:"until"`
}

// LastRun returns the end of the last completed window, or the zero time.
func (h *Harvester) LastRun(ctx context.Context, source models.Source, kind models.Kind) (time.Time, error) {
	raw, err := h.store.GetMeta(ctx, lastRunKey(source, kind))
	if err != nil || raw == nil {
		return time.Time{}, err
	}
	var lr lastRun
	if err := json.Unmarshal(raw, &lr); err != nil {
		return time.Time{}, mefErrors.Wrap(mefErrors.CodeStoreError, err, "decode last run")
	}
	return lr.Until, nil
}

func (h *Harvester) setLastRun(ctx context.Context, source models.Source, kind models.Kind, until time.Time) error {
	raw, err := json.Marshal(lastRun{Until: until})
	if err != nil {
		return err
	}
	return h.store.PutMeta(ctx, lastRunKey(source, kind), raw)
}

// Harvest runs the windows of [from, until). A nil from starts at the last run,
// or one span ago; a nil until means now. The first aborted window stops the
// harvest so that the last run stays contiguous.
func (h *Harvester) Harvest(ctx context.Context, source models.Source, kind models.Kind, from, until *time.Time) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "harvest.Harvester.Harvest")
	defer span.End()

	if _, _, ok := h.sources.Feed(source, kind); !ok {
		return nil, mefErrors.Newf(mefErrors.CodeMisconfiguration, "no feed configured for %s %s", source, kind)
	}

	end := h.now()
	if until != nil {
		end = *until
	}
	var start time.Time
	if from != nil {
		start = *from
	} else {
		last, err := h.LastRun(ctx, source, kind)
		if err != nil {
			return nil, err
		}
		start = last
		if start.IsZero() {
			start = end.Add(-h.cfg.Span)
		}
	}

	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"source": source,
		"kind":   kind,
		"from":   start.Format(time.RFC3339),
		"until":  end.Format(time.RFC3339),
	})
	log.Info("Harvest started")

	report := &Report{Source: source, Kind: kind}
	for _, w := range Windows(start, end, h.cfg.Span) {
		wr, err := h.RunWindow(ctx, source, kind, w)
		report.add(wr)
		if err != nil {
			log.WithError(err).WithFields(wr.Counters.Map()).Error("Harvest window aborted")
			return report, err
		}
		if err := h.setLastRun(ctx, source, kind, w.Until); err != nil {
			return report, err
		}
	}

	log.WithFields(report.Counters.Map()).Info("Harvest finished")
	return report, nil
}

// RunWindow harvests one window of every set of the feed.
func (h *Harvester) RunWindow(ctx context.Context, source models.Source, kind models.Kind, w Window) (WindowReport, error) {
	ctx, span := tracing.StartSpan(ctx, "harvest.Harvester.RunWindow")
	defer span.End()

	report := WindowReport{Window: w}
	sc, feed, ok := h.sources.Feed(source, kind)
	if !ok {
		return report, mefErrors.Newf(mefErrors.CodeMisconfiguration, "no feed configured for %s %s", source, kind)
	}

	started := time.Now()
	status := "success"
	var snapshot []*marc.Record
	defer func() {
		if report.Partial {
			status = "aborted"
		}
		metrics.RecordHarvestWindow(string(source), string(kind), status, time.Since(started).Seconds())
	}()

	if h.drain != nil {
		if err := h.drain(ctx); err != nil {
			report.Partial, report.Error = true, err.Error()
			return report, err
		}
	}

	if h.cfg.WindowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.WindowTimeout)
		defer cancel()
	}

	sets := feed.Sets
	if len(sets) == 0 {
		sets = []string{""}
	}
	var runErr error
	for _, set := range sets {
		req := oai.Request{
			Source:         string(source),
			BaseURL:        sc.Endpoint,
			MetadataPrefix: feed.MetadataPrefix,
			Set:            set,
			From:           w.From,
			// OAI until is inclusive at day granularity.
			Until: w.Until.Add(-24 * time.Hour),
		}
		if !req.Until.After(req.From) {
			req.Until = req.From
		}
		if runErr = h.runSet(ctx, source, kind, req, &report.Counters, &snapshot); runErr != nil {
			break
		}
	}

	if h.cfg.SnapshotDir != "" && len(snapshot) > 0 {
		path, err := h.writeSnapshot(source, kind, w, snapshot)
		if err != nil {
			h.logger.WithContext(ctx).WithError(err).Warn("Failed to write snapshot")
		}
		report.Snapshot = path
	}

	if runErr != nil {
		report.Partial, report.Error = true, runErr.Error()
		return report, runErr
	}
	return report, nil
}

func (h *Harvester) runSet(ctx context.Context, source models.Source, kind models.Kind, req oai.Request, counters *models.Counters, snapshot *[]*marc.Record) error {
	for {
		page, err := h.fetch(ctx, req)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rec.Metadata != nil && h.cfg.SnapshotDir != "" {
				*snapshot = append(*snapshot, rec.Metadata)
			}
			if err := h.handle(ctx, source, kind, rec, counters); err != nil {
				return err
			}
		}
		if page.ResumptionToken == "" {
			return nil
		}
		req.ResumptionToken = page.ResumptionToken
	}
}

// fetch retries REMOTE_TRANSIENT failures with exponential backoff.
func (h *Harvester) fetch(ctx context.Context, req oai.Request) (*oai.Page, error) {
	var page *oai.Page
	backoff := retry.WithMaxRetries(uint64(h.cfg.Retries), retry.NewExponential(h.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		page, err = h.lister.ListRecords(ctx, req)
		if mefErrors.IsRemoteTransient(err) {
			h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source": req.Source}).Warn("Retrying OAI request")
			return retry.RetryableError(err)
		}
		return err
	})
	return page, err
}

// handle processes one harvested item. Record level failures are counted; store
// and configuration failures abort the window.
func (h *Harvester) handle(ctx context.Context, source models.Source, kind models.Kind, rec oai.Record, counters *models.Counters) error {
	counters.Received++

	var (
		res *coordinator.Result
		err error
	)
	switch {
	case rec.Header.Deleted():
		res, err = h.processor.Delete(ctx, source, kind, rec.Header.Pid())
	case rec.Metadata == nil:
		counters.Discarded++
		return nil
	default:
		res, err = h.processor.Process(ctx, source, kind, rec.Metadata)
	}
	if err != nil {
		counters.Errors++
		if fatal(err) {
			return err
		}
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source":     source,
			"kind":       kind,
			"identifier": rec.Header.Identifier,
		}).Warn("Skipping record")
		return nil
	}
	counters.Count(res.Action)
	return nil
}

func fatal(err error) bool {
	return mefErrors.IsStoreError(err) || mefErrors.IsMisconfiguration(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (h *Harvester) writeSnapshot(source models.Source, kind models.Kind, w Window, recs []*marc.Record) (string, error) {
	if err := os.MkdirAll(h.cfg.SnapshotDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s-%s-%s.xml", source, kind, w.From.Format("20060102"), w.Until.Format("20060102"))
	path := filepath.Join(h.cfg.SnapshotDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := marc.EncodeCollection(f, recs); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// Replay feeds the records of a snapshot through the processor.
func (h *Harvester) Replay(ctx context.Context, source models.Source, kind models.Kind, r io.Reader) (models.Counters, error) {
	ctx, span := tracing.StartSpan(ctx, "harvest.Harvester.Replay")
	defer span.End()

	var counters models.Counters
	err := marc.DecodeAll(r, func(rec *marc.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return h.handle(ctx, source, kind, oai.Record{Metadata: rec}, &counters)
	})
	h.logger.WithContext(ctx).WithFields(counters.Map()).Info("Replay finished")
	return counters, err
}
